// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/notify"
)

// maxEventKeys bounds the channels one event stream may follow.
const maxEventKeys = 16

// handleEvents streams hub events for the requested channel keys as
// server-sent events:
//
//	GET /events?key=chat:1:ai_messages&key=message:7
//
// Each event carries the notification kind as the SSE event name and the
// JSON-encoded notify.Event as data. Comment lines keep idle connections
// open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	keys, err := eventKeys(r)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "key", err.Error())
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would cut long streams
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.log.Debug().Err(err).Msg("events_deadline")
	}

	sub := s.deps.Hub.Subscribe(keys...)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": subscribed %s\n\n", strings.Join(keyStrings(keys), " "))
	if err := rc.Flush(); err != nil {
		return
	}

	s.log.Debug().Strs("keys", keyStrings(keys)).Msg("events_subscribed")
	defer s.log.Debug().Strs("keys", keyStrings(keys)).Msg("events_closed")

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return

		case <-s.streams.Done():
			return

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			seq++
			if err := writeEvent(w, seq, ev); err != nil {
				s.log.Debug().Err(err).Msg("events_write_failed")
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one SSE frame.
func writeEvent(w io.Writer, id uint64, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Kind, data)
	return err
}

func eventKeys(r *http.Request) ([]notify.ChannelKey, error) {
	raw := r.URL.Query()["key"]
	if len(raw) == 0 {
		return nil, errors.New("at least one key is required")
	}
	if len(raw) > maxEventKeys {
		return nil, fmt.Errorf("at most %d keys are allowed", maxEventKeys)
	}

	seen := make(map[string]bool, len(raw))
	keys := make([]notify.ChannelKey, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, errors.New("empty key")
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, notify.ChannelKey(k))
	}
	return keys, nil
}

func keyStrings(keys []notify.ChannelKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
