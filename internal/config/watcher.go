// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/rigchat/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 200 * time.Millisecond

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the config file when it changes and hands the new
// [stream] section to OnStream. Edits that fail to load or validate are
// logged and ignored, keeping the previous values.
type Watcher struct {
	path     string
	onStream func(StreamConfig)
	log      *logging.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	last    StreamConfig
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// NewWatcher watches path. current is the [stream] section already in
// effect; reloads that leave it unchanged do not call onStream.
func NewWatcher(path string, current StreamConfig, onStream func(StreamConfig), log *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     filepath.Clean(path),
		onStream: onStream,
		log:      log.Component("config"),
		debounce: DefaultDebounce,
		watcher:  fw,
		last:     current,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Watch starts watching. The parent directory is watched rather than the
// file so editors that replace the file on save are still seen.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.started.Store(true)
	go w.processEvents()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	if w.started.Load() {
		<-w.done
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config_watch_error")
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config_reload_rejected")
		return
	}

	w.mu.Lock()
	changed := cfg.Stream != w.last
	w.last = cfg.Stream
	w.mu.Unlock()

	if !changed {
		return
	}
	w.log.Info().
		Int("flush_threshold", cfg.Stream.FlushThreshold).
		Dur("fragment_delay", cfg.Stream.FragmentDelay).
		Dur("flush_delay", cfg.Stream.FlushDelay).
		Msg("stream_pacing_reloaded")
	if w.onStream != nil {
		w.onStream(cfg.Stream)
	}
}
