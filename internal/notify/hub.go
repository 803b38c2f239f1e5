// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

// Hub fans events out to in-process subscribers. Each subscription has a
// bounded queue; when it is full the event is dropped for that subscriber
// and counted.
//
// Hub is safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[ChannelKey]map[*Subscription]struct{}
	buffer int

	dropped   atomic.Uint64
	delivered atomic.Uint64

	// OnDrop, if set, is called for every dropped event.
	OnDrop func(key ChannelKey)

	now func() time.Time
}

// NewHub creates a hub with the given per-subscription buffer
// (DefaultBuffer when <= 0).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[ChannelKey]map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscription receives events for one or more channel keys.
type Subscription struct {
	hub  *Hub
	keys []ChannelKey
	ch   chan Event
	once sync.Once
}

// Subscribe registers a subscription for the given keys. The caller must
// Close it.
func (h *Hub) Subscribe(keys ...ChannelKey) *Subscription {
	sub := &Subscription{
		hub:  h,
		keys: keys,
		ch:   make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range keys {
		set, ok := h.subs[key]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[key] = set
		}
		set[sub] = struct{}{}
	}
	return sub
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Keys returns the subscribed channel keys.
func (s *Subscription) Keys() []ChannelKey {
	return s.keys
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, key := range s.keys {
			if set, ok := h.subs[key]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, key)
				}
			}
		}
		// Sends happen under the read lock, so closing here is safe
		close(s.ch)
	})
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, key ChannelKey, kind EventKind, payload any) {
	event := Event{Key: key, Kind: kind, Payload: payload, At: h.now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- event:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			if h.OnDrop != nil {
				h.OnDrop(key)
			}
		}
	}
}

// Subscribers returns the number of subscriptions listening on key.
func (h *Hub) Subscribers(key ChannelKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// HubStats reports delivery counters.
type HubStats struct {
	Channels  int    `json:"channels"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	channels := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Channels:  channels,
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
