// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync/atomic"
	"time"
)

// Pacing holds the streaming cadence. The delays only slow UI updates
// down; they have no effect on what is stored.
type Pacing struct {
	FlushThreshold int
	FragmentDelay  time.Duration
	FlushDelay     time.Duration
}

// DefaultPacing returns the standard cadence: flush every 50 fragments,
// 10ms after each fragment and 50ms after each flush.
func DefaultPacing() Pacing {
	return Pacing{
		FlushThreshold: DefaultFlushThreshold,
		FragmentDelay:  10 * time.Millisecond,
		FlushDelay:     50 * time.Millisecond,
	}
}

// PacingSource is a Pacing value that can be replaced while runs are in
// progress. Each run reads it once when it starts.
type PacingSource struct {
	v atomic.Pointer[Pacing]
}

// NewPacingSource creates a source holding p.
func NewPacingSource(p Pacing) *PacingSource {
	s := &PacingSource{}
	s.Store(p)
	return s
}

// Load returns the current pacing.
func (s *PacingSource) Load() Pacing {
	if s == nil {
		return DefaultPacing()
	}
	if p := s.v.Load(); p != nil {
		return *p
	}
	return DefaultPacing()
}

// Store replaces the pacing for runs started afterwards.
func (s *PacingSource) Store(p Pacing) {
	if p.FlushThreshold <= 0 {
		p.FlushThreshold = DefaultFlushThreshold
	}
	if p.FragmentDelay < 0 {
		p.FragmentDelay = 0
	}
	if p.FlushDelay < 0 {
		p.FlushDelay = 0
	}
	s.v.Store(&p)
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
