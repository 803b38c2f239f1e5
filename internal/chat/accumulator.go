// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// DefaultFlushThreshold is the number of fragments between flushes.
const DefaultFlushThreshold = 50

// Accumulator buffers streamed fragments and tells the caller when enough
// have arrived to persist and broadcast the consolidated answer.
//
// Accumulator is not safe for concurrent use; one run owns one.
type Accumulator struct {
	threshold int
	buf       strings.Builder
	total     int
	pending   int
}

// NewAccumulator creates an accumulator flushing every threshold
// fragments (DefaultFlushThreshold when <= 0).
func NewAccumulator(threshold int) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Accumulator{threshold: threshold}
}

// Push appends a fragment.
func (a *Accumulator) Push(fragment string) {
	a.buf.WriteString(fragment)
	a.total++
	a.pending++
}

// ShouldFlush reports whether threshold fragments arrived since the last
// flush.
func (a *Accumulator) ShouldFlush() bool {
	return a.pending >= a.threshold
}

// Snapshot returns every fragment pushed so far, concatenated in arrival
// order.
func (a *Accumulator) Snapshot() string {
	return a.buf.String()
}

// ResetFlushCounter starts counting towards the next flush.
func (a *Accumulator) ResetFlushCounter() {
	a.pending = 0
}

// Len returns the total number of fragments pushed.
func (a *Accumulator) Len() int {
	return a.total
}

// Threshold returns the flush threshold in fragments.
func (a *Accumulator) Threshold() int {
	return a.threshold
}
