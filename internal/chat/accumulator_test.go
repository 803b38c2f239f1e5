// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_FlushCadence(t *testing.T) {
	acc := NewAccumulator(3)

	var flushedAt []int
	for i := 1; i <= 10; i++ {
		acc.Push("x")
		if acc.ShouldFlush() {
			flushedAt = append(flushedAt, i)
			acc.ResetFlushCounter()
		}
	}

	assert.Equal(t, []int{3, 6, 9}, flushedAt)
	assert.Equal(t, 10, acc.Len())
}

func TestAccumulator_SnapshotKeepsOrder(t *testing.T) {
	acc := NewAccumulator(2)
	for _, f := range []string{"Hel", "lo", ", ", "wörld", "", "!"} {
		acc.Push(f)
	}
	acc.ResetFlushCounter()

	assert.Equal(t, "Hello, wörld!", acc.Snapshot())
	assert.Equal(t, 6, acc.Len())
	assert.False(t, acc.ShouldFlush())
}

func TestAccumulator_DefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultFlushThreshold, NewAccumulator(0).Threshold())
	assert.Equal(t, DefaultFlushThreshold, NewAccumulator(-4).Threshold())

	acc := NewAccumulator(0)
	for i := 0; i < 49; i++ {
		acc.Push("a")
	}
	assert.False(t, acc.ShouldFlush())
	acc.Push("a")
	assert.True(t, acc.ShouldFlush())
}

func TestPacingSource(t *testing.T) {
	src := NewPacingSource(Pacing{FlushThreshold: 0, FragmentDelay: -1})
	p := src.Load()
	assert.Equal(t, DefaultFlushThreshold, p.FlushThreshold)
	assert.Zero(t, p.FragmentDelay)

	src.Store(Pacing{FlushThreshold: 7})
	assert.Equal(t, 7, src.Load().FlushThreshold)

	var nilSrc *PacingSource
	assert.Equal(t, DefaultPacing(), nilSrc.Load())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", summarize(nil))
	assert.Equal(t, "a", summarize([]*Error{{Message: "a"}}))
	assert.Equal(t, "a and b", summarize([]*Error{{Message: "a"}, {Message: "b"}}))
	assert.Equal(t, "a, b and c", summarize([]*Error{{Message: "a"}, {Message: "b"}, {Message: "c"}}))
}
