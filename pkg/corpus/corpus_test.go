// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/cover"
)

// mkEntry builds an entry of the given buffer whose coverage replays the
// given edge trace.
func mkEntry(buf string, edges ...[2]uint64) *Entry[uint8] {
	m := cover.New(len(buf))
	for _, e := range edges {
		m.RecordEdge(e[0], e[1])
	}
	m.Bucketize()
	return NewEntry([]uint8(buf), m)
}

func TestFlushMaintainsUpperBound(t *testing.T) {
	c := New[uint8](4)
	e1 := mkEntry("aaaa", [2]uint64{8, 64}, [2]uint64{8, 64})
	e2 := mkEntry("bbbb", [2]uint64{8, 24}, [2]uint64{8, 24}, [2]uint64{8, 24})
	c.Record(e1)
	c.Record(e2)
	c.FlushGeneration()

	require.Equal(t, 2, c.FlushedLen())
	ub := c.UpperBound()
	for i := uint32(0); i < cover.MapSize; i++ {
		max := e1.Coverage.Count(i)
		if e2.Coverage.Count(i) > max {
			max = e2.Coverage.Count(i)
		}
		require.Equal(t, max, ub.Count(i), "slot %d", i)
	}
	assert.Equal(t, uint64(3), ub.Total())
}

func TestPathIndexDeduplicates(t *testing.T) {
	c := New[uint8](4)
	e1 := mkEntry("aaaa", [2]uint64{8, 64})
	c.Record(e1)
	c.FlushGeneration()

	dup := mkEntry("cccc", [2]uint64{8, 64})
	assert.True(t, c.IsRedundant(dup.Coverage))
	assert.False(t, c.HasNewPath(dup.Coverage))

	other := mkEntry("dddd", [2]uint64{128, 256})
	assert.False(t, c.IsRedundant(other.Coverage))
	assert.True(t, c.HasNewPath(other.Coverage))
}

func TestRedundantPendingDropped(t *testing.T) {
	c := New[uint8](4)
	c.Record(mkEntry("aaaa", [2]uint64{8, 64}))
	c.Record(mkEntry("bbbb", [2]uint64{8, 64})) // identical path
	c.FlushGeneration()
	assert.Equal(t, 1, c.FlushedLen())
}

func TestMaximizingEntryFollowsHotterRecord(t *testing.T) {
	c := New[uint8](4)
	c.Record(mkEntry("aaaa", [2]uint64{8, 64}))
	c.FlushGeneration()

	// Same edge hit more often: a greater total replaces the slowest so far.
	hot := mkEntry("slow", [2]uint64{8, 64}, [2]uint64{8, 64}, [2]uint64{8, 64})
	c.Record(hot)
	c.FlushGeneration()

	best := c.Best()
	require.NotNil(t, best)
	assert.Equal(t, []uint8("slow"), best.Buf)
	assert.Equal(t, uint64(3), best.Coverage.Total())
}

func TestMaximizingEntryIsACopy(t *testing.T) {
	c := New[uint8](4)
	e := mkEntry("aaaa", [2]uint64{8, 64})
	c.Record(e)
	best := c.Best()
	require.NotNil(t, best)
	best.Buf[0] = 'x'
	assert.Equal(t, uint8('a'), e.Buf[0])
}

func TestStalenessLifecycle(t *testing.T) {
	c := New[uint8](4)
	both := mkEntry("aaaa", [2]uint64{8, 64}, [2]uint64{128, 256})
	c.Record(both)
	c.FlushGeneration()

	// Ties bump staleness for the matching edge only.
	one := mkEntry("tttt", [2]uint64{8, 64})
	for i := 0; i < 5; i++ {
		c.BumpStaleness(one.Coverage)
	}
	assert.NotZero(t, c.StalenessScore(one.Coverage))

	// An entry raising that edge's count resets its staleness at flush.
	raise := mkEntry("rrrr", [2]uint64{8, 64}, [2]uint64{8, 64}, [2]uint64{8, 64})
	c.Record(raise)
	c.FlushGeneration()
	assert.Zero(t, c.StalenessScore(raise.Coverage))
}

func TestStalenessScoreScaling(t *testing.T) {
	c := New[uint8](4)
	both := mkEntry("aaaa", [2]uint64{8, 64}, [2]uint64{128, 256})
	c.Record(both)
	c.FlushGeneration()

	// Bump only one of the two covered edges by feeding a coverage that
	// ties just that edge.
	one := mkEntry("oooo", [2]uint64{8, 64})
	for i := 0; i < 100; i++ {
		c.BumpStaleness(one.Coverage)
	}
	// `one` matches only the stale edge: its minimum staleness is high.
	assert.NotZero(t, c.StalenessScore(one.Coverage))
	// `both` also matches the fresh edge: minimum staleness is the global
	// minimum, scoring zero.
	assert.Zero(t, c.StalenessScore(both.Coverage))
}

func TestGenerateChildren(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	c := New[uint8](8)
	parent := mkEntry("abcdefgh", [2]uint64{8, 64})
	c.Record(parent)
	c.FlushGeneration()
	c.SetInteresting([]uint8{'z'})

	children := c.GenerateChildren(parent, 50, rnd)
	require.Len(t, children, 50)
	for _, child := range children {
		require.Len(t, child, 8)
	}
	assert.Equal(t, []uint8("abcdefgh"), parent.Buf, "parent must stay immutable")
}

func TestGenerateChildrenAppliesSuggestions(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	cov := cover.New(4)
	cov.RecordEdge(8, 64)
	cov.RecordSuggestion(8, 64, 'Q', 2)
	cov.Bucketize()
	parent := NewEntry([]uint8("aaaa"), cov)

	c := New[uint8](4)
	c.Record(parent)
	c.FlushGeneration()

	seen := false
	for _, child := range c.GenerateChildren(parent, 200, rnd) {
		if child[2] == 'Q' {
			seen = true
			break
		}
	}
	assert.True(t, seen, "suggested substitutions should reach children")
}

func TestMemoryFootprint(t *testing.T) {
	c := New[uint8](4)
	assert.Zero(t, c.MemoryFootprint())
	c.Record(mkEntry("aaaa", [2]uint64{8, 64}))
	c.FlushGeneration()
	assert.Equal(t, 4+cover.MapSize, c.MemoryFootprint())
}
