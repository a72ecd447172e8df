// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus maintains the per-campaign set of discovered subjects.
//
// Entries are kept in two tiers: the flushed set, which drives parent
// selection, and the pending set holding the current generation's
// acceptances. FlushGeneration promotes non-redundant pendings, updates
// the upper-bound coverage map and resets the staleness counters of any
// edge whose maximum was raised. A corpus only grows; deduplication is
// by full 128-bit path hash.
package corpus

import (
	"math/rand"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/cover"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/mutate"
)

const (
	// pathIndexSize is the number of top-level path-hash buckets.
	pathIndexSize = 4096

	// MaxStaleness is the saturation point of one edge's staleness counter
	// and the scale of staleness scores.
	MaxStaleness = 1000
)

// Entry is one recorded subject with the coverage its execution produced.
// Immutable once recorded.
type Entry[C mutate.CodeUnit] struct {
	Buf      []C
	Coverage *cover.Map
}

// NewEntry takes ownership of buf and keeps a private copy of cov.
func NewEntry[C mutate.CodeUnit](buf []C, cov *cover.Map) *Entry[C] {
	return &Entry[C]{Buf: buf, Coverage: cov.Clone()}
}

func (e *Entry[C]) clone() *Entry[C] {
	return &Entry[C]{
		Buf:      append([]C(nil), e.Buf...),
		Coverage: e.Coverage.Clone(),
	}
}

// Corpus is the per-campaign entry store. It is owned by the worker
// currently running the campaign; no internal locking.
type Corpus[C mutate.CodeUnit] struct {
	flushed []*Entry[C]
	pending []*Entry[C]

	pathIndex  [pathIndexSize][]cover.PathHash
	upperBound *cover.Map
	staleness  [cover.MapSize]uint32

	maximizing  *Entry[C]
	interesting []C
}

func New[C mutate.CodeUnit](subjectLen int) *Corpus[C] {
	return &Corpus[C]{upperBound: cover.New(subjectLen)}
}

// SetInteresting installs the mined special-character bag used by the
// replace-with-special mutation.
func (c *Corpus[C]) SetInteresting(chars []C) {
	c.interesting = chars
}

func (c *Corpus[C]) Interesting() []C {
	return c.interesting
}

// Record accepts entry into the pending set. The maximizing entry is
// updated eagerly so the slowest-known subject survives even if the
// pending entry is later dropped as redundant.
func (c *Corpus[C]) Record(entry *Entry[C]) {
	c.pending = append(c.pending, entry)
	if c.maximizing == nil || entry.Coverage.Total() > c.maximizing.Coverage.Total() {
		c.maximizing = entry.clone()
	}
}

func pathBucket(h cover.PathHash) uint32 {
	return uint32(h.Lo) % pathIndexSize
}

// IsRedundant reports whether an identical execution path was already
// flushed. Buckets carry full hashes, so table collisions cannot alias
// distinct paths.
func (c *Corpus[C]) IsRedundant(cov *cover.Map) bool {
	h := cov.Hash()
	for _, known := range c.pathIndex[pathBucket(h)] {
		if known == h {
			return true
		}
	}
	return false
}

// HasNewPath reports whether cov shows behavior above the upper bound.
func (c *Corpus[C]) HasNewPath(cov *cover.Map) bool {
	return c.upperBound.HasNewPath(cov)
}

// MaximizesUpperBound reports whether cov ties or exceeds some covered
// edge of the upper bound.
func (c *Corpus[C]) MaximizesUpperBound(cov *cover.Map) bool {
	return c.upperBound.MaximizesAnyEdge(cov)
}

// BumpStaleness counts one work cycle against every upper-bound edge that
// cov tied without exceeding.
func (c *Corpus[C]) BumpStaleness(cov *cover.Map) {
	for i := uint32(0); i < cover.MapSize; i++ {
		if c.upperBound.Count(i) != 0 && cov.Count(i) == c.upperBound.Count(i) &&
			c.staleness[i] < MaxStaleness {
			c.staleness[i]++
		}
	}
}

// FlushGeneration promotes the pending entries accepted this generation.
// Redundant paths are dropped; every promoted entry contributes to the
// upper bound, and any edge it raised gets its staleness reset.
func (c *Corpus[C]) FlushGeneration() {
	for _, e := range c.pending {
		if c.IsRedundant(e.Coverage) {
			continue
		}
		c.flushed = append(c.flushed, e)
		h := e.Coverage.Hash()
		b := pathBucket(h)
		c.pathIndex[b] = append(c.pathIndex[b], h)
		for i := uint32(0); i < cover.MapSize; i++ {
			if e.Coverage.Count(i) > c.upperBound.Count(i) {
				c.staleness[i] = 0
			}
		}
		c.upperBound.Union(e.Coverage)
	}
	c.pending = nil
}

// StalenessScore rates how stuck the edges are on which cov matches the
// upper bound, scaled to [0, MaxStaleness]. Entries that only touch
// recently-improved edges score low.
func (c *Corpus[C]) StalenessScore(cov *cover.Map) uint32 {
	globalMin := uint32(MaxStaleness)
	globalMax := uint32(0)
	myMin := uint32(MaxStaleness)
	haveMine := false
	for i := uint32(0); i < cover.MapSize; i++ {
		ub := c.upperBound.Count(i)
		if ub == 0 {
			continue
		}
		s := c.staleness[i]
		if s < globalMin {
			globalMin = s
		}
		if s > globalMax {
			globalMax = s
		}
		if cov.Count(i) == ub {
			haveMine = true
			if s < myMin {
				myMin = s
			}
		}
	}
	if !haveMine || globalMax == 0 || myMin <= globalMin {
		return 0
	}
	return MaxStaleness * (myMin - globalMin) / globalMax
}

// GenerateChildren derives n children from parent. Each child starts as a
// copy of the parent buffer and receives one weighted mutation; suggestion
// records harvested from the parent's execution feed position-targeted
// substitutions and widen the special-character bag.
func (c *Corpus[C]) GenerateChildren(parent *Entry[C], n int, rnd *rand.Rand) [][]C {
	suggestions := parent.Coverage.Suggestions()
	extra := c.interesting
	if len(suggestions) > 0 {
		extra = append(append([]C(nil), c.interesting...), suggestionChars[C](suggestions)...)
	}
	out := make([][]C, 0, n)
	for i := 0; i < n; i++ {
		child := append([]C(nil), parent.Buf...)
		if len(suggestions) > 0 && rnd.Intn(4) == 0 {
			s := suggestions[rnd.Intn(len(suggestions))]
			if int(s.Pos) >= 0 && int(s.Pos) < len(child) {
				child[s.Pos] = C(s.Char)
			}
		}
		mutate.Apply(rnd, child, c.coparent(rnd), extra)
		out = append(out, child)
	}
	return out
}

func suggestionChars[C mutate.CodeUnit](suggestions []cover.Suggestion) []C {
	chars := make([]C, 0, len(suggestions))
	for _, s := range suggestions {
		chars = append(chars, C(s.Char))
	}
	return chars
}

// coparent picks an arbitrary flushed entry buffer for crossover.
func (c *Corpus[C]) coparent(rnd *rand.Rand) []C {
	if len(c.flushed) == 0 {
		return nil
	}
	return c.flushed[rnd.Intn(len(c.flushed))].Buf
}

// FlushedLen returns the number of promoted entries.
func (c *Corpus[C]) FlushedLen() int {
	return len(c.flushed)
}

// FlushedAt returns the i-th promoted entry in acceptance order.
func (c *Corpus[C]) FlushedAt(i int) *Entry[C] {
	return c.flushed[i]
}

// Best returns the entry with the greatest coverage total seen so far,
// or nil before the first Record.
func (c *Corpus[C]) Best() *Entry[C] {
	return c.maximizing
}

// UpperBound exposes the per-edge maximum across all flushed entries.
func (c *Corpus[C]) UpperBound() *cover.Map {
	return c.upperBound
}

// Residency is the fraction of coverage slots the corpus has ever hit.
func (c *Corpus[C]) Residency() float64 {
	return c.upperBound.Residency()
}

// MemoryFootprint estimates the corpus heap usage in bytes.
func (c *Corpus[C]) MemoryFootprint() int {
	unitSize := 1
	if mutate.Wide[C]() {
		unitSize = 2
	}
	n := 0
	for _, e := range c.flushed {
		n += len(e.Buf)*unitSize + cover.MapSize
	}
	for _, e := range c.pending {
		n += len(e.Buf)*unitSize + cover.MapSize
	}
	return n
}
