// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover implements an AFL-style edge coverage map for the
// instrumented regexp interpreter.
//
// The interpreter reports every taken branch as a (src, dst) pair of
// bytecode addresses. Each pair is folded into one slot of a fixed
// power-of-two table of saturating 8-bit counters. A chained 128-bit
// hash of the ordered edge sequence identifies the whole execution
// path, which gives O(1) whole-trace deduplication in the corpus.
package cover

import (
	"encoding/binary"

	"github.com/twmb/murmur3"
)

const (
	// MapSizeBits is the number of (least-significant) pc address bits used.
	MapSizeBits = 13
	// MapSize is the number of edge slots. Keep a power of two.
	MapSize = 1 << MapSizeBits

	addrMask = MapSize - 1

	// CountMax is the saturation point of one edge slot.
	CountMax = 0xff

	pathHashSeed = 0xDEADBEEF
)

// Suggestion is a character substitution proposed by the interpreter when a
// single-character check failed: writing Char at Pos would have taken the
// other branch of the edge at Edge.
type Suggestion struct {
	Char uint16
	Pos  int32
	Edge uint32
}

// PathHash is the 128-bit fingerprint of an ordered edge sequence.
type PathHash struct {
	Hi, Lo uint64
}

// Map tracks edge execution counts for one or more executions.
type Map struct {
	edges [MapSize]uint8
	total uint64
	hash  PathHash

	suggestions   []Suggestion
	suggestedEdge [MapSize / 64]uint64

	// Per-position observation counts of the subject cursor, sized by the
	// campaign's subject length.
	observations []uint16
}

// New returns an empty map whose observation counters cover a subject of
// the given length.
func New(subjectLen int) *Map {
	m := &Map{}
	if subjectLen > 0 {
		m.observations = make([]uint16, subjectLen)
	}
	m.Clear()
	return m
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	c := &Map{
		edges: m.edges,
		total: m.total,
		hash:  m.hash,
	}
	c.suggestions = append([]Suggestion(nil), m.suggestions...)
	c.suggestedEdge = m.suggestedEdge
	if m.observations != nil {
		c.observations = append([]uint16(nil), m.observations...)
	}
	return c
}

// Clear resets the map to its per-execution initial state. The path hash
// restarts from the same seed so replays of one trace hash identically.
func (m *Map) Clear() {
	m.edges = [MapSize]uint8{}
	m.total = 0
	m.hash = PathHash{}
	m.suggestions = m.suggestions[:0]
	m.suggestedEdge = [MapSize / 64]uint64{}
	for i := range m.observations {
		m.observations[i] = 0
	}
}

func transformAddr(x uint64) uint32 {
	return uint32(x>>3) & addrMask
}

// EdgeIndex folds a (src, dst) pair into a slot index. The source address
// is doubled first so that A->B and B->A land in distinct slots.
func EdgeIndex(src, dst uint64) uint32 {
	return transformAddr(src<<1) ^ transformAddr(dst)
}

// RecordEdge marks a branch from src to dst as taken once.
func (m *Map) RecordEdge(src, dst uint64) {
	idx := EdgeIndex(src, dst)
	if m.edges[idx] != CountMax {
		m.edges[idx]++
	}
	if m.total != ^uint64(0) {
		m.total++
	}
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], m.hash.Hi)
	binary.LittleEndian.PutUint64(buf[8:], m.hash.Lo)
	binary.LittleEndian.PutUint64(buf[16:], src)
	binary.LittleEndian.PutUint64(buf[24:], dst)
	m.hash.Hi, m.hash.Lo = murmur3.SeedSum128(pathHashSeed, pathHashSeed, buf[:])
}

// RecordSuggestion stores a proposed character substitution for the edge
// (src, dst). The first suggestion recorded for an edge wins; later ones
// for the same edge are dropped.
func (m *Map) RecordSuggestion(src, dst uint64, ch uint16, pos int32) {
	idx := EdgeIndex(src, dst)
	if m.suggestedEdge[idx/64]&(1<<(idx%64)) != 0 {
		return
	}
	m.suggestedEdge[idx/64] |= 1 << (idx % 64)
	m.suggestions = append(m.suggestions, Suggestion{Char: ch, Pos: pos, Edge: idx})
}

// Suggestions returns the recorded substitutions in recording order.
func (m *Map) Suggestions() []Suggestion {
	return m.suggestions
}

// Observe counts one read of the subject cursor at position i.
func (m *Map) Observe(i int) {
	if i >= 0 && i < len(m.observations) && m.observations[i] != 0xffff {
		m.observations[i]++
	}
}

// MaxObservation returns the highest per-position observation count.
func (m *Map) MaxObservation() uint16 {
	var ret uint16
	for _, v := range m.observations {
		if v > ret {
			ret = v
		}
	}
	return ret
}

// Total returns the saturating count of all edges ever recorded.
func (m *Map) Total() uint64 {
	return m.total
}

// Hash returns the path hash of the recorded edge sequence.
func (m *Map) Hash() PathHash {
	return m.hash
}

// bucketLUT snaps a raw execution count to its AFL class:
// 0, 1, 2, 4, 8, 16, 32, 64, 128.
var bucketLUT = buildBucketLUT()

func buildBucketLUT() (lut [256]uint8) {
	for v := 1; v < 256; v++ {
		b := 1
		for b < v && b < 128 {
			b <<= 1
		}
		lut[v] = uint8(b)
	}
	return
}

// Bucketize snaps every slot to its class bucket, in place. Applying it to
// an already-bucketized map is a no-op.
func (m *Map) Bucketize() {
	for i, v := range m.edges {
		if v != 0 {
			m.edges[i] = bucketLUT[v]
		}
	}
}

// Union absorbs other into m: slot-wise max, total keeps the greater value.
func (m *Map) Union(other *Map) {
	for i, v := range other.edges {
		if v > m.edges[i] {
			m.edges[i] = v
		}
	}
	if other.total > m.total {
		m.total = other.total
	}
}

// HasNewPath reports whether other shows behavior not bounded by m: a
// greater total, or any slot exceeding m's count.
func (m *Map) HasNewPath(other *Map) bool {
	if other.total > m.total {
		return true
	}
	for i, v := range other.edges {
		if v > m.edges[i] {
			return true
		}
	}
	return false
}

// MaximizesAnyEdge reports whether other matches or exceeds the count of
// at least one edge covered in m. Returns false when no edge qualifies.
func (m *Map) MaximizesAnyEdge(other *Map) bool {
	for i, v := range m.edges {
		if v != 0 && other.edges[i] >= v {
			return true
		}
	}
	return false
}

// EdgeEqual reports whether slot i holds the same count in both maps.
func (m *Map) EdgeEqual(other *Map, i uint32) bool {
	return m.edges[i] == other.edges[i]
}

// EdgeGreater reports whether slot i holds strictly more hits in m.
func (m *Map) EdgeGreater(other *Map, i uint32) bool {
	return m.edges[i] > other.edges[i]
}

// EdgeCovered reports whether slot i was hit at all.
func (m *Map) EdgeCovered(i uint32) bool {
	return m.edges[i] != 0
}

// Count returns the raw count of slot i.
func (m *Map) Count(i uint32) uint8 {
	return m.edges[i]
}

// Residency returns the fraction of slots with non-zero counts, in [0, 1].
func (m *Map) Residency() float64 {
	covered := 0
	for _, v := range m.edges {
		if v != 0 {
			covered++
		}
	}
	return float64(covered) / MapSize
}
