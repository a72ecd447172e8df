// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"math/rand"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/corpus"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/cover"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/mutate"
)

// workQueue holds the parents of one fuzzing generation. Refilled from
// the corpus when drained; popping is LIFO.
type workQueue[C mutate.CodeUnit] struct {
	entries []*corpus.Entry[C]
}

// Fill selects the next generation's parents in two passes over a
// shuffled view of the flushed set. The first pass guarantees every
// covered edge a representative: an entry is enqueued when it maximizes
// an edge no earlier entry represents, and then stands in for every edge
// it maximizes. The second pass gives the passed-over entries a
// staleness-biased lottery so stuck edges get re-examined harder, with a
// small floor so nothing is ever starved entirely.
func (q *workQueue[C]) Fill(c *corpus.Corpus[C], rnd *rand.Rand) {
	ub := c.UpperBound()
	var represented [cover.MapSize / 64]uint64

	for _, idx := range rnd.Perm(c.FlushedLen()) {
		entry := c.FlushedAt(idx)
		selected := false
		for j := uint32(0); j < cover.MapSize && !selected; j++ {
			if represented[j/64]&(1<<(j%64)) != 0 {
				continue
			}
			if !maximizesEdge(ub, entry.Coverage, j) {
				continue
			}
			q.entries = append(q.entries, entry)
			selected = true
			for k := j; k < cover.MapSize; k++ {
				if maximizesEdge(ub, entry.Coverage, k) {
					represented[k/64] |= 1 << (k % 64)
				}
			}
		}
		if selected {
			continue
		}
		score := c.StalenessScore(entry.Coverage)
		floor := uint32(corpus.MaxStaleness / 100)
		if score < floor {
			score = floor
		}
		if uint32(rnd.Intn(corpus.MaxStaleness)) < score {
			q.entries = append(q.entries, entry)
		}
	}
}

// maximizesEdge reports whether the entry's count at edge j ties or
// exceeds the upper bound's non-zero count.
func maximizesEdge(ub, cov *cover.Map, j uint32) bool {
	return ub.Count(j) != 0 && cov.Count(j) >= ub.Count(j)
}

func (q *workQueue[C]) HasNext() bool {
	return len(q.entries) > 0
}

func (q *workQueue[C]) Pop() *corpus.Entry[C] {
	e := q.entries[len(q.entries)-1]
	q.entries = q.entries[:len(q.entries)-1]
	return e
}
