// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rebc

import (
	"errors"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/cover"
)

// ErrBudgetExceeded is returned when the coverage total passes the
// caller-supplied bound mid-match. The coverage recorded so far stays
// valid in the map.
var ErrBudgetExceeded = errors.New("execution budget exceeded")

type frame struct {
	pc int // word index to resume at; -1-r restores mark register r instead
	cp int // cursor (or mark value) to restore
}

// Scratch holds the per-thread mutable state of one interpreter run, reused
// across executions to avoid per-child allocation.
type Scratch struct {
	frames []frame
	marks  []int
}

// Run executes the program against subject, recording every taken branch
// into cov. A non-negative maxTotal bounds the coverage total; exceeding
// it aborts the match with ErrBudgetExceeded.
func Run[C CodeUnit](p *Program, subject []C, cov *cover.Map, maxTotal int64, scratch *Scratch) (bool, error) {
	if scratch == nil {
		scratch = &Scratch{}
	}
	scratch.frames = scratch.frames[:0]
	if cap(scratch.marks) < p.NumMark {
		scratch.marks = make([]int, p.NumMark)
	}
	marks := scratch.marks[:p.NumMark]
	for i := range marks {
		marks[i] = 0
	}

	words := p.Words
	n := len(subject)
	pc, cp := 0, 0

	// edge records the branch src -> dstWord and enforces the budget.
	edge := func(src, dstWord int) error {
		cov.RecordEdge(uint64(src*4), uint64(dstWord*4))
		if maxTotal >= 0 && cov.Total() > uint64(maxTotal) {
			return ErrBudgetExceeded
		}
		return nil
	}

	for {
		w := words[pc]
		op := opOf(w)
		next := pc + instrLen[op]

		// branch transfers control to dstWord, recording the edge.
		branch := func(dstWord int) error {
			err := edge(pc, dstWord)
			pc = dstWord
			return err
		}

		switch op {
		case OpFail:
			// Pop the innermost choice point; with none left the whole
			// attempt has failed. Mark updates made after that choice
			// point are undone on the way.
			for len(scratch.frames) > 0 && scratch.frames[len(scratch.frames)-1].pc < 0 {
				f := scratch.frames[len(scratch.frames)-1]
				scratch.frames = scratch.frames[:len(scratch.frames)-1]
				marks[-1-f.pc] = f.cp
			}
			if len(scratch.frames) == 0 {
				return false, nil
			}
			f := scratch.frames[len(scratch.frames)-1]
			scratch.frames = scratch.frames[:len(scratch.frames)-1]
			cp = f.cp
			if err := edge(pc, f.pc); err != nil {
				return false, err
			}
			pc = f.pc

		case OpSucceed:
			return true, nil

		case OpAdvance:
			cp += int(argOf(w))
			pc = next

		case OpGoto:
			if err := branch(int(words[pc+1]) / 4); err != nil {
				return false, err
			}

		case OpPushBacktrack:
			scratch.frames = append(scratch.frames, frame{pc: int(words[pc+1]) / 4, cp: cp})
			pc = next

		case OpSetMark:
			r := int(argOf(w))
			scratch.frames = append(scratch.frames, frame{pc: -1 - r, cp: marks[r]})
			marks[r] = cp
			pc = next

		case OpCheckProgress:
			dst := int(words[pc+2]) / 4 // no progress: leave the loop
			if cp != marks[argOf(w)] {
				dst = int(words[pc+1]) / 4
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpCheckChar:
			c := argOf(w)
			matchDst := int(words[pc+1]) / 4
			if cp < n {
				cov.Observe(cp)
				if uint32(subject[cp]) == c {
					if err := branch(matchDst); err != nil {
						return false, err
					}
					break
				}
				cov.RecordSuggestion(uint64(pc*4), uint64(matchDst*4), uint16(c), int32(cp))
			}
			if err := branch(next); err != nil {
				return false, err
			}

		case OpCheckNotChar:
			c := argOf(w)
			jumpDst := int(words[pc+1]) / 4
			if cp < n {
				cov.Observe(cp)
				if uint32(subject[cp]) != c {
					cov.RecordSuggestion(uint64(pc*4), uint64(next*4), uint16(c), int32(cp))
					if err := branch(jumpDst); err != nil {
						return false, err
					}
					break
				}
			}
			if err := branch(next); err != nil {
				return false, err
			}

		case OpCheck4Chars, OpCheckNot4Chars:
			packed := words[pc+1]
			dst := int(words[pc+2]) / 4
			equal := false
			if cp+4 <= n {
				for i := 0; i < 4; i++ {
					cov.Observe(cp + i)
				}
				equal = uint32(subject[cp]) == packed&0xff &&
					uint32(subject[cp+1]) == packed>>8&0xff &&
					uint32(subject[cp+2]) == packed>>16&0xff &&
					uint32(subject[cp+3]) == packed>>24&0xff
			}
			taken := equal
			if op == OpCheckNot4Chars {
				taken = cp+4 <= n && !equal
			}
			if taken {
				if err := branch(dst); err != nil {
					return false, err
				}
			} else if err := branch(next); err != nil {
				return false, err
			}

		case OpAndCheckChar, OpAndCheckNotChar:
			c := argOf(w)
			mask := words[pc+1]
			dst := int(words[pc+2]) / 4
			equal := false
			if cp < n {
				cov.Observe(cp)
				equal = uint32(subject[cp])&mask == c
			}
			taken := equal
			if op == OpAndCheckNotChar {
				taken = cp < n && !equal
			}
			if taken {
				if err := branch(dst); err != nil {
					return false, err
				}
			} else if err := branch(next); err != nil {
				return false, err
			}

		case OpAndCheck4Chars, OpAndCheckNot4Chars:
			packed := words[pc+1]
			mask := words[pc+2]
			dst := int(words[pc+3]) / 4
			equal := false
			if cp+4 <= n {
				var cur uint32
				for i := 0; i < 4; i++ {
					cov.Observe(cp + i)
					cur |= uint32(subject[cp+i]) << (8 * i)
				}
				equal = cur&mask == packed
			}
			taken := equal
			if op == OpAndCheckNot4Chars {
				taken = cp+4 <= n && !equal
			}
			if taken {
				if err := branch(dst); err != nil {
					return false, err
				}
			} else if err := branch(next); err != nil {
				return false, err
			}

		case OpCheckCharInRange, OpCheckCharNotInRange:
			from := words[pc+1]
			to := words[pc+2]
			dst := int(words[pc+3]) / 4
			in := false
			if cp < n {
				cov.Observe(cp)
				c := uint32(subject[cp])
				in = from <= c && c <= to
			}
			taken := in
			if op == OpCheckCharNotInRange {
				taken = cp < n && !in
			}
			if taken {
				if err := branch(dst); err != nil {
					return false, err
				}
			} else if err := branch(next); err != nil {
				return false, err
			}

		case OpCheckLT, OpCheckGT:
			limit := argOf(w)
			dst := int(words[pc+1]) / 4
			taken := false
			if cp < n {
				cov.Observe(cp)
				c := uint32(subject[cp])
				if op == OpCheckLT {
					taken = c < limit
				} else {
					taken = c > limit
				}
			}
			if taken {
				if err := branch(dst); err != nil {
					return false, err
				}
			} else if err := branch(next); err != nil {
				return false, err
			}

		case OpSkipUntilChar:
			c := argOf(w)
			found := int(words[pc+1]) / 4
			end := int(words[pc+2]) / 4
			for cp < n {
				cov.Observe(cp)
				if uint32(subject[cp]) == c {
					break
				}
				cp++
			}
			dst := end
			if cp < n {
				dst = found
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpSkipUntilCharPosChecked:
			c := argOf(w)
			minRemain := int(words[pc+1])
			found := int(words[pc+2]) / 4
			end := int(words[pc+3]) / 4
			hit := false
			for cp+minRemain <= n {
				cov.Observe(cp)
				if uint32(subject[cp]) == c {
					hit = true
					break
				}
				cp++
			}
			dst := end
			if hit {
				dst = found
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpSkipUntilCharAnd:
			c := argOf(w)
			mask := words[pc+1]
			found := int(words[pc+2]) / 4
			end := int(words[pc+3]) / 4
			hit := false
			for cp < n {
				cov.Observe(cp)
				if uint32(subject[cp])&mask == c {
					hit = true
					break
				}
				cp++
			}
			dst := end
			if hit {
				dst = found
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpCheckAtStart:
			dst := next
			if cp == 0 {
				dst = int(words[pc+1]) / 4
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpCheckPrevChar:
			dst := next
			if cp > 0 && uint32(subject[cp-1]) == argOf(w) {
				dst = int(words[pc+1]) / 4
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpCheckAtEnd:
			dst := next
			if cp == n {
				dst = int(words[pc+1]) / 4
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		case OpCheckNotAtEnd:
			dst := next
			if cp < n {
				dst = int(words[pc+1]) / 4
			}
			if err := branch(dst); err != nil {
				return false, err
			}

		default:
			panic("rebc: invalid opcode")
		}
	}
}
