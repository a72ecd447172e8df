// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate implements the byte-string mutation operators used to
// derive children from corpus entries.
//
// All operators preserve the buffer length: campaigns fuzz fixed-length
// subjects, so there is no insert/delete. Operators are generic over the
// code-unit width so one-byte and two-byte campaigns share one code path.
package mutate

import (
	"math/rand"
)

// CodeUnit is one subject character: a byte for latin-1 subjects, a
// uint16 for two-byte subjects.
type CodeUnit interface {
	~uint8 | ~uint16
}

// Wide reports whether C is the two-byte code unit.
func Wide[C CodeUnit]() bool {
	return ^C(0) > 0xff
}

var interestingOneByte = []uint8{
	' ', '\t', '\n', '\r', '\v', // whitespaces
	0xe8, // e with grave accent
	0xbe, // three quarters mark
	0xb2, // superscript two
	0x80, // euro
	0xdc, // uppercase U with umlaut
	0xd7, // times symbol
	0xff, // all bits set
}

var interestingTwoByte = []uint16{
	'f', '1', '\r', '\n', '\t', ' ', '!',
	0x01d4,         // small letter u with caron
	0x2603, 0xfe0f, // snowman emoji
	0xd83d, 0xdc93, // beating heart emoji
	0xffff, // all bits set
}

// Builtin returns the built-in interesting characters for the width of C.
func Builtin[C CodeUnit]() []C {
	if Wide[C]() {
		out := make([]C, len(interestingTwoByte))
		for i, c := range interestingTwoByte {
			out[i] = C(c)
		}
		return out
	}
	out := make([]C, len(interestingOneByte))
	for i, c := range interestingOneByte {
		out[i] = C(c)
	}
	return out
}

// RandomChar replaces one uniformly chosen position with a uniformly
// random code unit.
func RandomChar[C CodeUnit](rnd *rand.Rand, buf []C) {
	buf[rnd.Intn(len(buf))] = C(rnd.Uint32())
}

// Arith adds a nonzero signed delta in [-8, 8] to one position, wrapping.
func Arith[C CodeUnit](rnd *rand.Rand, buf []C) {
	delta := rnd.Intn(16) - 8 // [-8, 7]
	if delta >= 0 {
		delta++ // skip 0, extend to [+1, +8]
	}
	addr := rnd.Intn(len(buf))
	buf[addr] += C(delta)
}

// OverwriteWithAnother copies the value at a second position over a first
// one. Historically this operator was written as a swap whose second store
// read the already-overwritten slot; the corpus heuristics were tuned with
// the resulting overwrite semantics, so it is preserved under this name.
func OverwriteWithAnother[C CodeUnit](rnd *rand.Rand, buf []C) {
	if len(buf) < 2 {
		return
	}
	src := rnd.Intn(len(buf))
	dst := src
	for dst == src {
		dst = rnd.Intn(len(buf))
	}
	buf[src] = buf[dst]
}

// Swap exchanges two distinct positions.
func Swap[C CodeUnit](rnd *rand.Rand, buf []C) {
	if len(buf) < 2 {
		return
	}
	src := rnd.Intn(len(buf))
	dst := src
	for dst == src {
		dst = rnd.Intn(len(buf))
	}
	buf[src], buf[dst] = buf[dst], buf[src]
}

// BitFlip XORs one position with a single random bit.
func BitFlip[C CodeUnit](rnd *rand.Rand, buf []C) {
	bits := 8
	if Wide[C]() {
		bits = 16
	}
	buf[rnd.Intn(len(buf))] ^= C(1) << rnd.Intn(bits)
}

// Crossover copies coparent[lo..hi] into buf[lo..hi] for a uniformly
// chosen interval.
func Crossover[C CodeUnit](rnd *rand.Rand, buf, coparent []C) {
	lo := rnd.Intn(len(buf))
	hi := rnd.Intn(len(buf))
	if lo > hi {
		lo, hi = hi, lo
	}
	hi++ // make exclusive
	if hi > len(buf) {
		hi = len(buf)
	}
	copy(buf[lo:hi], coparent[lo:hi])
}

// DuplicateSubsequence copies a random substring of buf over a distinct
// destination offset, possibly overlapping the source.
func DuplicateSubsequence[C CodeUnit](rnd *rand.Rand, buf []C) {
	if len(buf) < 2 {
		return
	}
	sublen := rnd.Intn(len(buf)-1) + 1
	src := rnd.Intn(len(buf) - sublen + 1)
	dst := src
	for dst == src {
		dst = rnd.Intn(len(buf) - sublen + 1)
	}
	tmp := make([]C, sublen)
	copy(tmp, buf[src:src+sublen])
	copy(buf[dst:dst+sublen], tmp)
}

// ReplaceWithSpecial writes, at a random position, a value drawn uniformly
// from the union of the built-in interesting characters and extra.
func ReplaceWithSpecial[C CodeUnit](rnd *rand.Rand, buf, extra []C) {
	builtin := Builtin[C]()
	idx := rnd.Intn(len(builtin) + len(extra))
	var c C
	if idx < len(builtin) {
		c = builtin[idx]
	} else {
		c = extra[idx-len(builtin)]
	}
	buf[rnd.Intn(len(buf))] = c
}

// RotateOnce rotates the buffer by one position, direction chosen uniformly.
func RotateOnce[C CodeUnit](rnd *rand.Rand, buf []C) {
	if len(buf) < 2 {
		return
	}
	if rnd.Intn(2) == 0 {
		// left
		tmp := buf[0]
		copy(buf, buf[1:])
		buf[len(buf)-1] = tmp
	} else {
		// right
		tmp := buf[len(buf)-1]
		copy(buf[1:], buf)
		buf[0] = tmp
	}
}

// Dispatch weights. The mixture is a design constant, not tunable at
// runtime; the weights sum to 16.
const (
	weightRandomChar = 1
	weightArith      = 2
	weightOverwrite  = 2
	weightCrossover  = 2
	weightDuplicate  = 2
	weightSpecial    = 4
	weightRotate     = 3
	totalWeight      = 16
)

// Apply mutates buf with one operator drawn from the weighted mixture.
// coparent is an arbitrary corpus entry buffer of the same length, extra
// the mined interesting-character bag; both may be empty.
func Apply[C CodeUnit](rnd *rand.Rand, buf, coparent, extra []C) {
	val := rnd.Intn(totalWeight)
	if val -= weightRandomChar; val < 0 {
		RandomChar(rnd, buf)
		return
	}
	if val -= weightArith; val < 0 {
		Arith(rnd, buf)
		return
	}
	if val -= weightOverwrite; val < 0 {
		OverwriteWithAnother(rnd, buf)
		return
	}
	if val -= weightCrossover; val < 0 {
		if len(coparent) == len(buf) {
			Crossover(rnd, buf, coparent)
		} else {
			RandomChar(rnd, buf)
		}
		return
	}
	if val -= weightDuplicate; val < 0 {
		DuplicateSubsequence(rnd, buf)
		return
	}
	if val -= weightSpecial; val < 0 {
		ReplaceWithSpecial(rnd, buf, extra)
		return
	}
	RotateOnce(rnd, buf)
}
