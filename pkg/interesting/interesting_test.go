// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package interesting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/interesting"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/rebc"
)

func compile(t *testing.T, pattern string, opts rebc.Options, width int) []byte {
	t.Helper()
	prog, err := rebc.Compile(pattern, opts, width)
	require.NoError(t, err)
	return prog.Bytes()
}

func extract(t *testing.T, pattern string, opts rebc.Options, width int) []uint16 {
	return interesting.Extract(rebc.Scanner{}, compile(t, pattern, opts, width), width)
}

func TestExtractLiteralChars(t *testing.T) {
	chars := extract(t, "fo[o]", rebc.Options{}, 1)
	assert.Contains(t, chars, uint16('f'))
	assert.Contains(t, chars, uint16('o'))
}

func TestExtractRangeBoundaries(t *testing.T) {
	chars := extract(t, "x[b-d]", rebc.Options{}, 1)
	for _, want := range []uint16{'a', 'b', 'd', 'e'} {
		assert.Contains(t, chars, want, "boundary-adjacent char %c", rune(want))
	}
}

func TestExtractCaseMaskedChars(t *testing.T) {
	// Case-insensitive ASCII compiles to a masked compare; the literal and
	// the literal with the don't-care bit set are both interesting.
	chars := extract(t, "kz", rebc.Options{FoldCase: true}, 1)
	assert.Contains(t, chars, uint16('K'))
	assert.Contains(t, chars, uint16('k'))
	assert.Contains(t, chars, uint16('Z'))
	assert.Contains(t, chars, uint16('z'))
}

func TestExtractSortedDeduplicated(t *testing.T) {
	chars := extract(t, "abcba", rebc.Options{}, 1)
	seen := map[uint16]bool{}
	for i, c := range chars {
		assert.False(t, seen[c], "duplicate %c", rune(c))
		seen[c] = true
		if i > 0 {
			assert.Less(t, chars[i-1], c, "ascending order")
		}
	}
	assert.NotContains(t, chars, uint16(0), "NUL is never interesting")
}

func TestExtractTwoByteWide(t *testing.T) {
	chars := extract(t, "a☃", rebc.Options{}, 2)
	assert.Contains(t, chars, uint16('a'))
	assert.Contains(t, chars, uint16(0x2603))
}

func TestExtractFourCharAtTwoByteWidthFails(t *testing.T) {
	// Hand-assemble a two-byte program carrying a 4-char comparison: the
	// extraction cannot interpret it at that width and reports nothing.
	prog := &rebc.Program{
		Words: []uint32{
			uint32(rebc.OpCheck4Chars),
			0x64636261, // "abcd"
			4 * 4,      // jump target (word 4, the OpSucceed below)
			uint32(rebc.OpFail),
			uint32(rebc.OpSucceed),
		},
		Width: 2,
	}
	chars := interesting.Extract(rebc.Scanner{}, prog.Bytes(), 2)
	assert.Empty(t, chars)

	// The same program read at one-byte width yields the packed chars.
	chars = interesting.Extract(rebc.Scanner{}, prog.Bytes(), 1)
	for _, want := range []uint16{'a', 'b', 'c', 'd'} {
		assert.Contains(t, chars, want)
	}
}

func TestExtractTruncatedBytecode(t *testing.T) {
	assert.Empty(t, interesting.Extract(rebc.Scanner{}, []byte{1, 2, 3}, 1))
}

func TestExtractSkipUntilChar(t *testing.T) {
	// An unanchored pattern with a required first char compiles to a
	// skip-until scan; the scanned-for char must be reported.
	chars := extract(t, "q[0-9]+", rebc.Options{}, 1)
	assert.Contains(t, chars, uint16('q'))
	assert.Contains(t, chars, uint16('0'))
	assert.Contains(t, chars, uint16('9'))
}
