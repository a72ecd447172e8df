// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package interesting statically mines character literals out of compiled
// regexp bytecode. Mutating toward characters the pattern actually checks
// for reaches the deeper comparisons far sooner than uniform randomness.
//
// The finder itself is engine-agnostic: it consumes a stream of decoded
// instructions from a BytecodeScanner and only interprets the small
// enumerated subset of character-checking forms below.
package interesting

// Kind classifies a decoded instruction for extraction purposes.
type Kind int

const (
	KindOther Kind = iota
	KindCheckChar
	KindCheckNotChar
	KindCheck4Chars
	KindCheckNot4Chars
	KindAndCheckChar
	KindAndCheckNotChar
	KindAndCheck4Chars
	KindAndCheckNot4Chars
	KindCheckCharInRange
	KindCheckCharNotInRange
	KindCheckLT
	KindCheckGT
	KindSkipUntilChar
	KindSkipUntilCharPosChecked
	KindSkipUntilCharAnd
)

// Inst is one decoded instruction. Only the fields relevant to its Kind
// are meaningful.
type Inst struct {
	Kind     Kind
	Char     uint32   // single-char forms, LT/GT limits, skip-until chars
	Chars    [4]uint8 // packed operand of the 4-char forms
	From, To uint32   // range forms
	Mask     uint32   // And* forms
}

// BytecodeScanner walks a compiled bytecode buffer and reports each
// instruction. Implemented by the engine that produced the bytecode.
type BytecodeScanner interface {
	Scan(code []byte, visit func(Inst)) error
}

// Extract mines the deduplicated, ascending list of character values worth
// mutating toward. The NUL character is never reported. When the bytecode
// holds a 4-char comparison but width is two bytes the extraction cannot
// be trusted and an empty list is returned, as is one on scan errors.
func Extract(scanner BytecodeScanner, code []byte, width int) []uint16 {
	charMask := uint32(0xff)
	if width == 2 {
		charMask = 0xffff
	}
	seen := make([]uint64, (int(charMask)+1)/64)
	set := func(c uint32) {
		c &= charMask
		seen[c/64] |= 1 << (c % 64)
	}
	// One-byte literals are wider than a byte in some encodings; cover
	// every byte of the operand like the interpreter's comparisons do.
	setBytes := func(c uint32) {
		if width == 1 {
			set(c & 0xff)
			set(c >> 8 & 0xff)
			set(c >> 16 & 0xff)
			set(c >> 24 & 0xff)
		} else {
			set(c & 0xffff)
		}
	}

	widthConflict := false
	err := scanner.Scan(code, func(in Inst) {
		switch in.Kind {
		case KindCheck4Chars, KindCheckNot4Chars:
			if width != 1 {
				widthConflict = true
				return
			}
			for _, b := range in.Chars {
				set(uint32(b))
			}
		case KindAndCheck4Chars, KindAndCheckNot4Chars:
			if width != 1 {
				widthConflict = true
				return
			}
			packed := uint32(in.Chars[0]) | uint32(in.Chars[1])<<8 |
				uint32(in.Chars[2])<<16 | uint32(in.Chars[3])<<24
			setBytes(packed)
			// The negated mask marks the don't-care bits: setting them
			// yields another char the comparison accepts.
			setBytes(packed | ^in.Mask)
		case KindCheckChar, KindCheckNotChar:
			if width == 1 {
				set(in.Char & 0xff)
				set(in.Char >> 8 & 0xff)
				set(in.Char >> 16 & 0xff)
			} else {
				set(in.Char & 0xffff)
			}
		case KindAndCheckChar, KindAndCheckNotChar, KindSkipUntilCharAnd:
			setBytes(in.Char)
			setBytes(in.Char | ^in.Mask)
		case KindCheckCharInRange, KindCheckCharNotInRange:
			set(in.From)
			set(in.From - 1)
			set(in.To)
			set(in.To + 1)
		case KindCheckLT:
			set(in.Char)
			set(in.Char - 1)
		case KindCheckGT:
			set(in.Char)
			set(in.Char + 1)
		case KindSkipUntilChar, KindSkipUntilCharPosChecked:
			set(in.Char)
		}
	})
	if err != nil || widthConflict {
		return nil
	}

	var out []uint16
	for c := uint32(1); c <= charMask; c++ {
		if seen[c/64]&(1<<(c%64)) != 0 {
			out = append(out, uint16(c))
		}
	}
	return out
}
