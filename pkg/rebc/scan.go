// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rebc

import (
	"encoding/binary"
	"fmt"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/interesting"
)

// Scanner decodes serialized rebc programs for the interesting-character
// finder. It implements interesting.BytecodeScanner.
type Scanner struct{}

func (Scanner) Scan(code []byte, visit func(interesting.Inst)) error {
	if len(code)%4 != 0 {
		return fmt.Errorf("truncated bytecode: %d bytes", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	for pc := 0; pc < len(words); {
		w := words[pc]
		op := opOf(w)
		if op >= opCount || pc+instrLen[op] > len(words) {
			return fmt.Errorf("invalid instruction at word %d", pc)
		}
		var in interesting.Inst
		switch op {
		case OpCheckChar:
			in = interesting.Inst{Kind: interesting.KindCheckChar, Char: argOf(w)}
		case OpCheckNotChar:
			in = interesting.Inst{Kind: interesting.KindCheckNotChar, Char: argOf(w)}
		case OpCheck4Chars:
			in = interesting.Inst{Kind: interesting.KindCheck4Chars, Chars: unpack4(words[pc+1])}
		case OpCheckNot4Chars:
			in = interesting.Inst{Kind: interesting.KindCheckNot4Chars, Chars: unpack4(words[pc+1])}
		case OpAndCheckChar:
			in = interesting.Inst{Kind: interesting.KindAndCheckChar, Char: argOf(w), Mask: words[pc+1]}
		case OpAndCheckNotChar:
			in = interesting.Inst{Kind: interesting.KindAndCheckNotChar, Char: argOf(w), Mask: words[pc+1]}
		case OpAndCheck4Chars:
			in = interesting.Inst{Kind: interesting.KindAndCheck4Chars, Chars: unpack4(words[pc+1]), Mask: words[pc+2]}
		case OpAndCheckNot4Chars:
			in = interesting.Inst{Kind: interesting.KindAndCheckNot4Chars, Chars: unpack4(words[pc+1]), Mask: words[pc+2]}
		case OpCheckCharInRange:
			in = interesting.Inst{Kind: interesting.KindCheckCharInRange, From: words[pc+1], To: words[pc+2]}
		case OpCheckCharNotInRange:
			in = interesting.Inst{Kind: interesting.KindCheckCharNotInRange, From: words[pc+1], To: words[pc+2]}
		case OpCheckLT:
			in = interesting.Inst{Kind: interesting.KindCheckLT, Char: argOf(w)}
		case OpCheckGT:
			in = interesting.Inst{Kind: interesting.KindCheckGT, Char: argOf(w)}
		case OpSkipUntilChar:
			in = interesting.Inst{Kind: interesting.KindSkipUntilChar, Char: argOf(w)}
		case OpSkipUntilCharPosChecked:
			in = interesting.Inst{Kind: interesting.KindSkipUntilCharPosChecked, Char: argOf(w)}
		case OpSkipUntilCharAnd:
			in = interesting.Inst{Kind: interesting.KindSkipUntilCharAnd, Char: argOf(w), Mask: words[pc+1]}
		default:
			in = interesting.Inst{Kind: interesting.KindOther}
		}
		visit(in)
		pc += instrLen[op]
	}
	return nil
}

func unpack4(w uint32) [4]uint8 {
	return [4]uint8{uint8(w), uint8(w >> 8), uint8(w >> 16), uint8(w >> 24)}
}
