// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rebc

import (
	"fmt"
	"regexp/syntax"
	"unicode"
)

// Options select the dialect the pattern is parsed with. They mirror the
// pattern flags the matcher accepts; width-independent.
type Options struct {
	FoldCase  bool
	Multiline bool
	DotAll    bool
	Unicode   bool
}

// Compile translates pattern into a bytecode program for the given
// code-unit width (1 or 2 bytes).
func Compile(pattern string, opts Options, width int) (*Program, error) {
	if width != 1 && width != 2 {
		return nil, fmt.Errorf("unsupported code unit width %d", width)
	}
	flags := syntax.Perl
	if opts.FoldCase {
		flags |= syntax.FoldCase
	}
	if opts.DotAll {
		flags |= syntax.DotNL
	}
	if opts.Multiline {
		flags &^= syntax.OneLine
	}
	re, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, err
	}
	re = re.Simplify()

	c := &compiler{width: width, multiline: opts.Multiline}
	if err := c.program(re); err != nil {
		return nil, err
	}
	return &Program{
		Words:   c.finish(),
		Width:   width,
		NumMark: c.maxMark,
		MinLen:  minWidth(re),
	}, nil
}

type label int

type fixup struct {
	word  int
	label label
}

type compiler struct {
	words     []uint32
	labels    []int // word index of each bound label, -1 if unbound
	fixups    []fixup
	width     int
	multiline bool
	curMark   int
	maxMark   int
}

func (c *compiler) maxChar() uint32 {
	if c.width == 1 {
		return 0xff
	}
	return 0xffff
}

func (c *compiler) newLabel() label {
	c.labels = append(c.labels, -1)
	return label(len(c.labels) - 1)
}

func (c *compiler) bind(l label) {
	c.labels[l] = len(c.words)
}

func (c *compiler) op(op Op, arg uint32) {
	c.words = append(c.words, word0(op, arg))
}

func (c *compiler) operand(v uint32) {
	c.words = append(c.words, v)
}

func (c *compiler) target(l label) {
	c.fixups = append(c.fixups, fixup{word: len(c.words), label: l})
	c.words = append(c.words, 0)
}

func (c *compiler) finish() []uint32 {
	for _, f := range c.fixups {
		pos := c.labels[f.label]
		if pos < 0 {
			panic("rebc: unbound label")
		}
		c.words[f.word] = uint32(pos * 4)
	}
	return c.words
}

func (c *compiler) pushMark() int {
	m := c.curMark
	c.curMark++
	if c.curMark > c.maxMark {
		c.maxMark = c.curMark
	}
	return m
}

func (c *compiler) popMark() {
	c.curMark--
}

// program emits the whole match program: the search preamble (unless the
// pattern is anchored at the subject start), the pattern body, and the
// final success/failure opcodes.
func (c *compiler) program(re *syntax.Regexp) error {
	if anchoredAtStart(re) && !c.multiline {
		if err := c.node(re); err != nil {
			return err
		}
		c.op(OpSucceed, 0)
		return nil
	}

	body := c.newLabel()
	fail := c.newLabel()
	if first, fold, ok := firstRequiredChar(re, c.maxChar()); ok {
		scan := c.newLabel()
		found := c.newLabel()
		resume := c.newLabel()
		c.bind(scan)
		switch {
		case fold:
			// Case-insensitive ASCII letter: scan with the case bit masked off.
			c.op(OpSkipUntilCharAnd, first&^0x20)
			c.operand(c.maxChar() &^ 0x20)
			c.target(found)
			c.target(fail)
		case minWidth(re) > 1:
			c.op(OpSkipUntilCharPosChecked, first)
			c.operand(uint32(minWidth(re)))
			c.target(found)
			c.target(fail)
		default:
			c.op(OpSkipUntilChar, first)
			c.target(found)
			c.target(fail)
		}
		c.bind(found)
		c.op(OpPushBacktrack, 0)
		c.target(resume)
		c.op(OpGoto, 0)
		c.target(body)
		c.bind(resume)
		c.op(OpAdvance, 1)
		c.op(OpGoto, 0)
		c.target(scan)
	} else {
		start := c.newLabel()
		resume := c.newLabel()
		cont := c.newLabel()
		c.bind(start)
		c.op(OpPushBacktrack, 0)
		c.target(resume)
		c.op(OpGoto, 0)
		c.target(body)
		c.bind(resume)
		c.op(OpCheckNotAtEnd, 0)
		c.target(cont)
		c.op(OpFail, 0)
		c.bind(cont)
		c.op(OpAdvance, 1)
		c.op(OpGoto, 0)
		c.target(start)
	}
	c.bind(fail)
	c.op(OpFail, 0)
	c.bind(body)
	if err := c.node(re); err != nil {
		return err
	}
	c.op(OpSucceed, 0)
	return nil
}

func (c *compiler) node(re *syntax.Regexp) error {
	switch re.Op {
	case syntax.OpEmptyMatch:
		return nil
	case syntax.OpNoMatch:
		c.op(OpFail, 0)
		return nil
	case syntax.OpLiteral:
		return c.literal(re.Rune, re.Flags&syntax.FoldCase != 0)
	case syntax.OpCharClass:
		return c.class(re.Rune)
	case syntax.OpAnyChar:
		return c.class([]rune{0, rune(c.maxChar())})
	case syntax.OpAnyCharNotNL:
		return c.anyNotNL()
	case syntax.OpBeginText:
		ok := c.newLabel()
		c.op(OpCheckAtStart, 0)
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		return nil
	case syntax.OpEndText:
		ok := c.newLabel()
		c.op(OpCheckAtEnd, 0)
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		return nil
	case syntax.OpBeginLine:
		ok := c.newLabel()
		c.op(OpCheckAtStart, 0)
		c.target(ok)
		c.op(OpCheckPrevChar, '\n')
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		return nil
	case syntax.OpEndLine:
		ok := c.newLabel()
		c.op(OpCheckAtEnd, 0)
		c.target(ok)
		c.op(OpCheckChar, '\n')
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		return nil
	case syntax.OpCapture:
		return c.node(re.Sub[0])
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if err := c.node(sub); err != nil {
				return err
			}
		}
		return nil
	case syntax.OpAlternate:
		return c.alternate(re.Sub)
	case syntax.OpQuest:
		return c.quest(re.Sub[0], re.Flags&syntax.NonGreedy != 0)
	case syntax.OpStar:
		return c.star(re.Sub[0], re.Flags&syntax.NonGreedy != 0)
	case syntax.OpPlus:
		if err := c.node(re.Sub[0]); err != nil {
			return err
		}
		return c.star(re.Sub[0], re.Flags&syntax.NonGreedy != 0)
	case syntax.OpRepeat:
		return c.repeat(re)
	case syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return fmt.Errorf("word boundary assertions are not supported")
	default:
		return fmt.Errorf("unsupported regexp op %v", re.Op)
	}
}

func (c *compiler) literal(runes []rune, fold bool) error {
	for _, r := range runes {
		if uint32(r) > c.maxChar() {
			// The literal cannot occur in a subject of this width.
			c.op(OpFail, 0)
			return nil
		}
	}
	if fold {
		for _, r := range runes {
			if err := c.foldedChar(r); err != nil {
				return err
			}
		}
		return nil
	}
	i := 0
	// Long runs compare four bytes at a time; short runs stay per-char so
	// failed checks keep producing per-position suggestions.
	for c.width == 1 && len(runes)-i >= 8 {
		packed := uint32(runes[i]) | uint32(runes[i+1])<<8 |
			uint32(runes[i+2])<<16 | uint32(runes[i+3])<<24
		ok := c.newLabel()
		c.op(OpCheck4Chars, 0)
		c.operand(packed)
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		c.op(OpAdvance, 4)
		i += 4
	}
	for ; i < len(runes); i++ {
		ok := c.newLabel()
		c.op(OpCheckChar, uint32(runes[i]))
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		c.op(OpAdvance, 1)
	}
	return nil
}

// foldedChar emits a case-insensitive single-character check. ASCII
// letters use a masked compare; everything else chains the fold orbit.
func (c *compiler) foldedChar(r rune) error {
	if isASCIILetter(r) {
		ok := c.newLabel()
		c.op(OpAndCheckChar, uint32(r)&^0x20)
		c.operand(c.maxChar() &^ 0x20)
		c.target(ok)
		c.op(OpFail, 0)
		c.bind(ok)
		c.op(OpAdvance, 1)
		return nil
	}
	orbit := foldOrbit(r, c.maxChar())
	ok := c.newLabel()
	for _, o := range orbit {
		c.op(OpCheckChar, uint32(o))
		c.target(ok)
	}
	c.op(OpFail, 0)
	c.bind(ok)
	c.op(OpAdvance, 1)
	return nil
}

// class emits a character class from sorted, non-overlapping [lo, hi]
// rune pairs.
func (c *compiler) class(ranges []rune) error {
	maxc := c.maxChar()
	var clipped []rune
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := uint32(ranges[i]), uint32(ranges[i+1])
		if lo > maxc {
			continue
		}
		if hi > maxc {
			hi = maxc
		}
		clipped = append(clipped, rune(lo), rune(hi))
	}
	if len(clipped) == 0 {
		c.op(OpFail, 0)
		return nil
	}
	ok := c.newLabel()
	// A two-range class that covers everything except one middle gap is
	// the complement of a single range.
	if len(clipped) == 4 &&
		clipped[0] == 0 && uint32(clipped[3]) == maxc &&
		clipped[2] > clipped[1]+1 {
		c.op(OpCheckCharNotInRange, 0)
		c.operand(uint32(clipped[1] + 1))
		c.operand(uint32(clipped[2] - 1))
		c.target(ok)
	} else {
		for i := 0; i+1 < len(clipped); i += 2 {
			lo, hi := uint32(clipped[i]), uint32(clipped[i+1])
			switch {
			case lo == hi:
				c.op(OpCheckChar, lo)
				c.target(ok)
			case lo == 0 && hi < maxc:
				c.op(OpCheckLT, hi+1)
				c.target(ok)
			case hi == maxc && lo > 0:
				c.op(OpCheckGT, lo-1)
				c.target(ok)
			default:
				c.op(OpCheckCharInRange, 0)
				c.operand(lo)
				c.operand(hi)
				c.target(ok)
			}
		}
	}
	c.op(OpFail, 0)
	c.bind(ok)
	c.op(OpAdvance, 1)
	return nil
}

func (c *compiler) anyNotNL() error {
	ok := c.newLabel()
	c.op(OpCheckNotChar, '\n')
	c.target(ok)
	c.op(OpFail, 0)
	c.bind(ok)
	c.op(OpAdvance, 1)
	return nil
}

func (c *compiler) alternate(subs []*syntax.Regexp) error {
	end := c.newLabel()
	for i, sub := range subs {
		if i == len(subs)-1 {
			if err := c.node(sub); err != nil {
				return err
			}
			break
		}
		next := c.newLabel()
		c.op(OpPushBacktrack, 0)
		c.target(next)
		if err := c.node(sub); err != nil {
			return err
		}
		c.op(OpGoto, 0)
		c.target(end)
		c.bind(next)
	}
	c.bind(end)
	return nil
}

func (c *compiler) quest(sub *syntax.Regexp, lazy bool) error {
	if lazy {
		bodyL := c.newLabel()
		skip := c.newLabel()
		c.op(OpPushBacktrack, 0)
		c.target(bodyL)
		c.op(OpGoto, 0)
		c.target(skip)
		c.bind(bodyL)
		if err := c.node(sub); err != nil {
			return err
		}
		c.bind(skip)
		return nil
	}
	skip := c.newLabel()
	c.op(OpPushBacktrack, 0)
	c.target(skip)
	if err := c.node(sub); err != nil {
		return err
	}
	c.bind(skip)
	return nil
}

func (c *compiler) star(sub *syntax.Regexp, lazy bool) error {
	mark := c.pushMark()
	defer c.popMark()
	if lazy {
		start := c.newLabel()
		bodyL := c.newLabel()
		end := c.newLabel()
		c.bind(start)
		c.op(OpPushBacktrack, 0)
		c.target(bodyL)
		c.op(OpGoto, 0)
		c.target(end)
		c.bind(bodyL)
		c.op(OpSetMark, uint32(mark))
		if err := c.node(sub); err != nil {
			return err
		}
		c.op(OpCheckProgress, uint32(mark))
		c.target(start)
		c.target(end)
		c.bind(end)
		return nil
	}
	loop := c.newLabel()
	out := c.newLabel()
	c.bind(loop)
	c.op(OpSetMark, uint32(mark))
	c.op(OpPushBacktrack, 0)
	c.target(out)
	if err := c.node(sub); err != nil {
		return err
	}
	c.op(OpCheckProgress, uint32(mark))
	c.target(loop)
	c.target(out)
	c.bind(out)
	return nil
}

func (c *compiler) repeat(re *syntax.Regexp) error {
	sub := re.Sub[0]
	for i := 0; i < re.Min; i++ {
		if err := c.node(sub); err != nil {
			return err
		}
	}
	if re.Max < 0 {
		return c.star(sub, re.Flags&syntax.NonGreedy != 0)
	}
	for i := re.Min; i < re.Max; i++ {
		if err := c.quest(sub, re.Flags&syntax.NonGreedy != 0); err != nil {
			return err
		}
	}
	return nil
}

func isASCIILetter(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z'
}

// foldOrbit returns the simple-case-fold orbit of r, restricted to maxc.
func foldOrbit(r rune, maxc uint32) []rune {
	orbit := []rune{r}
	for o := unicode.SimpleFold(r); o != r; o = unicode.SimpleFold(o) {
		if uint32(o) <= maxc {
			orbit = append(orbit, o)
		}
	}
	return orbit
}

// anchoredAtStart reports whether every match attempt must begin at the
// subject start, which lets the compiler drop the search preamble.
func anchoredAtStart(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpBeginText:
		return true
	case syntax.OpConcat, syntax.OpCapture:
		if len(re.Sub) > 0 {
			return anchoredAtStart(re.Sub[0])
		}
	}
	return false
}

// firstRequiredChar returns a character every match must begin with, if
// one exists, along with whether it is a case-folded ASCII letter.
func firstRequiredChar(re *syntax.Regexp, maxc uint32) (uint32, bool, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		if len(re.Rune) == 0 || uint32(re.Rune[0]) > maxc {
			return 0, false, false
		}
		r := re.Rune[0]
		if re.Flags&syntax.FoldCase != 0 {
			if isASCIILetter(r) {
				return uint32(r), true, true
			}
			return 0, false, false
		}
		return uint32(r), false, true
	case syntax.OpCapture:
		return firstRequiredChar(re.Sub[0], maxc)
	case syntax.OpPlus:
		return firstRequiredChar(re.Sub[0], maxc)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if minWidth(sub) > 0 || sub.Op == syntax.OpPlus {
				return firstRequiredChar(sub, maxc)
			}
			switch sub.Op {
			case syntax.OpBeginText, syntax.OpBeginLine, syntax.OpEmptyMatch:
				continue
			}
			return 0, false, false
		}
	}
	return 0, false, false
}

// minWidth returns the minimum number of code units one match consumes.
func minWidth(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune)
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return 1
	case syntax.OpCapture:
		return minWidth(re.Sub[0])
	case syntax.OpConcat:
		n := 0
		for _, sub := range re.Sub {
			n += minWidth(sub)
		}
		return n
	case syntax.OpAlternate:
		n := -1
		for _, sub := range re.Sub {
			w := minWidth(sub)
			if n < 0 || w < n {
				n = w
			}
		}
		if n < 0 {
			return 0
		}
		return n
	case syntax.OpPlus:
		return minWidth(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min * minWidth(re.Sub[0])
	}
	return 0
}
