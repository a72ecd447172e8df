// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package matcher wraps the regexp engine behind the narrow surface the
// fuzzing core consumes: compile a pattern once, execute it against
// fixed-length subjects of either code-unit width, and hand back the
// coverage recorded during the run.
//
// Compilation happens once, up front. Executions are stateless and
// thread-safe: each execution claims a scratch space from a small
// mutex-protected free list and returns it when done. Scratch spaces are
// not pinned to a thread.
package matcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/cover"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/interesting"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/rebc"
)

var (
	// ErrBadStrRepresentation reports that the engine demoted a two-byte
	// subject to a one-byte representation; the execution did not exercise
	// the width that was asked for and its result must be discarded.
	ErrBadStrRepresentation = errors.New("subject was demoted to one-byte representation")

	// ErrViolateMaxTotal reports that the per-execution coverage bound was
	// exceeded. The partial coverage map is still returned alongside it.
	ErrViolateMaxTotal = errors.New("coverage total exceeded the execution bound")
)

// CompileError wraps any failure to turn a pattern into a drivable
// bytecode program.
type CompileError struct {
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot compile /%s/: %v", e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Flags is the parsed pattern flag set.
type Flags struct {
	Global     bool
	IgnoreCase bool
	Multiline  bool
	DotAll     bool
	Unicode    bool
	Sticky     bool // accepted and ignored: execution is single-shot
}

// ParseFlags parses a flag string over {g, i, m, s, u, y}.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, c := range s {
		switch c {
		case 'g':
			f.Global = true
		case 'i':
			f.IgnoreCase = true
		case 'm':
			f.Multiline = true
		case 's':
			f.DotAll = true
		case 'u':
			f.Unicode = true
		case 'y':
			f.Sticky = true
		default:
			return Flags{}, fmt.Errorf("unknown regexp flag %q", string(c))
		}
	}
	return f, nil
}

// Outcome is the result of one execution.
type Outcome struct {
	Matched  bool
	Coverage *cover.Map
}

// matchInfo is the execution scratch space. Claimed from the adapter's
// free list and held for the duration of one execution.
type matchInfo struct {
	scratch rebc.Scratch
	next    *matchInfo
}

// Adapter owns the compiled artifacts and the scratch free list.
type Adapter struct {
	mu   sync.Mutex
	free *matchInfo
}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) acquire() *matchInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mi := a.free; mi != nil {
		a.free = mi.next
		return mi
	}
	return &matchInfo{}
}

func (a *Adapter) release(mi *matchInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mi.next = a.free
	a.free = mi
}

// Regexp is one compiled pattern, ready to execute at either width.
// Immutable after Compile; safe for concurrent executions.
type Regexp struct {
	adapter *Adapter
	pattern string
	flags   Flags
	prog8   *rebc.Program
	prog16  *rebc.Program
}

// Compile parses flags, compiles the pattern for both widths and primes
// each program with one execution so the engine commits to interpretable
// bytecode for both representations before fuzzing starts.
func (a *Adapter) Compile(pattern string, flagStr string) (*Regexp, error) {
	flags, err := ParseFlags(flagStr)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}
	opts := rebc.Options{
		FoldCase:  flags.IgnoreCase,
		Multiline: flags.Multiline,
		DotAll:    flags.DotAll,
		Unicode:   flags.Unicode,
	}
	prog8, err := rebc.Compile(pattern, opts, 1)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}
	prog16, err := rebc.Compile(pattern, opts, 2)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}
	if !drivable(prog8) {
		return nil, &CompileError{Pattern: pattern, Err: errors.New("pattern compiles to a trivial matcher")}
	}
	re := &Regexp{adapter: a, pattern: pattern, flags: flags, prog8: prog8, prog16: prog16}

	// Priming subjects: one per width, the two-byte one starting with a
	// character outside latin-1 so the wide path is actually taken.
	if _, err := Exec(re, []byte("0123"), -1); err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}
	if _, err := Exec(re, []uint16{0x03b3, '1', '2', '3'}, -1); err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}
	return re, nil
}

// drivable reports whether the program contains at least one character
// check for the fuzzer to steer against.
func drivable(p *rebc.Program) bool {
	found := false
	err := rebc.Scanner{}.Scan(p.Bytes(), func(in interesting.Inst) {
		if in.Kind != interesting.KindOther {
			found = true
		}
	})
	return err == nil && found
}

// Pattern returns the source text the regexp was compiled from.
func (re *Regexp) Pattern() string { return re.pattern }

// Bytecode returns the compiled instruction stream for the given width.
func (re *Regexp) Bytecode(width int) []byte {
	if width == 2 {
		return re.prog16.Bytes()
	}
	return re.prog8.Bytes()
}

// Scanner returns the decoder matching the Bytecode encoding.
func (re *Regexp) Scanner() interesting.BytecodeScanner {
	return rebc.Scanner{}
}

func wide[C rebc.CodeUnit]() bool {
	return ^C(0) > 0xff
}

// Exec runs the compiled pattern against subject. A non-negative maxTotal
// bounds the coverage total; exceeding it returns ErrViolateMaxTotal with
// the partial coverage map still populated in the outcome.
func Exec[C rebc.CodeUnit](re *Regexp, subject []C, maxTotal int64) (Outcome, error) {
	prog := re.prog8
	if wide[C]() {
		prog = re.prog16
	}
	mi := re.adapter.acquire()
	defer re.adapter.release(mi)

	cov := cover.New(len(subject))
	matched, err := rebc.Run(prog, subject, cov, maxTotal, &mi.scratch)
	out := Outcome{Matched: matched, Coverage: cov}
	if errors.Is(err, rebc.ErrBudgetExceeded) {
		return out, ErrViolateMaxTotal
	}
	if err != nil {
		return out, err
	}
	return out, nil
}
