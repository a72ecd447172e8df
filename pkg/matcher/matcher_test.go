// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package matcher

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("gimsuy")
	require.NoError(t, err)
	assert.True(t, f.Global)
	assert.True(t, f.IgnoreCase)
	assert.True(t, f.Multiline)
	assert.True(t, f.DotAll)
	assert.True(t, f.Unicode)
	assert.True(t, f.Sticky)

	_, err = ParseFlags("gx")
	assert.Error(t, err)
}

func TestCompileRejectsBadPattern(t *testing.T) {
	a := NewAdapter()
	_, err := a.Compile("fo[o", "")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestCompileRejectsBadFlags(t *testing.T) {
	a := NewAdapter()
	_, err := a.Compile("foo", "z")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestCompileRejectsTrivialMatcher(t *testing.T) {
	a := NewAdapter()
	_, err := a.Compile("", "")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestExecBothWidths(t *testing.T) {
	a := NewAdapter()
	re, err := a.Compile("fo[o]", "")
	require.NoError(t, err)

	out, err := Exec(re, []byte("foo"), -1)
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.NotZero(t, out.Coverage.Total())

	out, err = Exec(re, []uint16{'f', 'o', 'o'}, -1)
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.NotZero(t, out.Coverage.Total())

	out, err = Exec(re, []byte("bar"), -1)
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.NotZero(t, out.Coverage.Total())
}

func TestExecMaxTotal(t *testing.T) {
	a := NewAdapter()
	re, err := a.Compile(`^\d+1\d+2`, "")
	require.NoError(t, err)

	subject := []byte(strings.Repeat("1", 64) + "3")
	out, err := Exec(re, subject, 50)
	require.ErrorIs(t, err, ErrViolateMaxTotal)
	assert.NotZero(t, out.Coverage.Total(), "partial coverage must be returned")
}

func TestBytecodePerWidth(t *testing.T) {
	a := NewAdapter()
	re, err := a.Compile("abc", "")
	require.NoError(t, err)
	assert.NotEmpty(t, re.Bytecode(1))
	assert.NotEmpty(t, re.Bytecode(2))
	assert.NotNil(t, re.Scanner())
}

func TestConcurrentExec(t *testing.T) {
	a := NewAdapter()
	re, err := a.Compile("(cat|dog)[0-9]+x", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				out, err := Exec(re, []byte("ccdog42xzz"), -1)
				if err != nil || !out.Matched {
					t.Errorf("exec: matched=%v err=%v", out.Matched, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestExecDeterministic(t *testing.T) {
	a := NewAdapter()
	re, err := a.Compile("a+b", "")
	require.NoError(t, err)
	first, err := Exec(re, []byte("aaaaaac"), -1)
	require.NoError(t, err)
	second, err := Exec(re, []byte("aaaaaac"), -1)
	require.NoError(t, err)
	assert.Equal(t, first.Coverage.Hash(), second.Coverage.Hash())
	assert.Equal(t, first.Coverage.Total(), second.Coverage.Total())
}
