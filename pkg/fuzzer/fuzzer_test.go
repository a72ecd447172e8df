// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"container/list"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/matcher"
)

func TestConfigValidate(t *testing.T) {
	good := Config{
		Pattern:  "foo",
		Lengths:  []int{10},
		Widths:   []int{1},
		NThreads: 1,
	}
	require.NoError(t, good.Validate())

	for name, mutate := range map[string]func(*Config){
		"empty pattern":  func(c *Config) { c.Pattern = "" },
		"no lengths":     func(c *Config) { c.Lengths = nil },
		"length zero":    func(c *Config) { c.Lengths = []int{0} },
		"length too big": func(c *Config) { c.Lengths = []int{70000} },
		"no widths":      func(c *Config) { c.Widths = nil },
		"bad width":      func(c *Config) { c.Widths = []int{3} },
		"no threads":     func(c *Config) { c.NThreads = 0 },
	} {
		cfg := good
		mutate(&cfg)
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}
}

func TestEncodeSubject(t *testing.T) {
	assert.Equal(t, `ab\x07`, EncodeSubject([]uint8{'a', 'b', 0x07}))
	assert.Equal(t, `\\`, EncodeSubject([]uint8{'\\'}))
	assert.Equal(t, `a\u2603\u0007`, EncodeSubject([]uint16{'a', 0x2603, 0x07}))
}

func newTestFuzzer(t *testing.T, cfg *Config) (*Fuzzer, *matcher.Regexp) {
	t.Helper()
	re, err := matcher.NewAdapter().Compile(cfg.Pattern, cfg.Flags)
	require.NoError(t, err)
	f := &Fuzzer{Stats: newStats(), Config: cfg, regexp: re, work: list.New()}
	f.cond = sync.NewCond(&f.mu)
	return f, re
}

func TestCampaignSeeding(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o]", Lengths: []int{6}, Widths: []int{1}, NThreads: 1,
	}
	f, re := newTestFuzzer(t, cfg)
	c, err := newCampaign[uint8](f, re, 6, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, c.corpus.FlushedLen())
	assert.Contains(t, c.corpus.Interesting(), uint8('f'))
	assert.Contains(t, c.corpus.Interesting(), uint8('o'))
	best := c.corpus.Best()
	require.NotNil(t, best)
	assert.NotZero(t, best.Coverage.Total())
}

func TestCampaignTextSeeds(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o]", Lengths: []int{6}, Widths: []int{1}, NThreads: 1,
		TextSeeds: []string{"foofoo", "too-long-for-this-campaign"},
	}
	f, re := newTestFuzzer(t, cfg)
	c, err := newCampaign[uint8](f, re, 6, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	// The baseline plus the one matching-length seed.
	assert.Equal(t, 2, c.corpus.FlushedLen())
}

func TestCampaignStepMakesProgress(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o]", Lengths: []int{6}, Widths: []int{1},
		NThreads: 1, NChildren: 20, MaxTotal: -1,
	}
	f, re := newTestFuzzer(t, cfg)
	c, err := newCampaign[uint8](f, re, 6, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	out := c.step(time.Time{}, -1)
	assert.False(t, out.retire)
	assert.NotZero(t, c.execs)
}

func TestRunUntilDeadline(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o]", Flags: "",
		Lengths: []int{6}, Widths: []int{1, 2},
		TimeoutSecs: 1, StallSecs: -1, MaxTotal: -1,
		NThreads: 2, Seed: 1, NChildren: 20,
	}
	f, err := New(cfg)
	require.NoError(t, err)
	f.Run()

	results := f.Results()
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "deadline", res.Reason)
		assert.NotZero(t, res.Execs)
		assert.NotZero(t, res.SlowestTotal)
		assert.GreaterOrEqual(t, res.CorpusSize, 1)
	}
	assert.False(t, f.MaxTotalFound())
	_, ok := f.Slowest()
	assert.True(t, ok)
}

func TestRunRetiresOnStall(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o]",
		Lengths: []int{4}, Widths: []int{1},
		TimeoutSecs: -1, StallSecs: 0, MaxTotal: -1,
		NThreads: 1, Seed: 1, NChildren: 5,
	}
	f, err := New(cfg)
	require.NoError(t, err)
	f.Run()

	results := f.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "stall", results[0].Reason)
}

func TestRunStopsOnMaxTotal(t *testing.T) {
	// Every child of the all-'a' seed keeps a long a-run, so the very
	// first bounded execution blows a budget of 30.
	cfg := &Config{
		Pattern: "a+b",
		Lengths: []int{20}, Widths: []int{1},
		TimeoutSecs: 30, StallSecs: -1, MaxTotal: 30,
		NThreads: 1, Seed: 1, NChildren: 10,
	}
	f, err := New(cfg)
	require.NoError(t, err)
	f.Run()

	assert.True(t, f.MaxTotalFound())
	results := f.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "max-total", results[0].Reason)
	assert.NotZero(t, results[0].SlowestTotal)
}

func TestNewRejectsBadPattern(t *testing.T) {
	cfg := &Config{
		Pattern: "fo[o", Lengths: []int{4}, Widths: []int{1}, NThreads: 1,
	}
	_, err := New(cfg)
	var ce *matcher.CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := &Config{Pattern: "foo"}
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []Event
	retired []CampaignResult
}

func (o *recordingObserver) Progress(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) CampaignRetired(res CampaignResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retired = append(o.retired, res)
}

func TestObserverReceivesRetirement(t *testing.T) {
	obs := &recordingObserver{}
	cfg := &Config{
		Pattern: "fo[o]",
		Lengths: []int{4}, Widths: []int{1},
		TimeoutSecs: -1, StallSecs: 0, MaxTotal: -1,
		NThreads: 1, Seed: 1, NChildren: 5,
		Observer: obs,
	}
	f, err := New(cfg)
	require.NoError(t, err)
	f.Run()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.retired, 1)
	assert.Equal(t, 1, obs.retired[0].Width)
	assert.Equal(t, 4, obs.retired[0].Length)
}
