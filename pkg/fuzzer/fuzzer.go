// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer drives coverage-guided search for catastrophic
// backtracking inputs: it owns the campaigns (one per subject length and
// code-unit width), schedules them over a fixed worker pool and reports
// progress to an observer.
package fuzzer

import (
	"container/list"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/matcher"
)

// Fuzzer is one configured fuzzing run.
type Fuzzer struct {
	Stats
	Config *Config

	regexp *matcher.Regexp

	// Campaign scheduling state: a list of runnable campaigns, workers
	// detach the head, work one slice, and re-attach at the tail.
	mu          sync.Mutex
	cond        *sync.Cond
	work        *list.List
	activeCount int

	stop        atomic.Bool
	maxTotalHit atomic.Bool

	resultsMu sync.Mutex
	results   []CampaignResult
}

// New validates the configuration, compiles the pattern and seeds one
// campaign per (length, width) pair. Individual seed failures only lose
// that campaign; New fails when the configuration or compilation is bad,
// or no campaign could start at all.
func New(cfg *Config) (*Fuzzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	adapter := matcher.NewAdapter()
	re, err := adapter.Compile(cfg.Pattern, cfg.Flags)
	if err != nil {
		return nil, err
	}
	f := &Fuzzer{
		Stats:  newStats(),
		Config: cfg,
		regexp: re,
		work:   list.New(),
	}
	f.cond = sync.NewCond(&f.mu)

	baseSeed := int64(cfg.Seed)
	if cfg.Seed == 0 {
		baseSeed = time.Now().UnixNano()
	}
	idx := int64(0)
	for _, width := range cfg.Widths {
		for _, length := range cfg.Lengths {
			idx++
			rnd := rand.New(rand.NewSource(baseSeed + idx))
			var c campaignRunner
			var seedErr error
			switch width {
			case 1:
				c, seedErr = newCampaign[uint8](f, re, length, rnd)
			case 2:
				c, seedErr = newCampaign[uint16](f, re, length, rnd)
			}
			if seedErr != nil {
				cfg.logf(0, "campaign %d-byte/len=%d failed to start: %v", width, length, seedErr)
				f.statCampaignsFailed.Add(1)
				continue
			}
			f.statCampaigns.Add(1)
			f.work.PushBack(c)
			f.activeCount++
		}
	}
	if f.activeCount == 0 {
		return nil, errors.New("no campaign could be seeded")
	}
	return f, nil
}

// Pattern returns the compiled pattern source.
func (f *Fuzzer) Pattern() string {
	return f.regexp.Pattern()
}

// Run fuzzes until the global deadline passes, every campaign stalls out,
// or an execution exceeds the coverage bound. It blocks until all workers
// finished.
func (f *Fuzzer) Run() {
	var deadline time.Time
	if f.Config.TimeoutSecs >= 0 {
		deadline = time.Now().Add(time.Duration(f.Config.TimeoutSecs) * time.Second)
	}
	stallLimit := time.Duration(-1)
	if f.Config.StallSecs >= 0 {
		stallLimit = time.Duration(f.Config.StallSecs) * time.Second
	}

	workers := f.Config.NThreads
	if workers > f.activeCount {
		workers = f.activeCount
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.worker(deadline, stallLimit)
		}()
	}
	wg.Wait()
}

// worker repeatedly detaches the head campaign, runs one work slice and
// either re-attaches it at the tail or retires it. Exits when no active
// campaign remains.
func (f *Fuzzer) worker(deadline time.Time, stallLimit time.Duration) {
	for {
		f.mu.Lock()
		for f.work.Len() == 0 && f.activeCount > 0 {
			f.cond.Wait()
		}
		if f.activeCount == 0 {
			f.mu.Unlock()
			return
		}
		el := f.work.Front()
		f.work.Remove(el)
		f.mu.Unlock()
		c := el.Value.(campaignRunner)

		var out stepOutcome
		if f.stop.Load() {
			out = stepOutcome{retire: true, reason: "stopped"}
		} else {
			out = c.step(deadline, stallLimit)
		}
		if out.foundMaxTotal {
			f.maxTotalHit.Store(true)
			f.stop.Store(true)
			f.Config.logf(0, "%s: execution exceeded max-total, finishing run", c.describe())
		}
		c.maybeProgress(f.Config.Observer)

		f.mu.Lock()
		if out.retire {
			f.activeCount--
			f.mu.Unlock()
			f.retire(c, out.reason)
			f.mu.Lock()
			f.cond.Broadcast()
		} else {
			f.work.PushBack(c)
			f.cond.Signal()
		}
		f.mu.Unlock()
	}
}

func (f *Fuzzer) retire(c campaignRunner, reason string) {
	res := c.result(reason)
	f.resultsMu.Lock()
	f.results = append(f.results, res)
	f.resultsMu.Unlock()
	f.Config.logf(0, "%s retired (%s): %d execs, corpus %d, slowest total %d",
		c.describe(), reason, res.Execs, res.CorpusSize, res.SlowestTotal)
	if f.Config.Observer != nil {
		f.Config.Observer.CampaignRetired(res)
	}
}

// Results returns the retirement summaries recorded so far.
func (f *Fuzzer) Results() []CampaignResult {
	f.resultsMu.Lock()
	defer f.resultsMu.Unlock()
	out := make([]CampaignResult, len(f.results))
	copy(out, f.results)
	return out
}

// MaxTotalFound reports whether some execution exceeded the configured
// coverage bound, i.e. the run discovered what it was looking for.
func (f *Fuzzer) MaxTotalFound() bool {
	return f.maxTotalHit.Load()
}

// Slowest returns the single worst discovery across all campaigns.
func (f *Fuzzer) Slowest() (CampaignResult, bool) {
	var best CampaignResult
	found := false
	for _, res := range f.Results() {
		if !found || res.SlowestTotal > best.SlowestTotal {
			best = res
			found = true
		}
	}
	return best, found
}
