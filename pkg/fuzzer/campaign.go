// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
	"unicode/utf16"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/corpus"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/interesting"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/matcher"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/mutate"
)

const (
	// workSlice is how long one scheduling turn works a campaign before
	// yielding it back to the list.
	workSlice = 100 * time.Millisecond
	// reportPeriod rate-limits progress events per campaign.
	reportPeriod = 500 * time.Millisecond
	// defaultChildren is the number of children derived per parent.
	defaultChildren = 200
)

// stepOutcome tells the scheduler what to do with a campaign after one
// work slice.
type stepOutcome struct {
	retire        bool
	reason        string
	foundMaxTotal bool
}

// campaignRunner is the width-erased view the scheduler holds.
type campaignRunner interface {
	step(deadline time.Time, stallLimit time.Duration) stepOutcome
	maybeProgress(obs Observer)
	result(reason string) CampaignResult
	describe() string
}

// execFunc performs one execution. Overridable in tests; the default
// binds matcher.Exec to the campaign's compiled pattern.
type execFunc[C mutate.CodeUnit] func(subject []C, maxTotal int64) (matcher.Outcome, error)

// Campaign fuzzes one (length, code-unit-width) pair with its own corpus,
// work queue and random stream. A campaign is only ever worked by the one
// thread currently holding it, so it needs no internal locking.
type Campaign[C mutate.CodeUnit] struct {
	fuzzer *Fuzzer
	length int
	rnd    *rand.Rand
	exec   execFunc[C]

	corpus *corpus.Corpus[C]
	queue  workQueue[C]

	begun       time.Time
	stallAccum  time.Duration
	execs       uint64
	sinceReport uint64
	lastReport  time.Time
	generations uint64
}

func campaignWidth[C mutate.CodeUnit]() int {
	if mutate.Wide[C]() {
		return 2
	}
	return 1
}

// newCampaign seeds a campaign: the all-'a' baseline plus any text seeds
// of matching length are executed, recorded and flushed, and the special
// character bag is mined from the compiled bytecode.
func newCampaign[C mutate.CodeUnit](f *Fuzzer, re *matcher.Regexp, length int, rnd *rand.Rand) (*Campaign[C], error) {
	c := &Campaign[C]{
		fuzzer: f,
		length: length,
		rnd:    rnd,
		corpus: corpus.New[C](length),
		begun:  time.Now(),
		exec: func(subject []C, maxTotal int64) (matcher.Outcome, error) {
			return matcher.Exec(re, subject, maxTotal)
		},
	}
	seed := make([]C, length)
	for i := range seed {
		seed[i] = 'a'
	}
	out, err := c.exec(seed, -1)
	if err != nil {
		return nil, fmt.Errorf("baseline execution failed: %w", err)
	}
	out.Coverage.Bucketize()
	c.corpus.Record(corpus.NewEntry(seed, out.Coverage))

	for _, text := range f.Config.TextSeeds {
		units := textToUnits[C](text)
		if len(units) != length {
			continue
		}
		out, err := c.exec(units, -1)
		if err != nil {
			continue
		}
		out.Coverage.Bucketize()
		if !c.corpus.IsRedundant(out.Coverage) {
			c.corpus.Record(corpus.NewEntry(units, out.Coverage))
		}
	}
	c.corpus.FlushGeneration()

	width := campaignWidth[C]()
	mined := interesting.Extract(re.Scanner(), re.Bytecode(width), width)
	bag := make([]C, 0, len(mined))
	for _, ch := range mined {
		bag = append(bag, C(ch))
	}
	c.corpus.SetInteresting(bag)
	if f.Config.Debug {
		f.Config.logf(0, "campaign %s: %d interesting chars: %s",
			c.describe(), len(bag), EncodeSubject(bag))
	}
	return c, nil
}

// textToUnits converts a seed string to the campaign's code units.
func textToUnits[C mutate.CodeUnit](s string) []C {
	if mutate.Wide[C]() {
		enc := utf16.Encode([]rune(s))
		out := make([]C, len(enc))
		for i, u := range enc {
			out[i] = C(u)
		}
		return out
	}
	b := []byte(s)
	out := make([]C, len(b))
	for i, u := range b {
		out[i] = C(u)
	}
	return out
}

func (c *Campaign[C]) describe() string {
	return fmt.Sprintf("%d-byte/len=%d", campaignWidth[C](), c.length)
}

// step runs one work slice: drain parents from the queue, deriving and
// executing children for each, flushing and refilling the queue whenever
// it runs dry. Corpus growth at a flush resets the stall clock.
func (c *Campaign[C]) step(deadline time.Time, stallLimit time.Duration) stepOutcome {
	cfg := c.fuzzer.Config
	nChildren := cfg.NChildren
	if nChildren == 0 {
		nChildren = defaultChildren
	}

	var out stepOutcome
	stepStart := time.Now()
	sliceEnd := stepStart.Add(workSlice)

work:
	for time.Now().Before(sliceEnd) {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			out.retire = true
			out.reason = "deadline"
			break
		}
		if !c.queue.HasNext() {
			before := c.corpus.FlushedLen()
			c.corpus.FlushGeneration()
			c.generations++
			c.fuzzer.statGenerations.Add(1)
			c.queue.Fill(c.corpus, c.rnd)
			if c.corpus.FlushedLen() > before {
				c.stallAccum = 0
				stepStart = time.Now()
			}
			if !c.queue.HasNext() {
				break
			}
		}
		parent := c.queue.Pop()
		for _, child := range c.corpus.GenerateChildren(parent, nChildren, c.rnd) {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				out.retire = true
				out.reason = "deadline"
				break work
			}
			res, err := c.exec(child, cfg.MaxTotal)
			switch {
			case errors.Is(err, matcher.ErrBadStrRepresentation):
				c.fuzzer.statExecsDropped.Add(1)
				continue
			case errors.Is(err, matcher.ErrViolateMaxTotal):
				// The interesting case: this input alone blows the budget.
				res.Coverage.Bucketize()
				c.corpus.Record(corpus.NewEntry(child, res.Coverage))
				c.fuzzer.statMaxTotalHits.Add(1)
				c.execs++
				c.sinceReport++
				out.foundMaxTotal = true
				out.retire = true
				out.reason = "max-total"
				break work
			case err != nil:
				c.fuzzer.statExecsDropped.Add(1)
				continue
			}
			c.execs++
			c.sinceReport++
			c.fuzzer.statExecs.Add(1)
			metricExecs.Inc()

			cov := res.Coverage
			cov.Bucketize()
			c.corpus.BumpStaleness(cov)
			if c.corpus.HasNewPath(cov) && !c.corpus.IsRedundant(cov) {
				c.corpus.Record(corpus.NewEntry(child, cov))
				c.fuzzer.statInputs.Add(1)
				metricInputs.Inc()
			}
		}
	}

	c.stallAccum += time.Since(stepStart)
	if !out.retire && stallLimit >= 0 && c.stallAccum > stallLimit {
		out.retire = true
		out.reason = "stall"
	}
	return out
}

// maybeProgress emits a progress event when the report period elapsed.
func (c *Campaign[C]) maybeProgress(obs Observer) {
	now := time.Now()
	if c.lastReport.IsZero() {
		c.lastReport = now
		return
	}
	since := now.Sub(c.lastReport)
	if since < reportPeriod {
		return
	}
	ev := Event{
		Width:       campaignWidth[C](),
		Length:      c.length,
		Elapsed:     now.Sub(c.begun),
		ExecsPerSec: float64(c.sinceReport) / since.Seconds(),
		CorpusSize:  c.corpus.FlushedLen(),
		Generations: c.generations,
		Residency:   c.corpus.Residency(),
	}
	if best := c.corpus.Best(); best != nil {
		ev.SlowestTotal = best.Coverage.Total()
		ev.SlowestSubject = EncodeSubject(best.Buf)
	}
	c.lastReport = now
	c.sinceReport = 0
	updateCampaignMetrics(ev)
	if obs != nil {
		obs.Progress(ev)
	}
	if c.fuzzer.Config.Debug {
		c.fuzzer.Config.logf(1, "%s: corpus=%d gen=%d residency=%.2f%% mem=%db",
			c.describe(), ev.CorpusSize, ev.Generations, ev.Residency*100,
			c.corpus.MemoryFootprint())
	}
}

func (c *Campaign[C]) result(reason string) CampaignResult {
	res := CampaignResult{
		Width:       campaignWidth[C](),
		Length:      c.length,
		Execs:       c.execs,
		Generations: c.generations,
		CorpusSize:  c.corpus.FlushedLen(),
		Reason:      reason,
	}
	if best := c.corpus.Best(); best != nil {
		res.SlowestTotal = best.Coverage.Total()
		res.SlowestSubject = EncodeSubject(best.Buf)
	}
	return res
}
