// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command regulator fuzzes a regular expression for catastrophic
// backtracking: it searches fixed-length subjects that maximize the
// instrumented interpreter's edge execution counts and reports the
// slowest input found within the time budget.
//
// Example:
//
//	regulator -regexp '^(a|a)+$' -lengths 20,40 -widths 1 -timeout 60
package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/fuzzer"
	"github.com/ucsb-seclab/regulator-dynamic/pkg/log"
)

var (
	flagRegexp   = flag.String("regexp", "", "the regexp to fuzz (required)")
	flagFlags    = flag.String("flags", "", "regexp flags, a string over gimsuy")
	flagLengths  = flag.String("lengths", "", "comma-separated subject lengths to fuzz (required)")
	flagWidths   = flag.String("widths", "1,2", "comma-separated code-unit widths, subset of 1,2")
	flagTimeout  = flag.Int("timeout", -1, "global wall-clock budget in seconds, -1 for unlimited")
	flagStall    = flag.Int("stall", -1, "per-campaign no-progress budget in seconds, -1 for unlimited")
	flagMaxTotal = flag.Int64("maxtotal", -1, "per-execution coverage bound; exceeding it ends the run, -1 for unlimited")
	flagThreads  = flag.Int("threads", 1, "worker thread count")
	flagSeed     = flag.Uint("seed", 0, "random seed, 0 for nondeterministic")
	flagSeedFile = flag.String("seedfile", "", "file with extra corpus seed strings, one per line")
	flagChildren = flag.Int("children", 0, "children generated per parent, 0 for the default")
	flagHTTP     = flag.String("http", "", "serve /metrics and pprof on this address")
	flagMemProf  = flag.Bool("memprofile", false, "write a memory profile on exit")
	flagDebug    = flag.Bool("debug", false, "enable debug diagnostics")
)

func main() {
	flag.Parse()
	if *flagDebug {
		log.EnableDebug(2)
	}
	if *flagMemProf {
		defer profile.Start(profile.MemProfile).Stop()
	}

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if *flagHTTP != "" {
		fuzzer.RegisterMetrics()
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(*flagHTTP, handlers.LoggingHandler(os.Stderr, http.DefaultServeMux))
			log.Logf(0, "http server exited: %v", err)
		}()
	}

	log.Logf(0, "compiling regexp: %s", cfg.Pattern)
	f, err := fuzzer.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	log.Logf(0, "compiled, fuzzing %d campaign(s) on %d thread(s)", len(cfg.Lengths)*len(cfg.Widths), cfg.NThreads)

	f.Run()

	printSummary(f)
	if f.MaxTotalFound() {
		log.Logf(0, "coverage bound exceeded: slow input found")
	}
	os.Exit(0)
}

func buildConfig() (*fuzzer.Config, error) {
	if *flagRegexp == "" {
		return nil, fmt.Errorf("-regexp is required")
	}
	lengths, err := parseIntList(*flagLengths)
	if err != nil || len(lengths) == 0 {
		return nil, fmt.Errorf("-lengths must be a non-empty comma-separated list of integers")
	}
	widths, err := parseIntList(*flagWidths)
	if err != nil || len(widths) == 0 {
		return nil, fmt.Errorf("-widths must be a non-empty comma-separated list over 1,2")
	}
	var seeds []string
	if *flagSeedFile != "" {
		data, err := os.ReadFile(*flagSeedFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read seed file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				seeds = append(seeds, line)
			}
		}
	}
	return &fuzzer.Config{
		Pattern:     *flagRegexp,
		Flags:       *flagFlags,
		Lengths:     lengths,
		Widths:      widths,
		TimeoutSecs: *flagTimeout,
		StallSecs:   *flagStall,
		MaxTotal:    *flagMaxTotal,
		NThreads:    *flagThreads,
		Seed:        uint32(*flagSeed),
		TextSeeds:   seeds,
		NChildren:   *flagChildren,
		Debug:       *flagDebug,
		Logf:        log.Logf,
		Observer:    consoleObserver{},
	}, nil
}

func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// consoleObserver renders progress lines on stdout.
type consoleObserver struct{}

func (consoleObserver) Progress(ev fuzzer.Event) {
	fmt.Printf("%d-byte len=%-5d elapsed: %6.1fs exec/s: %8.0f corpus: %-5d slowest: %d %q\n",
		ev.Width, ev.Length, ev.Elapsed.Seconds(), ev.ExecsPerSec,
		ev.CorpusSize, ev.SlowestTotal, ev.SlowestSubject)
}

func (consoleObserver) CampaignRetired(res fuzzer.CampaignResult) {
	fmt.Printf("%d-byte len=%d done (%s)\n", res.Width, res.Length, res.Reason)
}

func printSummary(f *fuzzer.Fuzzer) {
	results := f.Results()
	if len(results) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Width", "Length", "Execs", "Corpus", "Slowest Total", "Slowest Input", "Reason"})
	for _, res := range results {
		table.Append([]string{
			strconv.Itoa(res.Width),
			strconv.Itoa(res.Length),
			strconv.FormatUint(res.Execs, 10),
			strconv.Itoa(res.CorpusSize),
			strconv.FormatUint(res.SlowestTotal, 10),
			res.SlowestSubject,
			res.Reason,
		})
	}
	table.Render()
	if best, ok := f.Slowest(); ok {
		fmt.Printf("slowest overall: width=%d length=%d total=%d input=%s\n",
			best.Width, best.Length, best.SlowestTotal, best.SlowestSubject)
	}
}
