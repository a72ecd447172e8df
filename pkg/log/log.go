// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides leveled logging for the fuzzer binaries.
//
// Level 0 is always printed, higher levels are gated by the verbosity
// set at startup. Output goes to stderr so progress rendering on stdout
// stays machine-readable.
package log

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	level   atomic.Int32
	mu      sync.Mutex
	started = time.Now()
)

// EnableDebug raises the verbosity so that Logf calls up to and
// including lvl are printed.
func EnableDebug(lvl int) {
	level.Store(int32(lvl))
}

// V reports whether messages at lvl would be printed.
func V(lvl int) bool {
	return int32(lvl) <= level.Load()
}

func Logf(lvl int, msg string, args ...any) {
	if !V(lvl) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "[%07.2fs] %s\n", time.Since(started).Seconds(), fmt.Sprintf(msg, args...))
}

// Fatalf prints the message regardless of verbosity and exits nonzero.
func Fatalf(msg string, args ...any) {
	mu.Lock()
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", fmt.Sprintf(msg, args...))
	mu.Unlock()
	os.Exit(1)
}
