// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig tags configuration rejections so callers can map them
// to a startup failure exit.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes one fuzzing run. One campaign is created per
// (length, width) pair.
type Config struct {
	// Pattern is the regular expression source.
	Pattern string
	// Flags is a string over {g, i, m, s, u, y}; y is accepted and ignored.
	Flags string
	// Lengths are the subject lengths to fuzz, each in [1, 65535].
	Lengths []int
	// Widths is a non-empty subset of {1, 2} code-unit widths.
	Widths []int
	// TimeoutSecs bounds the whole run; -1 means unlimited.
	TimeoutSecs int
	// StallSecs retires a campaign after that much wall time without
	// corpus growth; -1 means unlimited.
	StallSecs int
	// MaxTotal bounds the coverage total of a single execution; crossing
	// it ends the whole run successfully. -1 means unlimited.
	MaxTotal int64
	// NThreads is the worker count.
	NThreads int
	// Seed seeds the random source; 0 picks a nondeterministic seed.
	Seed uint32
	// TextSeeds are extra initial corpus entries beyond the 'aaa...a'
	// baseline; only seeds matching a campaign's exact length are used.
	TextSeeds []string
	// NChildren is the number of children generated per parent.
	// Defaults to 200.
	NChildren int
	// Debug enables per-slice diagnostics.
	Debug bool

	// Logf receives diagnostics; nil disables logging.
	Logf func(level int, msg string, args ...any)
	// Observer receives progress and retirement events; may be nil.
	Observer Observer
}

func (cfg *Config) Validate() error {
	if cfg.Pattern == "" {
		return fmt.Errorf("%w: empty regexp", ErrInvalidConfig)
	}
	if len(cfg.Lengths) == 0 {
		return fmt.Errorf("%w: no subject lengths", ErrInvalidConfig)
	}
	for _, l := range cfg.Lengths {
		if l < 1 || l > 65535 {
			return fmt.Errorf("%w: subject length %d out of [1, 65535]", ErrInvalidConfig, l)
		}
	}
	if len(cfg.Widths) == 0 {
		return fmt.Errorf("%w: no code-unit width selected", ErrInvalidConfig)
	}
	for _, w := range cfg.Widths {
		if w != 1 && w != 2 {
			return fmt.Errorf("%w: unsupported code-unit width %d", ErrInvalidConfig, w)
		}
	}
	if cfg.NThreads < 1 {
		return fmt.Errorf("%w: thread count must be at least 1", ErrInvalidConfig)
	}
	if cfg.NChildren < 0 {
		return fmt.Errorf("%w: negative children per parent", ErrInvalidConfig)
	}
	return nil
}

func (cfg *Config) logf(level int, msg string, args ...any) {
	if cfg.Logf != nil {
		cfg.Logf(level, msg, args...)
	}
}
