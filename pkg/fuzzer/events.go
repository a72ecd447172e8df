// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ucsb-seclab/regulator-dynamic/pkg/mutate"
)

// Event is one progress snapshot of a running campaign, emitted at work
// interrupts roughly every 500ms.
type Event struct {
	Width       int
	Length      int
	Elapsed     time.Duration
	ExecsPerSec float64
	CorpusSize  int
	Generations uint64
	// SlowestTotal and SlowestSubject summarize the maximizing entry.
	SlowestTotal   uint64
	SlowestSubject string
	// Residency is the fraction of coverage slots the corpus has hit.
	Residency float64
}

// CampaignResult summarizes a finished campaign.
type CampaignResult struct {
	Width          int
	Length         int
	Execs          uint64
	Generations    uint64
	CorpusSize     int
	SlowestTotal   uint64
	SlowestSubject string
	Reason         string
}

// Observer receives progress from the scheduler. Implementations must be
// safe for concurrent calls from multiple workers.
type Observer interface {
	Progress(Event)
	CampaignRetired(CampaignResult)
}

// EncodeSubject renders a subject buffer with printable characters kept
// verbatim and everything else escaped as \xHH or \uHHHH by width.
func EncodeSubject[C mutate.CodeUnit](buf []C) string {
	var sb strings.Builder
	for _, c := range buf {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c >= '!' && c <= '~':
			sb.WriteByte(byte(c))
		case mutate.Wide[C]():
			fmt.Fprintf(&sb, `\u%04x`, uint16(c))
		default:
			fmt.Fprintf(&sb, `\x%02x`, uint8(c))
		}
	}
	return sb.String()
}
