// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/ucsb-seclab/regulator-dynamic/pkg/stat"
)

type Stats struct {
	statExecs           *stat.Val
	statExecsDropped    *stat.Val
	statInputs          *stat.Val
	statGenerations     *stat.Val
	statMaxTotalHits    *stat.Val
	statCampaigns       *stat.Val
	statCampaignsFailed *stat.Val
}

func newStats() Stats {
	return Stats{
		statExecs:        stat.New("execs", "Total regexp executions"),
		statExecsDropped: stat.New("execs dropped", "Executions discarded for width mismatch"),
		statInputs:       stat.New("corpus inputs", "Corpus entries accepted across campaigns"),
		statGenerations:  stat.New("generations", "Completed work-queue generations"),
		statMaxTotalHits: stat.New("max-total hits", "Executions that exceeded the coverage bound"),
		statCampaigns:    stat.New("campaigns", "Campaigns started"),
		statCampaignsFailed: stat.New("campaigns failed",
			"Campaigns that failed to seed"),
	}
}
