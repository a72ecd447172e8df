// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricExecs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regulator_execs_total",
		Help: "Total regexp executions across all campaigns",
	})
	metricInputs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regulator_corpus_inputs_total",
		Help: "Corpus entries accepted across all campaigns",
	})
	metricCorpusSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regulator_corpus_size",
		Help: "Flushed corpus size per campaign",
	}, []string{"width", "length"})
	metricSlowest = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regulator_slowest_total",
		Help: "Coverage total of the slowest known input per campaign",
	}, []string{"width", "length"})
	metricResidency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "regulator_upper_bound_residency",
		Help: "Fraction of coverage slots the campaign upper bound occupies",
	}, []string{"width", "length"})

	registerMetricsOnce sync.Once
)

// RegisterMetrics installs the fuzzer collectors into the default
// prometheus registry. Call once before serving /metrics.
func RegisterMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metricExecs, metricInputs,
			metricCorpusSize, metricSlowest, metricResidency)
	})
}

func updateCampaignMetrics(ev Event) {
	w := strconv.Itoa(ev.Width)
	l := strconv.Itoa(ev.Length)
	metricCorpusSize.WithLabelValues(w, l).Set(float64(ev.CorpusSize))
	metricSlowest.WithLabelValues(w, l).Set(float64(ev.SlowestTotal))
	metricResidency.WithLabelValues(w, l).Set(ev.Residency)
}
