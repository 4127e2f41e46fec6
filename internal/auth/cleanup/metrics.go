// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package cleanup

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains Prometheus metrics for the cleanup worker.
type Metrics struct {
	Runs          *prometheus.CounterVec
	TokensDeleted *prometheus.CounterVec
}

// NewMetrics creates and registers cleanup metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unirate_cleanup_runs_total",
				Help: "Total number of cleanup runs by outcome",
			},
			[]string{"outcome"},
		),
		TokensDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unirate_cleanup_tokens_deleted_total",
				Help: "Total number of expired tokens deleted by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.Runs)
	reg.MustRegister(m.TokensDeleted)

	return m
}
