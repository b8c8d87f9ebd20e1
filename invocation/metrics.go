// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executions_total",
			Help: "Total number of external agent executions",
		},
		[]string{"status"},
	)
	promExecutionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execution_latency_seconds",
			Help:    "External agent execution latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(promExecutionsTotal)
	prometheus.MustRegister(promExecutionLatency)
}

// observeExecution records one terminal invocation.
func observeExecution(inv *Invocation) {
	promExecutionsTotal.WithLabelValues(inv.Status).Inc()
	promExecutionLatency.Observe(float64(inv.ExecutionTimeMS) / 1000)
}
