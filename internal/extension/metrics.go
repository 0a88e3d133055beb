// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for the extension host. They are package-level so every Manager
// reports into the same series; RegisterMetrics exposes them on a registry.
var (
	// loadsTotal counts registrations by source and outcome.
	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockhost_extension_loads_total",
		Help: "Total number of extension loads by source and status",
	}, []string{"source", "status"})

	// workerLoadDuration tracks how long worker loads take end to end.
	workerLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockhost_extension_worker_load_duration_seconds",
		Help:    "Histogram of worker extension load latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// loadsInFlight is the number of worker loads not yet settled.
	loadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockhost_extension_loads_in_flight",
		Help: "Number of extension worker loads in flight",
	})

	// conflictsTotal counts refused replacements and deletions by code.
	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockhost_extension_conflicts_total",
		Help: "Total number of refused extension replacements and deletions",
	}, []string{"code"})

	// registered is the number of loaded extensions.
	registered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockhost_extensions_registered",
		Help: "Number of registered extensions",
	})
)

// Load sources used as metric labels.
const (
	sourceBuiltin = "builtin"
	sourceLocal   = "local"
	sourceWorker  = "worker"
)

// RegisterMetrics registers the extension metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		loadsTotal, workerLoadDuration, loadsInFlight, conflictsTotal, registered,
	} {
		if err := reg.Register(c); err != nil {
			return err //nolint:wrapcheck // registration errors are self-describing
		}
	}
	return nil
}

func recordLoad(source string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case IsWarning(err):
		status = "duplicate"
	default:
		status = "error"
	}
	loadsTotal.WithLabelValues(source, status).Inc()
}

func recordConflict(err error) {
	if code := Code(err); code != "" {
		conflictsTotal.WithLabelValues(code).Inc()
	}
}

func observeWorkerLoad(start time.Time) {
	workerLoadDuration.Observe(time.Since(start).Seconds())
}
