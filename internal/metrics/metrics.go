// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes scan and deletion counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the analyzer's Prometheus instruments. A nil Collector
// is valid and drops every observation, so callers never need to guard
// metric updates.
type Collector struct {
	scansTotal        *prometheus.CounterVec
	filesScannedTotal *prometheus.CounterVec
	abandonedFiles    *prometheus.GaugeVec
	abandonedBytes    *prometheus.GaugeVec
	deletionsTotal    *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fileanalyzer",
			Name:      "scans_total",
			Help:      "Scan runs by directory category and final status.",
		}, []string{"directory", "status"}),
		filesScannedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fileanalyzer",
			Name:      "files_scanned_total",
			Help:      "Files examined by scan runs.",
		}, []string{"directory"}),
		abandonedFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fileanalyzer",
			Name:      "abandoned_files",
			Help:      "Abandoned files found by the most recent scan.",
		}, []string{"directory"}),
		abandonedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fileanalyzer",
			Name:      "abandoned_bytes",
			Help:      "Bytes held by abandoned files as of the most recent scan.",
		}, []string{"directory"}),
		deletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fileanalyzer",
			Name:      "deletions_total",
			Help:      "Files deleted, by deletion method.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.scansTotal,
		c.filesScannedTotal,
		c.abandonedFiles,
		c.abandonedBytes,
		c.deletionsTotal,
	)
	return c
}

// ScanFinished counts one finished scan run.
func (c *Collector) ScanFinished(directory, status string) {
	if c == nil {
		return
	}
	c.scansTotal.WithLabelValues(directory, status).Inc()
}

// FilesScanned adds the file count of one scan run.
func (c *Collector) FilesScanned(directory string, count int) {
	if c == nil {
		return
	}
	c.filesScannedTotal.WithLabelValues(directory).Add(float64(count))
}

// SetAbandoned records the abandoned totals of the most recent scan.
func (c *Collector) SetAbandoned(directory string, count int, bytes int64) {
	if c == nil {
		return
	}
	c.abandonedFiles.WithLabelValues(directory).Set(float64(count))
	c.abandonedBytes.WithLabelValues(directory).Set(float64(bytes))
}

// DeletionRecorded counts deleted files by method.
func (c *Collector) DeletionRecorded(method string, count int) {
	if c == nil {
		return
	}
	c.deletionsTotal.WithLabelValues(method).Add(float64(count))
}
