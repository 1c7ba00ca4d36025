// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"encoding/json"

	"github.com/civitools/fileanalyzer/internal/models"
)

// bucket is one cell of the scan breakdowns.
type bucket struct {
	Count          int   `json:"count"`
	Size           int64 `json:"size"`
	AbandonedCount int   `json:"abandonedCount"`
}

// scanStats accumulates per-scan aggregates: overall totals plus breakdowns
// by modification month and by file extension. The breakdowns are
// serialized into the scan record's statistics column.
type scanStats struct {
	totals models.ScanTotals

	Monthly   map[string]*bucket `json:"monthly"` // keyed "2006-01"
	FileTypes map[string]*bucket `json:"fileTypes"`
}

func newScanStats() *scanStats {
	return &scanStats{
		Monthly:   make(map[string]*bucket),
		FileTypes: make(map[string]*bucket),
	}
}

func (s *scanStats) add(f *FileResult) {
	s.totals.TotalFiles++
	s.totals.TotalSize += f.Size
	if f.Resolution != nil && f.Resolution.InUse {
		s.totals.ActiveFiles++
	} else {
		s.totals.AbandonedFiles++
		s.totals.AbandonedSize += f.Size
	}

	month := f.Modified.Format("2006-01")
	ext := f.Extension
	if ext == "" {
		ext = "none"
	}

	for _, b := range []*bucket{s.bucketFor(s.Monthly, month), s.bucketFor(s.FileTypes, ext)} {
		b.Count++
		b.Size += f.Size
		if f.Resolution == nil || !f.Resolution.InUse {
			b.AbandonedCount++
		}
	}
}

func (s *scanStats) bucketFor(m map[string]*bucket, key string) *bucket {
	b, ok := m[key]
	if !ok {
		b = &bucket{}
		m[key] = b
	}
	return b
}

func (s *scanStats) Totals() models.ScanTotals {
	return s.totals
}

// JSON serializes the breakdowns for storage on the scan record.
func (s *scanStats) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
