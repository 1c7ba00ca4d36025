// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filescan walks the managed upload directories, resolves which
// files are still referenced and persists the results.
package filescan

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/metrics"
	"github.com/civitools/fileanalyzer/internal/models"
)

// Deleter removes abandoned files after a scan. Implemented by the
// retention service; declared here so the scan side does not depend on it.
type Deleter interface {
	DeleteAbandoned(ctx context.Context, category string, cutoff time.Time, files []*FileResult) (int, error)
}

// Config is the scan-relevant slice of the application configuration.
type Config struct {
	Roots              map[string]string
	ExcludedExtensions []string
	ExcludedFolders    []string
	BatchSize          int

	AutoDelete     bool
	AutoDeleteDays int
}

// Service orchestrates scan runs: walk, resolve, persist, then optionally
// hand abandoned files to the deleter.
type Service struct {
	cfg     Config
	db      dbinterface.Querier
	store   Store
	deleter Deleter
	metrics *metrics.Collector
}

func NewService(cfg Config, db dbinterface.Querier, store Store, deleter Deleter, collector *metrics.Collector) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{
		cfg:     cfg,
		db:      db,
		store:   store,
		deleter: deleter,
		metrics: collector,
	}
}

// CategoryResult is the outcome of scanning one directory category.
type CategoryResult struct {
	ScanID      int64             `json:"scanId"`
	RunUID      string            `json:"runUid"`
	Totals      models.ScanTotals `json:"totals"`
	Duration    time.Duration     `json:"duration"`
	AutoDeleted int               `json:"autoDeleted"`
}

// RunReport summarizes one RunScan invocation across its categories.
type RunReport struct {
	IsError    bool                       `json:"isError"`
	Messages   []string                   `json:"messages"`
	Categories map[string]*CategoryResult `json:"categories"`
}

// RunScan scans one category, or every configured one when target is
// "all". Per-category failures are reported in the returned RunReport
// rather than aborting the remaining categories.
func (s *Service) RunScan(ctx context.Context, target string) (*RunReport, error) {
	var categories []string
	switch {
	case target == "all":
		categories = domain.Categories()
	case domain.ValidCategory(target):
		categories = []string{target}
	default:
		return nil, fmt.Errorf("unknown directory category %q", target)
	}

	report := &RunReport{Categories: make(map[string]*CategoryResult)}
	for _, category := range categories {
		result, err := s.scanCategory(ctx, category)
		if err != nil {
			report.IsError = true
			report.Messages = append(report.Messages,
				fmt.Sprintf("%s: scan failed: %v", category, err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			continue
		}

		report.Categories[category] = result
		report.Messages = append(report.Messages,
			fmt.Sprintf("%s: Scan completed. Found %d abandoned files", category, result.Totals.AbandonedFiles),
			fmt.Sprintf("%s: Total files scanned: %d", category, result.Totals.TotalFiles))
		if result.AutoDeleted > 0 {
			report.Messages = append(report.Messages,
				fmt.Sprintf("%s: Auto-deleted: %d files", category, result.AutoDeleted))
		}
	}
	return report, nil
}

func (s *Service) scanCategory(ctx context.Context, category string) (*CategoryResult, error) {
	runUID := uuid.New().String()

	scanID, err := s.store.AcquireScan(ctx, category, runUID)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	l := log.With().Str("directory", category).Str("runUid", runUID).Logger()
	l.Info().Msg("starting directory scan")

	files, err := s.collectFiles(ctx, category)
	if err != nil {
		s.failScan(ctx, scanID, err)
		s.metrics.ScanFinished(category, models.ScanStatusFailed)
		return nil, err
	}

	if err := s.resolveUsage(ctx, category, files); err != nil {
		s.failScan(ctx, scanID, err)
		s.metrics.ScanFinished(category, models.ScanStatusFailed)
		return nil, err
	}

	stats := newScanStats()
	for _, f := range files {
		stats.add(f)
	}
	totals := stats.Totals()

	if err := s.store.CommitResults(ctx, scanID, category, startedAt, files); err != nil {
		s.failScan(ctx, scanID, err)
		s.metrics.ScanFinished(category, models.ScanStatusFailed)
		return nil, err
	}

	duration := time.Since(startedAt)
	if err := s.store.CompleteScan(ctx, scanID, totals, duration, stats.JSON()); err != nil {
		return nil, err
	}

	s.metrics.ScanFinished(category, models.ScanStatusCompleted)
	s.metrics.FilesScanned(category, totals.TotalFiles)
	s.metrics.SetAbandoned(category, totals.AbandonedFiles, totals.AbandonedSize)

	l.Info().
		Int("totalFiles", totals.TotalFiles).
		Int("abandonedFiles", totals.AbandonedFiles).
		Dur("took", duration).
		Msg("directory scan finished")

	result := &CategoryResult{
		ScanID:   scanID,
		RunUID:   runUID,
		Totals:   totals,
		Duration: duration,
	}

	if s.cfg.AutoDelete && s.deleter != nil {
		result.AutoDeleted = s.autoDelete(ctx, category, files)
	}
	return result, nil
}

// collectFiles walks the category root and gathers metadata for every
// candidate file. A missing root is not an error: the scan completes with
// an empty result set, matching a site that simply has no uploads yet.
func (s *Service) collectFiles(ctx context.Context, category string) ([]*FileResult, error) {
	root, ok := s.cfg.Roots[category]
	if !ok || root == "" {
		return nil, fmt.Errorf("no directory configured for category %q", category)
	}

	relPaths, err := walkRoot(root, s.cfg.ExcludedFolders)
	if err != nil {
		if errors.Is(err, ErrDirectoryNotFound) {
			log.Warn().Str("directory", category).Str("root", root).
				Msg("scan root does not exist, recording empty scan")
			return nil, nil
		}
		return nil, err
	}

	excluded := make(map[string]struct{}, len(s.cfg.ExcludedExtensions))
	for _, ext := range s.cfg.ExcludedExtensions {
		excluded[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	var files []*FileResult
	for _, rel := range relPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := filepath.Base(rel)
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if _, skip := excluded[ext]; skip {
			continue
		}

		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			log.Warn().Err(err).Str("path", abs).Msg("file vanished during scan, skipping")
			continue
		}

		files = append(files, &FileResult{
			Filename:  name,
			RelPath:   rel,
			AbsPath:   abs,
			Category:  category,
			Size:      info.Size(),
			Extension: ext,
			MimeType:  mimeTypeByExtension(ext),
			Modified:  info.ModTime(),
		})
	}
	return files, nil
}

// resolveUsage runs batched reference resolution over the collected files.
// The custom-field index applies to the private uploads only; its failure
// degrades to an empty index so the remaining sources still run.
func (s *Service) resolveUsage(ctx context.Context, category string, files []*FileResult) error {
	if len(files) == 0 {
		return nil
	}

	var index *CustomFieldIndex
	if category == domain.CategoryCustom {
		var err error
		index, err = BuildCustomFieldIndex(ctx, s.db)
		if err != nil {
			log.Warn().Err(err).Msg("custom field index unavailable, custom field references will not be found")
			index = nil
		}
	}

	seen := make(map[string]struct{}, len(files))
	var names []string
	for _, f := range files {
		if _, dup := seen[f.Filename]; dup {
			continue
		}
		seen[f.Filename] = struct{}{}
		names = append(names, f.Filename)
	}

	resolver := NewResolver(s.db, s.cfg.BatchSize, index)
	resolutions, err := resolver.Resolve(ctx, category, names)
	if err != nil {
		return err
	}

	for _, f := range files {
		f.Resolution = resolutions[f.Filename]
	}
	return nil
}

// autoDelete removes abandoned files older than the configured retention
// window. Failures are logged, never propagated: deletion is a best-effort
// step after a successful scan.
func (s *Service) autoDelete(ctx context.Context, category string, files []*FileResult) int {
	var abandoned []*FileResult
	for _, f := range files {
		if f.Abandoned() {
			abandoned = append(abandoned, f)
		}
	}
	if len(abandoned) == 0 {
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.AutoDeleteDays)
	deleted, err := s.deleter.DeleteAbandoned(ctx, category, cutoff, abandoned)
	if err != nil {
		log.Error().Err(err).Str("directory", category).Msg("auto delete failed")
	}
	return deleted
}

func (s *Service) failScan(ctx context.Context, scanID int64, cause error) {
	if err := s.store.FailScan(ctx, scanID, cause.Error()); err != nil {
		log.Error().Err(err).Int64("scanId", scanID).Msg("could not mark scan failed")
	}
}

// LatestScanSummary returns the most recent scan record for a category.
func (s *Service) LatestScanSummary(ctx context.Context, category string) (*models.ScanRecord, error) {
	if !domain.ValidCategory(category) {
		return nil, fmt.Errorf("unknown directory category %q", category)
	}
	return s.store.LatestScan(ctx, category)
}

// AbandonedFiles lists the currently abandoned files of a category.
func (s *Service) AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error) {
	if !domain.ValidCategory(category) {
		return nil, fmt.Errorf("unknown directory category %q", category)
	}
	return s.store.AbandonedFiles(ctx, category, limit)
}

// FileWithReferences returns one tracked file with its reference set.
func (s *Service) FileWithReferences(ctx context.Context, fileID int64) (*models.FileRecord, []models.Reference, error) {
	return s.store.FileWithReferences(ctx, fileID)
}

func mimeTypeByExtension(ext string) string {
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
