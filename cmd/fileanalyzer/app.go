// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"path/filepath"

	"github.com/civitools/fileanalyzer/internal/config"
	"github.com/civitools/fileanalyzer/internal/database"
	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/logger"
	"github.com/civitools/fileanalyzer/internal/metrics"
	"github.com/civitools/fileanalyzer/internal/models"
	"github.com/civitools/fileanalyzer/internal/report"
	"github.com/civitools/fileanalyzer/internal/services/filescan"
	"github.com/civitools/fileanalyzer/internal/services/retention"
)

// app wires the configured backends and services together for one command
// invocation.
type app struct {
	cfg       *config.AppConfig
	db        *database.DB
	store     filescan.Store
	scans     *filescan.Service
	retention *retention.Service
	exporter  *report.Exporter
}

func newApp(configPath string, collector *metrics.Collector) (*app, error) {
	cfg, err := config.New(configPath, version)
	if err != nil {
		return nil, err
	}

	logger.Setup(cfg.Config)

	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.New(cfg.Config.DatabasePath)
	if err != nil {
		return nil, err
	}

	var (
		store        filescan.Store
		scanStore    *models.ScanStore
		historyStore *models.DeletionStore
	)
	switch cfg.Config.Persistence {
	case domain.PersistenceJSON:
		store, err = filescan.NewJSONStore(cfg.Config.ResolvedBackupDir())
		if err != nil {
			db.Close()
			return nil, err
		}
	default:
		store = filescan.NewDBStore(db)
		scanStore = models.NewScanStore(db)
		historyStore = models.NewDeletionStore(db)
	}

	retentionSvc := retention.NewService(retention.Config{
		Roots:              cfg.Config.Roots(),
		BackupDir:          cfg.Config.ResolvedBackupDir(),
		BackupBeforeDelete: cfg.Config.BackupBeforeDelete,
	}, store, scanStore, historyStore, collector)

	scanSvc := filescan.NewService(filescan.Config{
		Roots:              cfg.Config.Roots(),
		ExcludedExtensions: cfg.Config.ExcludedExtensions,
		ExcludedFolders:    cfg.Config.ExcludedFolders,
		BatchSize:          cfg.Config.ResolverBatchSize,
		AutoDelete:         cfg.Config.AutoDelete,
		AutoDeleteDays:     cfg.Config.AutoDeleteDays,
	}, db, store, retentionSvc, collector)

	exporter := report.NewExporter(store, filepath.Join(cfg.Config.ResolvedBackupDir(), "exports"))

	return &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		scans:     scanSvc,
		retention: retentionSvc,
		exporter:  exporter,
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
