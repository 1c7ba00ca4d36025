// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Directory categories tracked by the analyzer.
const (
	CategoryCustom     = "custom"     // private uploads and attachments
	CategoryContribute = "contribute" // public-facing images
)

// Persistence backends for scan results.
const (
	PersistenceDatabase = "database"
	PersistenceJSON     = "json"
)

// Categories lists the scannable directory categories in a stable order.
func Categories() []string {
	return []string{CategoryCustom, CategoryContribute}
}

// ValidCategory reports whether s names a known directory category.
func ValidCategory(s string) bool {
	return s == CategoryCustom || s == CategoryContribute
}

// Config represents the application configuration.
type Config struct {
	Version string

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DatabasePath string `toml:"databasePath" mapstructure:"databasePath"`

	// Directory roots per category.
	CustomDir     string `toml:"customDir" mapstructure:"customDir"`
	ContributeDir string `toml:"contributeDir" mapstructure:"contributeDir"`

	// BackupDir holds backups of deleted files, JSON scan results and
	// exports. Defaults to file_analyzer_backups under the custom root.
	BackupDir string `toml:"backupDir" mapstructure:"backupDir"`

	// Persistence selects where scan results are written: "database" or
	// "json" (flat files under BackupDir).
	Persistence string `toml:"persistence" mapstructure:"persistence"`

	AutoDelete         bool     `toml:"autoDelete" mapstructure:"autoDelete"`
	AutoDeleteDays     int      `toml:"autoDeleteDays" mapstructure:"autoDeleteDays"`
	BackupBeforeDelete bool     `toml:"backupBeforeDelete" mapstructure:"backupBeforeDelete"`
	ExcludedExtensions []string `toml:"excludedExtensions" mapstructure:"excludedExtensions"`
	ExcludedFolders    []string `toml:"excludedFolders" mapstructure:"excludedFolders"`

	// ResolverBatchSize caps how many filenames share one reference query.
	// Kept small so OR-of-LIKE clauses stay within statement limits.
	ResolverBatchSize int `toml:"resolverBatchSize" mapstructure:"resolverBatchSize"`

	// Serve mode.
	ScanIntervalHours int    `toml:"scanIntervalHours" mapstructure:"scanIntervalHours"`
	MetricsHost       string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort       int    `toml:"metricsPort" mapstructure:"metricsPort"`
}

// Roots returns the configured directory root per category. Categories
// without a configured root are omitted.
func (c *Config) Roots() map[string]string {
	roots := make(map[string]string, 2)
	if c.CustomDir != "" {
		roots[CategoryCustom] = filepath.Clean(c.CustomDir)
	}
	if c.ContributeDir != "" {
		roots[CategoryContribute] = filepath.Clean(c.ContributeDir)
	}
	return roots
}

// ResolvedBackupDir returns BackupDir, falling back to the conventional
// location under the custom root.
func (c *Config) ResolvedBackupDir() string {
	if c.BackupDir != "" {
		return filepath.Clean(c.BackupDir)
	}
	if c.CustomDir != "" {
		return filepath.Join(filepath.Clean(c.CustomDir), "file_analyzer_backups")
	}
	return ""
}

// Validate checks settings that would make a scan misbehave rather than
// merely do nothing.
func (c *Config) Validate() error {
	if c.CustomDir == "" && c.ContributeDir == "" {
		return errors.New("at least one of customDir or contributeDir must be configured")
	}

	switch c.Persistence {
	case PersistenceDatabase, PersistenceJSON:
	default:
		return fmt.Errorf("unsupported persistence backend %q", c.Persistence)
	}

	if c.AutoDelete && c.AutoDeleteDays <= 0 {
		return errors.New("autoDeleteDays must be positive when autoDelete is enabled")
	}

	if c.ResolverBatchSize <= 0 {
		return errors.New("resolverBatchSize must be positive")
	}

	for _, ext := range c.ExcludedExtensions {
		if strings.ContainsAny(ext, "./\\") {
			return fmt.Errorf("excluded extension %q must be a bare extension without dot or path", ext)
		}
	}

	return nil
}
