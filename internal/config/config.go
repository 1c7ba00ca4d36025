// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration file with environment
// variable overrides and writes a commented default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/civitools/fileanalyzer/internal/domain"
)

const envPrefix = "FILEANALYZER"

var configTemplate = `# config.toml - Auto-generated on first run
#
# File Analyzer configuration. Every value can be overridden with an
# environment variable, e.g. FILEANALYZER_AUTODELETE=true.

# Directory roots to scan. customDir holds private uploads and
# attachments, contributeDir the public-facing images.
customDir = ""
contributeDir = ""

# Where deleted-file backups, JSON results and exports live.
# Defaults to <customDir>/file_analyzer_backups when empty.
backupDir = ""

# Scan result persistence: "database" or "json".
persistence = "database"

# SQLite database path. Defaults next to this config file.
#databasePath = ""

# Retention policy for abandoned files.
autoDelete = false
autoDeleteDays = 90
backupBeforeDelete = true

# File extensions skipped during analysis.
excludedExtensions = ["tmp", "log", "cache", "htaccess"]

# Directory names skipped at any depth.
excludedFolders = ["vendor", "node_modules", "tests", "file_analyzer_backups"]

# Filenames resolved per reference query.
resolverBatchSize = 5

# serve mode: scan interval and metrics endpoint.
scanIntervalHours = 24
metricsHost = "127.0.0.1"
metricsPort = 9283

logLevel = "INFO"
#logPath = ""
logMaxSize = 50
logMaxBackups = 3
`

// AppConfig wraps the parsed configuration and its viper instance so
// dynamic settings can be reloaded while a long-running serve process is
// up.
type AppConfig struct {
	Config *domain.Config

	viper *viper.Viper
	mu    sync.Mutex
}

// New loads the configuration from configPath (a file or a directory
// containing config.toml), creating a default file if none exists.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{Version: version},
		viper:  viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if c.Config.DatabasePath == "" {
		c.Config.DatabasePath = filepath.Join(filepath.Dir(c.viper.ConfigFileUsed()), "fileanalyzer.db")
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("persistence", domain.PersistenceDatabase)
	c.viper.SetDefault("autoDelete", false)
	c.viper.SetDefault("autoDeleteDays", 90)
	c.viper.SetDefault("backupBeforeDelete", true)
	c.viper.SetDefault("excludedExtensions", []string{"tmp", "log", "cache", "htaccess"})
	c.viper.SetDefault("excludedFolders", []string{"vendor", "node_modules", "tests", "file_analyzer_backups"})
	c.viper.SetDefault("resolverBatchSize", 5)
	c.viper.SetDefault("scanIntervalHours", 24)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9283)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")
	c.viper.SetEnvPrefix(envPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	if configPath == "" {
		configPath = "."
	}

	info, err := os.Stat(configPath)
	switch {
	case err == nil && info.IsDir():
		configPath = filepath.Join(configPath, "config.toml")
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("stat config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
		log.Info().Str("path", configPath).Msg("wrote default config file")
	}

	c.viper.SetConfigFile(configPath)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}

	return nil
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// WatchConfig reloads the settings that are safe to change while running:
// retention policy, exclusions and log level. Structural settings
// (directory roots, database path, persistence backend) require a restart.
func (c *AppConfig) WatchConfig(onLogLevelChange func(level string)) {
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		fresh := viper.New()
		fresh.SetConfigFile(c.viper.ConfigFileUsed())
		if err := fresh.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("config reload failed, keeping previous settings")
			return
		}

		c.Config.AutoDelete = fresh.GetBool("autoDelete")
		if days := fresh.GetInt("autoDeleteDays"); days > 0 {
			c.Config.AutoDeleteDays = days
		}
		c.Config.BackupBeforeDelete = fresh.GetBool("backupBeforeDelete")
		c.Config.ExcludedExtensions = fresh.GetStringSlice("excludedExtensions")
		c.Config.ExcludedFolders = fresh.GetStringSlice("excludedFolders")

		if level := fresh.GetString("logLevel"); level != "" && level != c.Config.LogLevel {
			c.Config.LogLevel = level
			if onLogLevelChange != nil {
				onLogLevelChange(level)
			}
		}

		log.Debug().Msg("config reloaded")
	})

	c.viper.WatchConfig()
}
