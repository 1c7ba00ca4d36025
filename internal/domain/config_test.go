// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		CustomDir:          "/srv/civicrm/custom",
		ContributeDir:      "/srv/civicrm/persist/contribute",
		Persistence:        PersistenceDatabase,
		AutoDeleteDays:     90,
		BackupBeforeDelete: true,
		ResolverBatchSize:  5,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name: "no roots",
			mutate: func(c *Config) {
				c.CustomDir = ""
				c.ContributeDir = ""
			},
			wantErr: "customDir or contributeDir",
		},
		{
			name:    "bad persistence",
			mutate:  func(c *Config) { c.Persistence = "etcd" },
			wantErr: "unsupported persistence backend",
		},
		{
			name: "auto delete without retention",
			mutate: func(c *Config) {
				c.AutoDelete = true
				c.AutoDeleteDays = 0
			},
			wantErr: "autoDeleteDays",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.ResolverBatchSize = 0 },
			wantErr: "resolverBatchSize",
		},
		{
			name:    "dotted excluded extension",
			mutate:  func(c *Config) { c.ExcludedExtensions = []string{".log"} },
			wantErr: "bare extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigRoots(t *testing.T) {
	cfg := validConfig()
	roots := cfg.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "/srv/civicrm/custom", roots[CategoryCustom])
	assert.Equal(t, "/srv/civicrm/persist/contribute", roots[CategoryContribute])

	cfg.ContributeDir = ""
	roots = cfg.Roots()
	require.Len(t, roots, 1)
	_, ok := roots[CategoryContribute]
	assert.False(t, ok)
}

func TestResolvedBackupDirDefaultsUnderCustomRoot(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, filepath.Join("/srv/civicrm/custom", "file_analyzer_backups"), cfg.ResolvedBackupDir())

	cfg.BackupDir = "/var/backups/fileanalyzer"
	assert.Equal(t, "/var/backups/fileanalyzer", cfg.ResolvedBackupDir())
}
