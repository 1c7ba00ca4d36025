// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "fileanalyzer",
		Short: "Find and clean up abandoned CiviCRM upload files",
		Long: `fileanalyzer walks the CiviCRM upload directories, resolves which
files are still referenced by the database and reports or deletes the
abandoned ones.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file or its directory")

	rootCmd.AddCommand(
		scanCommand(&configPath),
		abandonedCommand(&configPath),
		deleteCommand(&configPath),
		bulkDeleteCommand(&configPath),
		statsCommand(&configPath),
		exportCommand(&configPath),
		cleanupHistoryCommand(&configPath),
		serveCommand(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionString() string {
	if commit != "" {
		return version + " (" + commit + ")"
	}
	return version
}
