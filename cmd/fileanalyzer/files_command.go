// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/civitools/fileanalyzer/internal/report"
	"github.com/civitools/fileanalyzer/internal/services/filescan"
)

func abandonedCommand(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:       "abandoned [custom|contribute]",
		Short:     "List abandoned files found by the most recent scan",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"custom", "contribute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			files, err := a.scans.AbandonedFiles(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("No abandoned files.")
				return nil
			}

			for _, f := range files {
				modified := "unknown"
				if f.ModifiedDate != nil {
					modified = f.ModifiedDate.Format("2006-01-02")
				}
				fmt.Printf("%6d  %-10s  %-12s  %s\n", f.ID, humanize.Bytes(uint64(f.FileSize)), modified, f.FilePath)
			}
			fmt.Printf("\n%d abandoned files\n", len(files))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of files to list (0 = all)")
	return cmd
}

func deleteCommand(configPath *string) *cobra.Command {
	var (
		reason    string
		deletedBy string
		noBackup  bool
	)

	cmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete one tracked file, with backup and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}

			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			backup := a.cfg.Config.BackupBeforeDelete && !noBackup
			if err := a.retention.DeleteOne(cmd.Context(), fileID, backup, reason, deletedBy); err != nil {
				return err
			}
			fmt.Printf("Deleted file %d.\n", fileID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	cmd.Flags().StringVar(&deletedBy, "by", "", "operator recorded in the audit trail")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the pre-delete backup copy")
	return cmd
}

func bulkDeleteCommand(configPath *string) *cobra.Command {
	var (
		limit     int
		deletedBy string
		confirm   bool
	)

	cmd := &cobra.Command{
		Use:       "bulk-delete [custom|contribute]",
		Short:     "Delete every currently abandoned file of a category",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"custom", "contribute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("bulk deletion is destructive, re-run with --yes to confirm")
			}

			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := a.retention.BulkDeleteAbandoned(cmd.Context(), args[0], limit, deletedBy)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d abandoned files.\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of files to delete (0 = all)")
	cmd.Flags().StringVar(&deletedBy, "by", "", "operator recorded in the audit trail")
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the bulk deletion")
	return cmd
}

func statsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "stats [custom|contribute]",
		Short:     "Show the summary of the most recent scan",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"custom", "contribute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			scan, err := a.scans.LatestScanSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if scan == nil {
				fmt.Printf("No scans recorded for %s yet.\n", args[0])
				return nil
			}

			fmt.Printf("Directory:        %s\n", scan.DirectoryType)
			fmt.Printf("Last scan:        %s (%s)\n", scan.ScanDate.Format(time.RFC1123), scan.ScanStatus)
			fmt.Printf("Files scanned:    %d\n", scan.TotalFilesScanned)
			fmt.Printf("Active files:     %d\n", scan.ActiveFiles)
			fmt.Printf("Abandoned files:  %d\n", scan.AbandonedFiles)
			fmt.Printf("Total size:       %s\n", humanize.Bytes(uint64(scan.TotalSize)))
			fmt.Printf("Abandoned size:   %s\n", humanize.Bytes(uint64(scan.AbandonedSize)))
			fmt.Printf("Scan duration:    %s\n", scan.ScanDuration)
			if scan.ErrorMessage != "" {
				fmt.Printf("Error:            %s\n", scan.ErrorMessage)
			}
			return nil
		},
	}
	return cmd
}

func exportCommand(configPath *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:       "export [custom|contribute]",
		Short:     "Export the latest scan results as CSV or JSON",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"custom", "contribute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.exporter.Export(cmd.Context(), args[0], format)
			if err != nil {
				if errors.Is(err, report.ErrNoScan) {
					return fmt.Errorf("no completed scan for %s, run a scan first", args[0])
				}
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", report.FormatCSV, "export format: csv or json")
	return cmd
}

func cleanupHistoryCommand(configPath *string) *cobra.Command {
	var (
		olderThanDays int
		backupsOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup-history",
		Short: "Prune scan history, deletion audit rows and expired backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			scans, deletions, err := a.retention.CleanupHistory(cmd.Context(),
				time.Duration(olderThanDays)*24*time.Hour, backupsOnly)
			if err != nil {
				if errors.Is(err, filescan.ErrNotSupported) {
					return errors.New("history cleanup requires database persistence")
				}
				return err
			}
			fmt.Printf("Pruned %d scan records and %d deletion records.\n", scans, deletions)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 365, "prune history older than this many days")
	cmd.Flags().BoolVar(&backupsOnly, "backups-only", false, "only prune deletion rows that have a backup copy")
	return cmd
}
