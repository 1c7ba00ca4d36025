// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func scanCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "scan [custom|contribute|all]",
		Short:     "Scan upload directories for abandoned files",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"custom", "contribute", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}

			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := a.scans.RunScan(ctx, target)
			if err != nil {
				if report != nil {
					printMessages(report.Messages)
				}
				return err
			}

			printMessages(report.Messages)
			if report.IsError {
				return errors.New("scan finished with errors")
			}
			return nil
		},
	}
	return cmd
}

func printMessages(messages []string) {
	for _, m := range messages {
		fmt.Println(m)
	}
}
