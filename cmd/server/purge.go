package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"syncbridge/internal/clock"
	"syncbridge/internal/config"
)

func newPurgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one retention purge and exit",
		Long:  "Deletes webhook receipts older than ledger.retention and sync logs older than maintenance.sync_log_retention.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, *configPath)
		},
	}
}

func runPurge(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, store, err := openStore(cfg.DB)
	if err != nil {
		return err
	}
	defer closeDB(db)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	report, err := newMaintenance(cfg, store, clock.Real()).RunOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d receipts and %d sync logs (disk %.1f%% used)\n",
		report.Receipts, report.SyncLogs, report.DiskUsage)
	return err
}
