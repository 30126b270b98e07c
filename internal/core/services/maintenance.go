package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"syncbridge/internal/clock"
	"syncbridge/internal/core/ports"
)

// purgeBatchSize bounds each DELETE so purges never hold long locks
const purgeBatchSize = 1000

// DiskProbe reports used disk space as a percentage
type DiskProbe func() (float64, error)

// PurgeReport summarizes one maintenance run
type PurgeReport struct {
	Receipts  int64   `json:"receipts"`
	SyncLogs  int64   `json:"sync_logs"`
	DiskUsage float64 `json:"disk_usage_percent,omitempty"`
}

// MaintenanceConfig holds retention windows and the disk warning threshold
type MaintenanceConfig struct {
	ReceiptRetention time.Duration
	SyncLogRetention time.Duration
	DiskWarnPercent  float64
}

// Maintenance purges expired receipts and audit rows on a cron schedule.
// Receipts are only removed once they are older than the ledger retention window.
type Maintenance struct {
	receipts ports.ReceiptRepository
	syncLogs ports.SyncLogRepository
	cfg      MaintenanceConfig
	probe    DiskProbe
	clock    clock.Clock
	cron     *cron.Cron
}

// NewMaintenance creates the purge service. probe may be nil.
func NewMaintenance(receipts ports.ReceiptRepository, syncLogs ports.SyncLogRepository, cfg MaintenanceConfig, probe DiskProbe, clk clock.Clock) *Maintenance {
	return &Maintenance{
		receipts: receipts,
		syncLogs: syncLogs,
		cfg:      cfg,
		probe:    probe,
		clock:    clk,
	}
}

// RunOnce purges everything older than the configured windows
func (m *Maintenance) RunOnce(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	now := m.clock.Now().UTC()

	if m.probe != nil {
		usage, err := m.probe()
		if err != nil {
			slog.Warn("Disk usage check failed", "error", err)
		} else {
			report.DiskUsage = usage
			if m.cfg.DiskWarnPercent > 0 && usage >= m.cfg.DiskWarnPercent {
				slog.Warn("Disk usage above threshold",
					"usage_percent", usage,
					"threshold_percent", m.cfg.DiskWarnPercent,
				)
			}
		}
	}

	var errs []error
	if m.cfg.ReceiptRetention > 0 {
		n, err := m.receipts.PurgeReceiptsBefore(ctx, now.Add(-m.cfg.ReceiptRetention), purgeBatchSize)
		report.Receipts = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if m.cfg.SyncLogRetention > 0 {
		n, err := m.syncLogs.PurgeSyncLogsBefore(ctx, now.Add(-m.cfg.SyncLogRetention), purgeBatchSize)
		report.SyncLogs = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("Maintenance purge completed",
		"receipts", report.Receipts,
		"sync_logs", report.SyncLogs,
	)
	return report, errors.Join(errs...)
}

// Start runs RunOnce on a standard 5-field cron schedule
func (m *Maintenance) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC recovered in maintenance run", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := m.RunOnce(ctx); err != nil {
			slog.Error("Maintenance purge failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	m.cron = c
	c.Start()
	slog.Info("Maintenance scheduler started", "schedule", schedule)
	return nil
}

// Stop waits for a running purge to finish
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}
