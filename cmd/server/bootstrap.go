package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"gorm.io/gorm"

	"syncbridge/internal/adapters/repository"
	"syncbridge/internal/config"
)

// newLogger builds the process logger from app.log_level and app.log_format
func newLogger(cfg config.AppConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore connects to the configured database and migrates it
func openStore(cfg config.DBConfig) (*gorm.DB, *repository.Store, error) {
	db, err := repository.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(db); err != nil {
		closeDB(db)
		return nil, nil, err
	}
	return db, repository.NewStore(db), nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// diskUsage reports how full the root volume is
func diskUsage() (float64, error) {
	usage, err := disk.Usage("/")
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	return usage.UsedPercent, nil
}
