// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"syncbridge/internal/config"
	"syncbridge/internal/core/domain"
)

// mysqlDuplicateEntry is the MySQL/MariaDB error number for a unique key violation
const mysqlDuplicateEntry = 1062

// AllModels lists every table the engine owns, in migration order
func AllModels() []interface{} {
	return []interface{}{
		&domain.WebhookReceipt{},
		&domain.Agent{},
		&domain.AgentPresence{},
		&domain.Customer{},
		&domain.Conversation{},
		&domain.SyncLog{},
	}
}

// Connect opens the configured database with retry logic.
// Retries are necessary because Docker containers may still be initializing.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = mysql.Open(cfg.GetDSN())
	}

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var err error
	for i := 1; i <= retries; i++ {
		var db *gorm.DB
		db, err = open(dialector)
		if err == nil {
			if cfg.Driver == "sqlite" {
				limitSQLite(db)
			}
			return db, nil
		}

		slog.Warn("Database not reachable",
			"attempt", i,
			"max_attempts", retries,
			"driver", cfg.Driver,
			"error", err,
		)
		if i < retries {
			time.Sleep(cfg.ConnectDelay.Std())
		}
	}
	return nil, fmt.Errorf("connect %s after %d attempts: %w", cfg.Driver, retries, err)
}

// OpenSQLite opens a sqlite database at path (":memory:" for tests) and migrates it
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := open(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	limitSQLite(db)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// ConnectRedis pings Redis with retry logic and returns the client
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, retries int, delay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= max(retries, 1); i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		slog.Warn("Redis not reachable",
			"attempt", i,
			"max_attempts", retries,
			"error", err,
		)
		if i < retries {
			time.Sleep(delay)
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("connect redis after %d attempts: %w", retries, err)
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// limitSQLite pins sqlite to one connection so ":memory:" databases are shared
// and writers never see SQLITE_BUSY
func limitSQLite(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
}

// isDuplicateKey reports whether err is a unique constraint violation on any supported driver
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
