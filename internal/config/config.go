// Package config provides layered configuration management.
// Defaults are overridden by an optional YAML file, then by .env, then by the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML as "30s", "72h" and so on
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DBConfig holds database connection parameters
type DBConfig struct {
	Driver         string   `yaml:"driver"` // "mysql" or "sqlite"
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	Database       string   `yaml:"name"`
	SQLitePath     string   `yaml:"sqlite_path"`
	ConnectRetries int      `yaml:"connect_retries"`
	ConnectDelay   Duration `yaml:"connect_delay"`
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"` // Format: host:port
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	AdminSecret string `yaml:"admin_secret"` // guards /admin routes
	FeedSecret  string `yaml:"feed_secret"`  // guards the operator websocket feed
}

// LiveChatConfig holds LiveChat API and webhook settings
type LiveChatConfig struct {
	APIURL        string `yaml:"api_url"`
	AccessToken   string `yaml:"access_token"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// RingCentralConfig holds RingCentral API and webhook settings
type RingCentralConfig struct {
	APIURL        string `yaml:"api_url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	JWT           string `yaml:"jwt"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// LedgerConfig controls the idempotency ledger
type LedgerConfig struct {
	// Retention must cover the longest redelivery window of either platform
	Retention Duration `yaml:"retention"`
}

// IngestConfig controls the per-conversation ingest sequencer
type IngestConfig struct {
	Workers    int      `yaml:"workers"`
	MaxPending int      `yaml:"max_pending"`
	Timeout    Duration `yaml:"timeout"`
}

// DispatchConfig controls the outbound dispatcher
type DispatchConfig struct {
	Workers        int      `yaml:"workers"`
	QueueSize      int      `yaml:"queue_size"`
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseBackoff    Duration `yaml:"base_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	Burst          int      `yaml:"burst"`
}

// MaintenanceConfig controls the scheduled retention purge
type MaintenanceConfig struct {
	PurgeSchedule    string   `yaml:"purge_schedule"` // 5-field cron expression
	SyncLogRetention Duration `yaml:"sync_log_retention"`
	DiskWarnPercent  float64  `yaml:"disk_warn_percent"`
}

// AlertConfig holds the Slack alert sink settings
type AlertConfig struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// ContactsConfig controls contact normalization
type ContactsConfig struct {
	DefaultRegion string `yaml:"default_region"` // ISO 3166 region for numbers without a country code
}

// Config aggregates all configuration sections
type Config struct {
	DB          DBConfig          `yaml:"db"`
	Redis       RedisConfig       `yaml:"redis"`
	App         AppConfig         `yaml:"app"`
	LiveChat    LiveChatConfig    `yaml:"livechat"`
	RingCentral RingCentralConfig `yaml:"ringcentral"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Alert       AlertConfig       `yaml:"alert"`
	Contacts    ContactsConfig    `yaml:"contacts"`
}

// Load builds the configuration from defaults, the optional YAML file at path,
// an optional .env file and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Driver:         "mysql",
			Host:           "syncbridge_db",
			Port:           3306,
			User:           "root",
			Database:       "syncbridge",
			SQLitePath:     "syncbridge.db",
			ConnectRetries: 5,
			ConnectDelay:   Duration(2 * time.Second),
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "syncbridge_redis:6379",
		},
		App: AppConfig{
			Port:      8080,
			LogLevel:  "info",
			LogFormat: "json",
		},
		LiveChat: LiveChatConfig{
			APIURL: "https://api.livechatinc.com/v3.5",
		},
		RingCentral: RingCentralConfig{
			APIURL: "https://platform.ringcentral.com",
		},
		Ledger: LedgerConfig{
			Retention: Duration(30 * 24 * time.Hour),
		},
		Ingest: IngestConfig{
			Workers:    8,
			MaxPending: 1024,
			Timeout:    Duration(10 * time.Second),
		},
		Dispatch: DispatchConfig{
			Workers:        4,
			QueueSize:      512,
			MaxAttempts:    3,
			BaseBackoff:    Duration(time.Second),
			MaxBackoff:     Duration(time.Minute),
			AttemptTimeout: Duration(10 * time.Second),
			RatePerSecond:  5,
			Burst:          10,
		},
		Maintenance: MaintenanceConfig{
			PurgeSchedule:    "*/10 * * * *",
			SyncLogRetention: Duration(14 * 24 * time.Hour),
			DiskWarnPercent:  70,
		},
		Contacts: ContactsConfig{
			DefaultRegion: "US",
		},
	}
}

// applyEnv overrides cfg with any environment variables that are set
func applyEnv(cfg *Config) {
	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnvAsInt("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASS", cfg.DB.Password)
	cfg.DB.Database = getEnv("DB_NAME", cfg.DB.Database)
	cfg.DB.SQLitePath = getEnv("DB_SQLITE_PATH", cfg.DB.SQLitePath)

	cfg.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnv("LOG_FORMAT", cfg.App.LogFormat)
	cfg.App.AdminSecret = getEnv("ADMIN_SECRET", cfg.App.AdminSecret)
	cfg.App.FeedSecret = getEnv("FEED_SECRET", cfg.App.FeedSecret)

	cfg.LiveChat.APIURL = getEnv("LIVECHAT_API_URL", cfg.LiveChat.APIURL)
	cfg.LiveChat.AccessToken = getEnv("LIVECHAT_ACCESS_TOKEN", cfg.LiveChat.AccessToken)
	cfg.LiveChat.WebhookSecret = getEnv("LIVECHAT_WEBHOOK_SECRET", cfg.LiveChat.WebhookSecret)

	cfg.RingCentral.APIURL = getEnv("RINGCENTRAL_API_URL", cfg.RingCentral.APIURL)
	cfg.RingCentral.ClientID = getEnv("RINGCENTRAL_CLIENT_ID", cfg.RingCentral.ClientID)
	cfg.RingCentral.ClientSecret = getEnv("RINGCENTRAL_CLIENT_SECRET", cfg.RingCentral.ClientSecret)
	cfg.RingCentral.JWT = getEnv("RINGCENTRAL_JWT_TOKEN", cfg.RingCentral.JWT)
	cfg.RingCentral.WebhookSecret = getEnv("RINGCENTRAL_WEBHOOK_SECRET", cfg.RingCentral.WebhookSecret)

	cfg.Ledger.Retention = getEnvAsDuration("LEDGER_RETENTION", cfg.Ledger.Retention)

	cfg.Ingest.Workers = getEnvAsInt("INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.MaxPending = getEnvAsInt("INGEST_MAX_PENDING", cfg.Ingest.MaxPending)
	cfg.Ingest.Timeout = getEnvAsDuration("INGEST_TIMEOUT", cfg.Ingest.Timeout)

	cfg.Dispatch.Workers = getEnvAsInt("DISPATCH_WORKERS", cfg.Dispatch.Workers)
	cfg.Dispatch.QueueSize = getEnvAsInt("DISPATCH_QUEUE_SIZE", cfg.Dispatch.QueueSize)
	cfg.Dispatch.MaxAttempts = getEnvAsInt("DISPATCH_MAX_ATTEMPTS", cfg.Dispatch.MaxAttempts)
	cfg.Dispatch.BaseBackoff = getEnvAsDuration("DISPATCH_BASE_BACKOFF", cfg.Dispatch.BaseBackoff)
	cfg.Dispatch.MaxBackoff = getEnvAsDuration("DISPATCH_MAX_BACKOFF", cfg.Dispatch.MaxBackoff)
	cfg.Dispatch.AttemptTimeout = getEnvAsDuration("DISPATCH_ATTEMPT_TIMEOUT", cfg.Dispatch.AttemptTimeout)
	cfg.Dispatch.RatePerSecond = getEnvAsFloat("DISPATCH_RATE_PER_SECOND", cfg.Dispatch.RatePerSecond)
	cfg.Dispatch.Burst = getEnvAsInt("DISPATCH_BURST", cfg.Dispatch.Burst)

	cfg.Maintenance.PurgeSchedule = getEnv("PURGE_SCHEDULE", cfg.Maintenance.PurgeSchedule)
	cfg.Maintenance.SyncLogRetention = getEnvAsDuration("SYNC_LOG_RETENTION", cfg.Maintenance.SyncLogRetention)
	cfg.Maintenance.DiskWarnPercent = getEnvAsFloat("DISK_WARN_PERCENT", cfg.Maintenance.DiskWarnPercent)

	cfg.Alert.SlackToken = getEnv("SLACK_TOKEN", cfg.Alert.SlackToken)
	cfg.Alert.SlackChannel = getEnv("SLACK_CHANNEL", cfg.Alert.SlackChannel)

	cfg.Contacts.DefaultRegion = getEnv("CONTACTS_DEFAULT_REGION", cfg.Contacts.DefaultRegion)
}

// Validate reports every invalid or missing setting at once
func (c *Config) Validate() error {
	var errs []string

	switch c.DB.Driver {
	case "mysql":
		if c.DB.Password == "" {
			errs = append(errs, "db.password (DB_PASS) is required for the mysql driver")
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			errs = append(errs, "db.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("db.driver must be mysql or sqlite, got %q", c.DB.Driver))
	}

	if c.LiveChat.WebhookSecret == "" {
		errs = append(errs, "livechat.webhook_secret (LIVECHAT_WEBHOOK_SECRET) is required")
	}
	if c.RingCentral.WebhookSecret == "" {
		errs = append(errs, "ringcentral.webhook_secret (RINGCENTRAL_WEBHOOK_SECRET) is required")
	}

	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("app.log_level must be debug, info, warn or error, got %q", c.App.LogLevel))
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("app.log_format must be json or text, got %q", c.App.LogFormat))
	}

	if c.Ledger.Retention <= 0 {
		errs = append(errs, "ledger.retention must be positive")
	}
	if c.Ingest.Workers < 1 || c.Ingest.MaxPending < 1 {
		errs = append(errs, "ingest.workers and ingest.max_pending must be at least 1")
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.workers and dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.BaseBackoff <= 0 || c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		errs = append(errs, "dispatch.base_backoff must be positive and not exceed dispatch.max_backoff")
	}
	if c.Dispatch.AttemptTimeout <= 0 {
		errs = append(errs, "dispatch.attempt_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetDSN returns the MariaDB/MySQL connection string
func (c *DBConfig) GetDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration(d)
		}
	}
	return defaultValue
}
