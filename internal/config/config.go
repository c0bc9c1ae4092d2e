// Package config defines the top-level configuration for the memepit
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PITD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Auth     AuthConfig     `toml:"auth"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the settled
// epoch archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds settlement engine parameters.
type EngineConfig struct {
	// SettlementBatchSize bounds how many matches or participants one
	// settlement invocation processes.
	SettlementBatchSize int `toml:"settlement_batch_size"`
	// WorkerInterval is how often the settlement worker looks for closed
	// epochs with outstanding work.
	WorkerInterval duration `toml:"worker_interval"`
	// AutoInitialize lets the worker start settlement on closed epochs by
	// itself using SettlementToken. When false, settlement is started only
	// through the API.
	AutoInitialize bool `toml:"auto_initialize"`
	// SettlementToken is the token the worker designates when it
	// auto-initializes settlement. Hex address; required when AutoInitialize
	// is set.
	SettlementToken string `toml:"settlement_token"`
	// RequireDepositAuth makes vault credits demand a player-signed
	// authorization.
	RequireDepositAuth bool `toml:"require_deposit_auth"`
	// ArchiveSettled uploads each settled epoch's full record to object
	// storage once payouts complete.
	ArchiveSettled bool `toml:"archive_settled"`
}

// SettlementTokenAddress parses the configured settlement token. The zero
// address is returned when none is set; Validate rejects that combination
// whenever auto_initialize is on.
func (e EngineConfig) SettlementTokenAddress() common.Address {
	if !common.IsHexAddress(e.SettlementToken) {
		return common.Address{}
	}
	return common.HexToAddress(e.SettlementToken)
}

// AuthConfig declares the API keys the server accepts and the roles each key
// carries.
type AuthConfig struct {
	Keys []RoleKey `toml:"keys"`
}

// RoleKey is one API credential. Either Key (raw, hashed at startup) or
// KeyHash (pre-hashed, as produced by the keyring) must be set.
type RoleKey struct {
	ID      string   `toml:"id"`
	Key     string   `toml:"key"`
	KeyHash string   `toml:"key_hash"`
	Roles   []string `toml:"roles"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ValidRoles enumerates role names accepted in auth key declarations.
var ValidRoles = map[string]bool{
	"admin":            true,
	"epoch_controller": true,
	"match_source":     true,
}

// Defaults returns a Config populated with reasonable development defaults:
// everything local, archive and deposit auth off.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "memepit",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "memepit-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			SettlementBatchSize: 50,
			WorkerInterval:      duration{30 * time.Second},
			AutoInitialize:      false,
			RequireDepositAuth:  false,
			ArchiveSettled:      false,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"match_resolved", "epoch_closed", "epoch_settled", "conversion_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
	"local":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full, local)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres — local mode runs entirely in memory, everything else needs
	// a database.
	if strings.ToLower(c.Mode) != "local" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only required when the epoch archive is enabled.
	if c.Engine.ArchiveSettled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when engine.archive_settled is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when engine.archive_settled is set")
		}
	}

	// Engine
	if c.Engine.SettlementBatchSize < 1 {
		errs = append(errs, "engine: settlement_batch_size must be >= 1")
	}
	if c.Engine.WorkerInterval.Duration <= 0 {
		errs = append(errs, "engine: worker_interval must be positive")
	}
	if c.Engine.AutoInitialize {
		if !common.IsHexAddress(c.Engine.SettlementToken) {
			errs = append(errs, fmt.Sprintf("engine: settlement_token %q is not a hex address (required when auto_initialize is set)", c.Engine.SettlementToken))
		}
	}

	// Auth keys
	seenIDs := make(map[string]bool, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if k.ID == "" {
			errs = append(errs, fmt.Sprintf("auth: keys[%d]: id must not be empty", i))
		} else if seenIDs[k.ID] {
			errs = append(errs, fmt.Sprintf("auth: keys[%d]: duplicate id %q", i, k.ID))
		}
		seenIDs[k.ID] = true
		if k.Key == "" && k.KeyHash == "" {
			errs = append(errs, fmt.Sprintf("auth: keys[%d]: either key or key_hash must be set", i))
		}
		if len(k.Roles) == 0 {
			errs = append(errs, fmt.Sprintf("auth: keys[%d]: at least one role is required", i))
		}
		for _, r := range k.Roles {
			if !ValidRoles[r] {
				errs = append(errs, fmt.Sprintf("auth: keys[%d]: unknown role %q (valid: admin, epoch_controller, match_source)", i, r))
			}
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
