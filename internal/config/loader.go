package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PITD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PITD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PITD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PITD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PITD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PITD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PITD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PITD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PITD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "PITD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "PITD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PITD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PITD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PITD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PITD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PITD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PITD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PITD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PITD_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "PITD_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PITD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PITD_S3_REGION")
	setStr(&cfg.S3.Bucket, "PITD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PITD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PITD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PITD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PITD_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setInt(&cfg.Engine.SettlementBatchSize, "PITD_ENGINE_SETTLEMENT_BATCH_SIZE")
	setDuration(&cfg.Engine.WorkerInterval, "PITD_ENGINE_WORKER_INTERVAL")
	setBool(&cfg.Engine.AutoInitialize, "PITD_ENGINE_AUTO_INITIALIZE")
	setStr(&cfg.Engine.SettlementToken, "PITD_ENGINE_SETTLEMENT_TOKEN")
	setBool(&cfg.Engine.RequireDepositAuth, "PITD_ENGINE_REQUIRE_DEPOSIT_AUTH")
	setBool(&cfg.Engine.ArchiveSettled, "PITD_ENGINE_ARCHIVE_SETTLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PITD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PITD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PITD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "PITD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PITD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PITD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PITD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PITD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PITD_MODE")
	setStr(&cfg.LogLevel, "PITD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
