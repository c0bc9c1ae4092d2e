package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults run in full mode, which requires a reachable database config;
	// the default host/port/database satisfy that.
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "cluster"
	cfg.LogLevel = "verbose"
	cfg.Engine.SettlementBatchSize = 0
	cfg.Server.Port = 99999

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "settlement_batch_size")
	assert.Contains(t, err.Error(), "port must be 1-65535")
}

func TestValidateAuthKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Keys = []RoleKey{
		{ID: "ops", Key: "secret", Roles: []string{"admin"}},
		{ID: "ops", Roles: []string{"janitor"}},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "either key or key_hash")
	assert.Contains(t, err.Error(), `unknown role "janitor"`)
}

func TestValidateAutoInitializeNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.AutoInitialize = true
	require.ErrorContains(t, cfg.Validate(), "settlement_token")

	cfg.Engine.SettlementToken = "0x1111111111111111111111111111111111111111"
	require.NoError(t, cfg.Validate())
}

func TestValidateLocalModeSkipsInfra(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "local"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pitd.toml")
	data := `
mode = "worker"

[engine]
settlement_batch_size = 25
worker_interval = "2m"

[postgres]
host = "db.internal"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("PITD_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("PITD_ENGINE_WORKER_INTERVAL", "45s")
	t.Setenv("PITD_SERVER_CORS_ORIGINS", "https://pit.example, https://ops.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 25, cfg.Engine.SettlementBatchSize)
	// Env wins over the TOML file.
	assert.Equal(t, 45*time.Second, cfg.Engine.WorkerInterval.Duration)
	assert.Equal(t, []string{"https://pit.example", "https://ops.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "rdpass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Auth.Keys = []RoleKey{{ID: "ops", Key: "raw-key", Roles: []string{"admin"}}}

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Auth.Keys[0].Key)

	// The original is untouched.
	assert.Equal(t, "pgpass", cfg.Postgres.Password)
	assert.Equal(t, "raw-key", cfg.Auth.Keys[0].Key)
}
