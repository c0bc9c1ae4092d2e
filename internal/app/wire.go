package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/memepit/memepit/internal/blob/s3"
	"github.com/memepit/memepit/internal/cache/redis"
	"github.com/memepit/memepit/internal/config"
	"github.com/memepit/memepit/internal/crypto"
	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/exchange"
	"github.com/memepit/memepit/internal/notify"
	"github.com/memepit/memepit/internal/store/memory"
	"github.com/memepit/memepit/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Persistence and coordination
	Tx          domain.TxRunner
	Locks       domain.LockManager
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter // nil in local mode

	// Conversion adapters
	Adapters domain.AdapterSet

	// Credentials. The keyring always serves as the role gate; it doubles
	// as the HTTP authenticator when at least one key is configured.
	Keyring *crypto.Keyring

	// Blob storage, only when the epoch archive is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.EpochArchiver

	// Notifications
	Notifier *notify.Notifier
}

// isLocal reports whether the mode runs entirely in memory, with no external
// infrastructure.
func isLocal(mode string) bool {
	return strings.ToLower(mode) == "local"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Adapters: domain.AdapterSet{
			"constant_product": exchange.NewConstantProduct(logger),
			"concentrated":     exchange.NewConcentrated(logger),
		},
	}

	// --- Credentials ---
	specs := make([]crypto.KeySpec, 0, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		specs = append(specs, crypto.KeySpec{
			ID:      k.ID,
			Key:     k.Key,
			KeyHash: k.KeyHash,
			Roles:   k.Roles,
		})
	}
	keyring, err := crypto.NewKeyring(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: keyring: %w", err)
	}
	deps.Keyring = keyring

	if isLocal(cfg.Mode) {
		// Local mode: in-memory store, locks, and bus. No Redis, no
		// Postgres, no rate limiting.
		deps.Tx = memory.NewStore()
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewSignalBus()
	} else {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Tx = postgres.NewStore(pgClient)

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage (only when the epoch archive is enabled) ---
	if cfg.Engine.ArchiveSettled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Tx)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
