package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memepit/memepit/internal/crypto"
	"github.com/memepit/memepit/internal/notify"
	"github.com/memepit/memepit/internal/server"
	"github.com/memepit/memepit/internal/server/handler"
	"github.com/memepit/memepit/internal/server/middleware"
	"github.com/memepit/memepit/internal/server/ws"
	"github.com/memepit/memepit/internal/service"
)

// services holds every engine service, built once per run from the wired
// dependencies.
type services struct {
	escrow   *service.EscrowService
	epochs   *service.EpochService
	settle   *service.SettlementService
	vault    *service.VaultService
	registry *service.RegistryService
	recovery *service.RecoveryService
}

// buildServices constructs the service layer on top of the wired
// dependencies. The keyring acts as the role gate for every service.
func (a *App) buildServices(deps *Dependencies) *services {
	gate := deps.Keyring
	s := &services{
		escrow:   service.NewEscrowService(deps.Tx, deps.Locks, gate, deps.Bus, deps.Adapters, a.logger),
		epochs:   service.NewEpochService(deps.Tx, deps.Locks, gate, deps.Bus, a.logger),
		settle:   service.NewSettlementService(deps.Tx, deps.Locks, gate, deps.Bus, deps.Adapters, a.logger),
		vault:    service.NewVaultService(deps.Tx, deps.Locks, gate, deps.Bus, a.logger),
		registry: service.NewRegistryService(deps.Tx, deps.Locks, gate, deps.Adapters, a.logger),
		recovery: service.NewRecoveryService(deps.Tx, deps.Locks, gate, a.logger),
	}
	if a.cfg.Engine.RequireDepositAuth {
		s.vault.WithVerifier(crypto.NewDepositVerifier())
	}
	return s
}

// ServerMode runs the HTTP + WebSocket API without the background settlement
// worker. Settlement phases are driven through the API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startNotifyBridge(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode runs only the background settlement worker. A separate server
// process owns the API.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startNotifyBridge(ctx, g, deps)
	a.startSettlementWorker(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs the API and the settlement worker in one process. Local mode
// is full mode on in-memory infrastructure.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startNotifyBridge(ctx, g, deps)
	a.startSettlementWorker(ctx, g, deps, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

// startSettlementWorker adds the background settlement loop to the errgroup.
func (a *App) startSettlementWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	worker := service.NewSettlementWorker(
		deps.Tx,
		svcs.settle,
		deps.Archiver,
		service.SettlementWorkerConfig{
			Interval:        a.cfg.Engine.WorkerInterval.Duration,
			BatchSize:       a.cfg.Engine.SettlementBatchSize,
			AutoInitialize:  a.cfg.Engine.AutoInitialize,
			SettlementToken: a.cfg.Engine.SettlementTokenAddress(),
			ArchiveSettled:  a.cfg.Engine.ArchiveSettled,
		},
		a.logger,
	)
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// startNotifyBridge forwards bus events to the configured notification
// channels, when any are configured.
func (a *App) startNotifyBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	bridge := notify.NewEventBridge(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})
}

// startHTTPServer adds the API server and WebSocket hub to the errgroup. The
// server shuts down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	adapterNames := make([]string, 0, len(deps.Adapters))
	for name := range deps.Adapters {
		adapterNames = append(adapterNames, name)
	}
	sort.Strings(adapterNames)

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, adapterNames, startedAt),
		Matches:    handler.NewMatchHandler(svcs.escrow, a.logger),
		Epochs:     handler.NewEpochHandler(svcs.epochs, a.logger),
		Settlement: handler.NewSettlementHandler(svcs.settle, a.logger),
		Vault:      handler.NewVaultHandler(svcs.vault, a.logger),
		Admin:      handler.NewAdminHandler(svcs.registry, svcs.recovery, a.logger).WithArchive(deps.BlobReader),
	}

	// An empty keyring disables HTTP authentication; requests then run as
	// an all-roles development actor.
	var authn middleware.Authenticator
	if !deps.Keyring.Empty() {
		authn = deps.Keyring
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, authn, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
