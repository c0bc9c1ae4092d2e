package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// SettlementWorkerConfig controls the background settlement loop.
type SettlementWorkerConfig struct {
	// Interval between settlement passes.
	Interval time.Duration
	// BatchSize caps how many matches or payouts one pass processes.
	BatchSize int
	// AutoInitialize starts settlement for a closed epoch without an
	// operator call, using SettlementToken.
	AutoInitialize bool
	// SettlementToken is the payout token used when AutoInitialize is set.
	SettlementToken common.Address
	// ArchiveSettled uploads a settled epoch's record to cold storage.
	ArchiveSettled bool
}

// workerActor is the internal identity the worker settles under. It holds
// only the epoch-controller role, so the worker can never touch admin
// surfaces by accident.
var workerActor = domain.Actor{
	ID:    "settlement-worker",
	Roles: []domain.Role{domain.RoleEpochController},
}

// SettlementWorker drives the settlement pipeline for closed epochs in the
// background. Each pass advances the latest epoch by at most one phase step,
// so a single slow conversion never blocks the ticker, and an operator
// running phases by hand concurrently is safe: every step is fenced by the
// epoch lock and a cursor that only moves forward.
type SettlementWorker struct {
	tx         domain.TxRunner
	settlement *SettlementService
	archiver   domain.EpochArchiver // nil disables archival
	cfg        SettlementWorkerConfig
	logger     *slog.Logger

	lastArchived uint64
}

// NewSettlementWorker creates a SettlementWorker. archiver may be nil when
// cold-storage archival is disabled.
func NewSettlementWorker(
	tx domain.TxRunner,
	settlement *SettlementService,
	archiver domain.EpochArchiver,
	cfg SettlementWorkerConfig,
	logger *slog.Logger,
) *SettlementWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &SettlementWorker{
		tx:         tx,
		settlement: settlement,
		archiver:   archiver,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes settlement passes on a ticker until ctx is cancelled.
func (w *SettlementWorker) Run(ctx context.Context) error {
	w.logger.Info("settlement_worker: starting",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Bool("auto_initialize", w.cfg.AutoInitialize),
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settlement_worker: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.pass(ctx); err != nil {
				w.logger.Error("settlement_worker: pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// pass inspects the latest epoch and advances its settlement by one step.
// Contention and ordering errors (another controller holds the epoch lock,
// or a phase was finished between the progress read and the call) are
// expected and skipped silently until the next tick.
func (w *SettlementWorker) pass(ctx context.Context) error {
	epoch, err := w.latestEpoch(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil // no epochs yet
	}
	if err != nil {
		return err
	}

	switch epoch.Status {
	case domain.EpochStatusClosed:
		return w.advance(ctx, epoch.ID)
	case domain.EpochStatusSettled:
		return w.archive(ctx, epoch.ID)
	default:
		return nil
	}
}

// advance performs at most one settlement phase step for the epoch.
func (w *SettlementWorker) advance(ctx context.Context, epochID uint64) error {
	progress, err := w.settlement.Progress(ctx, epochID)
	if errors.Is(err, domain.ErrNotFound) {
		if !w.cfg.AutoInitialize {
			return nil // waiting for an operator to initialize
		}
		if _, err := w.settlement.Initialize(ctx, workerActor, epochID, w.cfg.SettlementToken); err != nil {
			return w.tolerate("initialize", epochID, err)
		}
		w.logger.Info("settlement_worker: initialized settlement",
			slog.Uint64("epoch_id", epochID),
			slog.String("settlement_token", w.cfg.SettlementToken.Hex()),
		)
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case !progress.MatchesDone():
		if _, err := w.settlement.AccumulateMatches(ctx, workerActor, epochID, w.cfg.BatchSize); err != nil {
			return w.tolerate("accumulate", epochID, err)
		}
	case !progress.Converted:
		if _, err := w.settlement.ConvertPool(ctx, workerActor, epochID, nil); err != nil {
			return w.tolerate("convert", epochID, err)
		}
	case !progress.FullyPaid:
		if _, err := w.settlement.DistributePayouts(ctx, workerActor, epochID, w.cfg.BatchSize); err != nil {
			return w.tolerate("distribute", epochID, err)
		}
	}
	return nil
}

// archive uploads the settled epoch's record, if archival is enabled.
// lastArchived dedupes within this process only: after a restart the next
// pass re-uploads the record to the same deterministic object path, an
// idempotent overwrite.
func (w *SettlementWorker) archive(ctx context.Context, epochID uint64) error {
	if !w.cfg.ArchiveSettled || w.archiver == nil || epochID <= w.lastArchived {
		return nil
	}
	path, err := w.archiver.ArchiveEpoch(ctx, epochID)
	if err != nil {
		return fmt.Errorf("settlement_worker: archive epoch %d: %w", epochID, err)
	}
	w.lastArchived = epochID
	w.logger.Info("settlement_worker: epoch archived",
		slog.Uint64("epoch_id", epochID),
		slog.String("path", path),
	)
	return nil
}

func (w *SettlementWorker) latestEpoch(ctx context.Context) (domain.Epoch, error) {
	var epoch domain.Epoch
	err := w.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		e, err := uow.Epochs().Latest(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("settlement_worker: latest epoch: %w", err)
		}
		epoch = e
		return nil
	})
	return epoch, err
}

// tolerate downgrades contention and phase-ordering errors to debug noise.
func (w *SettlementWorker) tolerate(phase string, epochID uint64, err error) error {
	if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrAlreadyExists) {
		w.logger.Debug("settlement_worker: step skipped",
			slog.String("phase", phase),
			slog.Uint64("epoch_id", epochID),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	return fmt.Errorf("settlement_worker: %s epoch %d: %w", phase, epochID, err)
}
