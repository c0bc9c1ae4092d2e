package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// EpochService owns the epoch lifecycle. Epoch ids increase monotonically
// and the eligible-token set is frozen the moment an epoch opens.
type EpochService struct {
	tx     domain.TxRunner
	locks  domain.LockManager
	gate   domain.AccessGate
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEpochService creates an EpochService with all required dependencies.
func NewEpochService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	bus domain.SignalBus,
	logger *slog.Logger,
) *EpochService {
	return &EpochService{
		tx:     tx,
		locks:  locks,
		gate:   gate,
		bus:    bus,
		logger: logger,
	}
}

// Open creates the next epoch with the given eligible-token snapshot. An
// empty set defaults to the enabled entries of the token registry.
func (s *EpochService) Open(ctx context.Context, actor domain.Actor, eligibleTokens []common.Address) (domain.Epoch, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.Epoch{}, err
	}
	unlock, err := s.locks.Acquire(ctx, "epochs:open", opLockTTL)
	if err != nil {
		return domain.Epoch{}, fmt.Errorf("epoch_service: lock open: %w", err)
	}
	defer unlock()

	var epoch domain.Epoch
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		tokens := eligibleTokens
		if len(tokens) == 0 {
			enabled, err := uow.Tokens().ListEnabled(ctx)
			if err != nil {
				return fmt.Errorf("epoch_service: load token registry: %w", err)
			}
			for _, t := range enabled {
				tokens = append(tokens, t.Token)
			}
		}
		snapshot, err := dedupeTokens(tokens)
		if err != nil {
			return err
		}

		epoch = domain.Epoch{
			Status:         domain.EpochStatusOpen,
			EligibleTokens: snapshot,
			OpenedAt:       time.Now().UTC(),
		}
		id, err := uow.Epochs().Create(ctx, epoch)
		if err != nil {
			return fmt.Errorf("epoch_service: create epoch: %w", err)
		}
		epoch.ID = id

		if auditErr := uow.Audit().Log(ctx, "epoch_opened", map[string]any{
			"epoch_id": id,
			"tokens":   len(snapshot),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "epoch_service: audit log failed",
				slog.Uint64("epoch_id", id),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Epoch{}, err
	}

	s.publish(ctx, map[string]string{
		"event":    "epoch_opened",
		"epoch_id": fmt.Sprintf("%d", epoch.ID),
	})
	s.logger.InfoContext(ctx, "epoch_service: epoch opened",
		slog.Uint64("epoch_id", epoch.ID),
		slog.Int("eligible_tokens", len(epoch.EligibleTokens)),
	)
	return epoch, nil
}

// Close moves an open epoch to closed. Irreversible: no further matches or
// pool deposits can enter the epoch.
func (s *EpochService) Close(ctx context.Context, actor domain.Actor, epochID uint64) (domain.Epoch, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.Epoch{}, err
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return domain.Epoch{}, fmt.Errorf("epoch_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var epoch domain.Epoch
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		e, err := uow.Epochs().Get(ctx, epochID)
		if err != nil {
			return fmt.Errorf("epoch_service: load epoch %d: %w", epochID, err)
		}
		if e.Status != domain.EpochStatusOpen {
			return fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidState, epochID, e.Status)
		}
		now := time.Now().UTC()
		e.Status = domain.EpochStatusClosed
		e.ClosedAt = &now
		if err := uow.Epochs().Update(ctx, e); err != nil {
			return fmt.Errorf("epoch_service: update epoch %d: %w", epochID, err)
		}
		epoch = e

		if auditErr := uow.Audit().Log(ctx, "epoch_closed", map[string]any{
			"epoch_id": epochID,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "epoch_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Epoch{}, err
	}

	s.publish(ctx, map[string]string{
		"event":    "epoch_closed",
		"epoch_id": fmt.Sprintf("%d", epochID),
	})
	s.logger.InfoContext(ctx, "epoch_service: epoch closed",
		slog.Uint64("epoch_id", epochID),
	)
	return epoch, nil
}

// Get retrieves one epoch.
func (s *EpochService) Get(ctx context.Context, id uint64) (domain.Epoch, error) {
	var epoch domain.Epoch
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		e, err := uow.Epochs().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("epoch_service: get epoch %d: %w", id, err)
		}
		epoch = e
		return nil
	})
	return epoch, err
}

// Current retrieves the most recently opened epoch.
func (s *EpochService) Current(ctx context.Context) (domain.Epoch, error) {
	var epoch domain.Epoch
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		e, err := uow.Epochs().Latest(ctx)
		if err != nil {
			return fmt.Errorf("epoch_service: latest epoch: %w", err)
		}
		epoch = e
		return nil
	})
	return epoch, err
}

// Deposits returns the epoch's accumulated per-token pool contributions.
func (s *EpochService) Deposits(ctx context.Context, epochID uint64) ([]domain.EpochDeposit, error) {
	var deps []domain.EpochDeposit
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if _, err := uow.Epochs().Get(ctx, epochID); err != nil {
			return fmt.Errorf("epoch_service: load epoch %d: %w", epochID, err)
		}
		ds, err := uow.Epochs().Deposits(ctx, epochID)
		if err != nil {
			return fmt.Errorf("epoch_service: deposits for epoch %d: %w", epochID, err)
		}
		deps = ds
		return nil
	})
	return deps, err
}

func (s *EpochService) publish(ctx context.Context, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "epochs", evt); err != nil {
		s.logger.WarnContext(ctx, "epoch_service: publish event failed",
			slog.String("event", payload["event"]),
			slog.String("error", err.Error()),
		)
	}
}

// recordEpochDeposit accumulates a resolved match's pool share into its
// epoch, inside the caller's unit of work. The epoch must still be open and
// the token eligible, so no value can leak into a closed epoch.
func recordEpochDeposit(ctx context.Context, uow domain.UOW, epochID uint64, token common.Address, amount *big.Int) error {
	epoch, err := uow.Epochs().Get(ctx, epochID)
	if err != nil {
		return fmt.Errorf("epoch_service: load epoch %d: %w", epochID, err)
	}
	if epoch.Status != domain.EpochStatusOpen {
		return fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidState, epochID, epoch.Status)
	}
	if !epoch.Eligible(token) {
		return fmt.Errorf("%w: %s in epoch %d", domain.ErrTokenNotEligible, token.Hex(), epochID)
	}
	if err := uow.Epochs().AddDeposit(ctx, epochID, token, amount); err != nil {
		return fmt.Errorf("epoch_service: add deposit: %w", err)
	}
	return nil
}

// dedupeTokens validates and de-duplicates an eligible-token snapshot,
// preserving first-seen order.
func dedupeTokens(tokens []common.Address) ([]common.Address, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty eligible-token set", domain.ErrValidation)
	}
	seen := make(map[common.Address]bool, len(tokens))
	out := make([]common.Address, 0, len(tokens))
	for _, t := range tokens {
		if t == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero token address", domain.ErrValidation)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
