package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// RecoveryService holds the administrative escape hatches: sweeping stranded
// internal balances and clearing failed-conversion entries. Sweeps are
// bounded by what an account actually holds; they can never mint value.
type RecoveryService struct {
	tx     domain.TxRunner
	locks  domain.LockManager
	gate   domain.AccessGate
	logger *slog.Logger
}

// NewRecoveryService creates a RecoveryService with all required
// dependencies.
func NewRecoveryService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	logger *slog.Logger,
) *RecoveryService {
	return &RecoveryService{
		tx:     tx,
		locks:  locks,
		gate:   gate,
		logger: logger,
	}
}

// SweepBalance moves amount of token from an internal account to a
// recipient's vault balance. Exceeding the held balance fails with
// ErrInsufficientFunds and no state change.
func (s *RecoveryService) SweepBalance(ctx context.Context, actor domain.Actor, account string, token common.Address, amount *big.Int, recipient common.Address) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if account == "" {
		return fmt.Errorf("%w: empty account", domain.ErrValidation)
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero recipient", domain.ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: sweep amount must be positive", domain.ErrValidation)
	}
	unlock, err := s.locks.Acquire(ctx, accountLockKey(account), opLockTTL)
	if err != nil {
		return fmt.Errorf("recovery_service: lock account: %w", err)
	}
	defer unlock()

	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Balances().Move(ctx, account, domain.PlayerAccount(recipient), token, amount); err != nil {
			return fmt.Errorf("recovery_service: sweep %s from %s: %w", token.Hex(), account, err)
		}
		if auditErr := uow.Audit().Log(ctx, "balance_swept", map[string]any{
			"account":   account,
			"token":     token.Hex(),
			"amount":    amount.String(),
			"recipient": recipient.Hex(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "recovery_service: audit log failed",
				slog.String("account", account),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "recovery_service: balance swept",
		slog.String("account", account),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
		slog.String("recipient", recipient.Hex()),
	)
	return nil
}

// SweepFailedConversion pays a failed-conversion entry's amount from the
// epoch pool account to a recipient and clears the ledger entry.
func (s *RecoveryService) SweepFailedConversion(ctx context.Context, actor domain.Actor, epochID uint64, token common.Address, recipient common.Address) (*big.Int, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", domain.ErrValidation)
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return nil, fmt.Errorf("recovery_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var amount *big.Int
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		entry, err := uow.FailedConversions().Get(ctx, epochID, token)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no failed conversion for %s in epoch %d", domain.ErrNotFound, token.Hex(), epochID)
		}
		if err != nil {
			return fmt.Errorf("recovery_service: load failed conversion: %w", err)
		}
		if err := uow.Balances().Move(ctx, domain.PoolAccount(epochID), domain.PlayerAccount(recipient), token, entry.Amount); err != nil {
			return fmt.Errorf("recovery_service: sweep failed conversion: %w", err)
		}
		if err := uow.FailedConversions().Clear(ctx, epochID, token); err != nil {
			return fmt.Errorf("recovery_service: clear failed conversion: %w", err)
		}
		amount = entry.Amount

		if auditErr := uow.Audit().Log(ctx, "failed_conversion_swept", map[string]any{
			"epoch_id":  epochID,
			"token":     token.Hex(),
			"amount":    entry.Amount.String(),
			"recipient": recipient.Hex(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "recovery_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "recovery_service: failed conversion swept",
		slog.Uint64("epoch_id", epochID),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
		slog.String("recipient", recipient.Hex()),
	)
	return amount, nil
}

// FailedConversions lists an epoch's outstanding failed-conversion entries.
func (s *RecoveryService) FailedConversions(ctx context.Context, epochID uint64) ([]domain.FailedConversion, error) {
	var out []domain.FailedConversion
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		fs, err := uow.FailedConversions().List(ctx, epochID)
		if err != nil {
			return fmt.Errorf("recovery_service: list failed conversions: %w", err)
		}
		out = fs
		return nil
	})
	return out, err
}

// AuditLog lists recent audit entries, newest first.
func (s *RecoveryService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		entries, err := uow.Audit().List(ctx, opts)
		if err != nil {
			return fmt.Errorf("recovery_service: list audit log: %w", err)
		}
		out = entries
		return nil
	})
	return out, err
}
