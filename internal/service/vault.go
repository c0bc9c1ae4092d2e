package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// CreditVerifier checks a player's signed authorization for crediting their
// vault balance, keeping the service layer free of concrete signature
// schemes.
type CreditVerifier interface {
	VerifyCredit(player common.Address, token common.Address, amount *big.Int, sig []byte) error
}

// VaultService manages player custody: external funds entering the vault,
// withdrawals leaving it, and balance queries.
type VaultService struct {
	tx       domain.TxRunner
	locks    domain.LockManager
	gate     domain.AccessGate
	bus      domain.SignalBus
	verifier CreditVerifier
	logger   *slog.Logger
}

// NewVaultService creates a VaultService with all required dependencies.
func NewVaultService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	bus domain.SignalBus,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		tx:     tx,
		locks:  locks,
		gate:   gate,
		bus:    bus,
		logger: logger,
	}
}

// WithVerifier requires a player-signed authorization on every credit.
func (s *VaultService) WithVerifier(v CreditVerifier) *VaultService {
	s.verifier = v
	return s
}

// Credit records receipt of a player's externally-custodied funds into their
// vault balance.
func (s *VaultService) Credit(ctx context.Context, actor domain.Actor, player common.Address, token common.Address, amount *big.Int, auth []byte) error {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return err
	}
	if player == (common.Address{}) || token == (common.Address{}) {
		return fmt.Errorf("%w: zero address", domain.ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", domain.ErrValidation)
	}
	if s.verifier != nil {
		if err := s.verifier.VerifyCredit(player, token, amount, auth); err != nil {
			return fmt.Errorf("vault_service: credit authorization: %w", err)
		}
	}

	account := domain.PlayerAccount(player)
	unlock, err := s.locks.Acquire(ctx, accountLockKey(account), opLockTTL)
	if err != nil {
		return fmt.Errorf("vault_service: lock account: %w", err)
	}
	defer unlock()

	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Balances().Add(ctx, account, token, amount); err != nil {
			return fmt.Errorf("vault_service: credit balance: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "vault_credit", map[string]any{
			"player": player.Hex(),
			"token":  token.Hex(),
			"amount": amount.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "vault_service: audit log failed",
				slog.String("player", player.Hex()),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, map[string]string{
		"event":  "vault_credit",
		"player": player.Hex(),
		"token":  token.Hex(),
		"amount": amount.String(),
	})
	s.logger.InfoContext(ctx, "vault_service: balance credited",
		slog.String("player", player.Hex()),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Withdraw returns vault balance to the player's external custody.
func (s *VaultService) Withdraw(ctx context.Context, actor domain.Actor, player common.Address, token common.Address, amount *big.Int) error {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdraw amount must be positive", domain.ErrValidation)
	}

	account := domain.PlayerAccount(player)
	unlock, err := s.locks.Acquire(ctx, accountLockKey(account), opLockTTL)
	if err != nil {
		return fmt.Errorf("vault_service: lock account: %w", err)
	}
	defer unlock()

	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Balances().Add(ctx, account, token, new(big.Int).Neg(amount)); err != nil {
			return fmt.Errorf("vault_service: debit balance: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "vault_withdraw", map[string]any{
			"player": player.Hex(),
			"token":  token.Hex(),
			"amount": amount.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "vault_service: audit log failed",
				slog.String("player", player.Hex()),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, map[string]string{
		"event":  "vault_withdraw",
		"player": player.Hex(),
		"token":  token.Hex(),
		"amount": amount.String(),
	})
	s.logger.InfoContext(ctx, "vault_service: balance withdrawn",
		slog.String("player", player.Hex()),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Balance returns a player's free balance in one token.
func (s *VaultService) Balance(ctx context.Context, player common.Address, token common.Address) (*big.Int, error) {
	var out *big.Int
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		b, err := uow.Balances().Get(ctx, domain.PlayerAccount(player), token)
		if err != nil {
			return fmt.Errorf("vault_service: get balance: %w", err)
		}
		out = b
		return nil
	})
	return out, err
}

// Balances returns all of a player's nonzero balances.
func (s *VaultService) Balances(ctx context.Context, player common.Address) ([]domain.Balance, error) {
	return s.AccountBalances(ctx, domain.PlayerAccount(player))
}

// AccountBalances returns all nonzero balances of an internal account.
func (s *VaultService) AccountBalances(ctx context.Context, account string) ([]domain.Balance, error) {
	var out []domain.Balance
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		bs, err := uow.Balances().ListByAccount(ctx, account)
		if err != nil {
			return fmt.Errorf("vault_service: list balances: %w", err)
		}
		out = bs
		return nil
	})
	return out, err
}

func (s *VaultService) publish(ctx context.Context, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "vault", evt); err != nil {
		s.logger.WarnContext(ctx, "vault_service: publish event failed",
			slog.String("event", payload["event"]),
			slog.String("error", err.Error()),
		)
	}
}
