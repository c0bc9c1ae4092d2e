package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// RegistryService is the administrative configuration surface: the
// supported-token registry, pair-to-adapter bindings, and liquidity pools.
type RegistryService struct {
	tx       domain.TxRunner
	locks    domain.LockManager
	gate     domain.AccessGate
	adapters domain.AdapterSet
	logger   *slog.Logger
}

// NewRegistryService creates a RegistryService with all required
// dependencies.
func NewRegistryService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	adapters domain.AdapterSet,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		tx:       tx,
		locks:    locks,
		gate:     gate,
		adapters: adapters,
		logger:   logger,
	}
}

// UpsertToken adds or updates a supported token.
func (s *RegistryService) UpsertToken(ctx context.Context, actor domain.Actor, token common.Address, symbol string, enabled bool) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return fmt.Errorf("%w: zero token address", domain.ErrValidation)
	}
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		entry := domain.SupportedToken{
			Token:   token,
			Symbol:  symbol,
			Enabled: enabled,
			AddedAt: time.Now().UTC(),
		}
		if existing, err := uow.Tokens().Get(ctx, token); err == nil {
			entry.AddedAt = existing.AddedAt
		}
		if err := uow.Tokens().Upsert(ctx, entry); err != nil {
			return fmt.Errorf("registry_service: upsert token: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "token_upserted", map[string]any{
			"token":   token.Hex(),
			"symbol":  symbol,
			"enabled": enabled,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "registry_service: audit log failed",
				slog.String("token", token.Hex()),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry_service: token upserted",
		slog.String("token", token.Hex()),
		slog.String("symbol", symbol),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// ListTokens returns the whole token registry.
func (s *RegistryService) ListTokens(ctx context.Context) ([]domain.SupportedToken, error) {
	var out []domain.SupportedToken
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		ts, err := uow.Tokens().List(ctx)
		if err != nil {
			return fmt.Errorf("registry_service: list tokens: %w", err)
		}
		out = ts
		return nil
	})
	return out, err
}

// BindAdapter routes an unordered token pair to a named adapter. The name
// must resolve against the loaded adapter set at bind time; bindings become
// stale, not broken, if the adapter later disappears.
func (s *RegistryService) BindAdapter(ctx context.Context, actor domain.Actor, a, b common.Address, adapterName string) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("%w: identical pair tokens", domain.ErrValidation)
	}
	if _, err := s.adapters.Get(adapterName); err != nil {
		return fmt.Errorf("%w: adapter %q not loaded", domain.ErrNoAdapter, adapterName)
	}
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		lo, hi := domain.SortPair(a, b)
		if err := uow.Adapters().Bind(ctx, domain.AdapterBinding{
			TokenA:    lo,
			TokenB:    hi,
			Adapter:   adapterName,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("registry_service: bind adapter: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "adapter_bound", map[string]any{
			"token_a": lo.Hex(),
			"token_b": hi.Hex(),
			"adapter": adapterName,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "registry_service: audit log failed",
				slog.String("adapter", adapterName),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry_service: adapter bound",
		slog.String("pair", domain.PairKey(a, b)),
		slog.String("adapter", adapterName),
	)
	return nil
}

// UnbindAdapter removes a pair's adapter binding.
func (s *RegistryService) UnbindAdapter(ctx context.Context, actor domain.Actor, a, b common.Address) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Adapters().Unbind(ctx, a, b); err != nil {
			return fmt.Errorf("registry_service: unbind adapter: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "adapter_unbound", map[string]any{
			"token_a": a.Hex(),
			"token_b": b.Hex(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "registry_service: audit log failed",
				slog.String("pair", domain.PairKey(a, b)),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry_service: adapter unbound",
		slog.String("pair", domain.PairKey(a, b)),
	)
	return nil
}

// ListBindings returns all pair-to-adapter bindings.
func (s *RegistryService) ListBindings(ctx context.Context) ([]domain.AdapterBinding, error) {
	var out []domain.AdapterBinding
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		bs, err := uow.Adapters().List(ctx)
		if err != nil {
			return fmt.Errorf("registry_service: list bindings: %w", err)
		}
		out = bs
		return nil
	})
	return out, err
}

// CreatePool registers a liquidity pool for an adapter.
func (s *RegistryService) CreatePool(ctx context.Context, actor domain.Actor, pool domain.Pool) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if pool.TokenA == pool.TokenB {
		return fmt.Errorf("%w: identical pool tokens", domain.ErrValidation)
	}
	if pool.FeeBps >= domain.BpsDenominator {
		return fmt.Errorf("%w: fee %d bps", domain.ErrValidation, pool.FeeBps)
	}
	if _, err := s.adapters.Get(pool.Adapter); err != nil {
		return fmt.Errorf("%w: adapter %q not loaded", domain.ErrNoAdapter, pool.Adapter)
	}
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		pool.TokenA, pool.TokenB = domain.SortPair(pool.TokenA, pool.TokenB)
		pool.CreatedAt = time.Now().UTC()
		if err := uow.Pools().Create(ctx, pool); err != nil {
			return fmt.Errorf("registry_service: create pool: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "pool_created", map[string]any{
			"adapter": pool.Adapter,
			"token_a": pool.TokenA.Hex(),
			"token_b": pool.TokenB.Hex(),
			"fee_bps": pool.FeeBps,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "registry_service: audit log failed",
				slog.String("adapter", pool.Adapter),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry_service: pool created",
		slog.String("adapter", pool.Adapter),
		slog.String("pair", domain.PairKey(pool.TokenA, pool.TokenB)),
		slog.Int("fee_bps", int(pool.FeeBps)),
	)
	return nil
}

// FundPool records externally-supplied reserves into a pool's account. The
// token must be one of the pool's pair.
func (s *RegistryService) FundPool(ctx context.Context, actor domain.Actor, adapter string, a, b common.Address, token common.Address, amount *big.Int) error {
	if err := s.gate.Require(ctx, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: funding amount must be positive", domain.ErrValidation)
	}
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		pool, err := uow.Pools().Get(ctx, adapter, a, b)
		if err != nil {
			return fmt.Errorf("registry_service: load pool: %w", err)
		}
		if token != pool.TokenA && token != pool.TokenB {
			return fmt.Errorf("%w: token %s not in pool pair", domain.ErrValidation, token.Hex())
		}
		if err := uow.Balances().Add(ctx, pool.Account(), token, amount); err != nil {
			return fmt.Errorf("registry_service: fund pool: %w", err)
		}
		if auditErr := uow.Audit().Log(ctx, "pool_funded", map[string]any{
			"adapter": adapter,
			"pair":    domain.PairKey(a, b),
			"token":   token.Hex(),
			"amount":  amount.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "registry_service: audit log failed",
				slog.String("adapter", adapter),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry_service: pool funded",
		slog.String("adapter", adapter),
		slog.String("pair", domain.PairKey(a, b)),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// ListPools returns pools, optionally filtered by adapter name.
func (s *RegistryService) ListPools(ctx context.Context, adapter string) ([]domain.Pool, error) {
	var out []domain.Pool
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		ps, err := uow.Pools().List(ctx, adapter)
		if err != nil {
			return fmt.Errorf("registry_service: list pools: %w", err)
		}
		out = ps
		return nil
	})
	return out, err
}
