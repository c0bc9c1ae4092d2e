package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// ConstantProductName is the registry name of the x*y=k adapter.
const ConstantProductName = "constant_product"

// ConstantProduct converts through classic constant-product pools. A route
// hint may name an intermediate asset, in which case the conversion runs as
// two hops through that asset's pools.
type ConstantProduct struct {
	logger *slog.Logger
}

// NewConstantProduct creates the adapter.
func NewConstantProduct(logger *slog.Logger) *ConstantProduct {
	return &ConstantProduct{
		logger: logger.With(slog.String("component", "exchange_cpmm")),
	}
}

var _ domain.ConversionAdapter = (*ConstantProduct)(nil)

func (a *ConstantProduct) Name() string { return ConstantProductName }

// Convert drains the adapter account into the route's pools and delivers the
// output to the recipient. Partial effects are discarded by the caller's
// transaction or savepoint on error.
func (a *ConstantProduct) Convert(ctx context.Context, uow domain.UOW, req domain.ConversionRequest) (*big.Int, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	route := []common.Address{req.From, req.To}
	if req.Hint != nil && req.Hint.Via != nil {
		via := *req.Hint.Via
		if via == req.From || via == req.To {
			return nil, fmt.Errorf("%w: route hop equals endpoint", domain.ErrValidation)
		}
		route = []common.Address{req.From, via, req.To}
	}

	intake := domain.AdapterAccount(ConstantProductName)
	amount := new(big.Int).Set(req.AmountIn)
	for i := 0; i < len(route)-1; i++ {
		out, err := a.swapHop(ctx, uow, intake, route[i], route[i+1], amount, req.Hint)
		if err != nil {
			return nil, err
		}
		amount = out
	}

	if err := checkMinOut(amount, req.MinOut); err != nil {
		return nil, err
	}
	if err := uow.Balances().Move(ctx, intake, req.Recipient, req.To, amount); err != nil {
		return nil, fmt.Errorf("exchange: deliver output: %w", err)
	}

	a.logger.InfoContext(ctx, "conversion executed",
		slog.String("from", req.From.Hex()),
		slog.String("to", req.To.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", amount.String()),
		slog.Int("hops", len(route)-1),
	)
	return amount, nil
}

// swapHop executes one pool swap, moving the input from the intake account
// into the pool and the output from the pool back to the intake account.
func (a *ConstantProduct) swapHop(ctx context.Context, uow domain.UOW, intake string, from, to common.Address, amountIn *big.Int, hint *domain.RouteHint) (*big.Int, error) {
	pool, err := uow.Pools().Get(ctx, ConstantProductName, from, to)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no pool for %s/%s", domain.ErrConversionFailed, from.Hex(), to.Hex())
		}
		return nil, fmt.Errorf("exchange: load pool: %w", err)
	}

	fee := pool.FeeBps
	if hint != nil && hint.FeeBps > 0 {
		fee = hint.FeeBps
	}
	reserveIn, reserveOut, err := poolReserves(ctx, uow, pool, from, to)
	if err != nil {
		return nil, err
	}
	out := swapOutput(amountIn, reserveIn, reserveOut, fee)
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pool %s/%s produced zero output", domain.ErrConversionFailed, from.Hex(), to.Hex())
	}

	account := pool.Account()
	if err := uow.Balances().Move(ctx, intake, account, from, amountIn); err != nil {
		return nil, fmt.Errorf("exchange: fund pool: %w", err)
	}
	if err := uow.Balances().Move(ctx, account, intake, to, out); err != nil {
		return nil, fmt.Errorf("exchange: drain pool: %w", err)
	}
	return out, nil
}
