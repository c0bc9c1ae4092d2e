// Package exchange implements the conversion adapters that turn one
// fungible token into another. Adapters operate two-asset liquidity pools
// whose reserves are ordinary vault balances, so every conversion conserves
// value across the system ledger.
//
// Callers interact with adapters only through domain.ConversionAdapter and
// select them via the pair registry; no caller inspects the concrete type.
package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// swapOutput computes the constant-product output for a single hop:
// floor(dx*(1-fee)*y / (x + dx*(1-fee))) with fee in basis points.
func swapOutput(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	den := big.NewInt(domain.BpsDenominator)
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(domain.BpsDenominator-int(feeBps))))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	div := new(big.Int).Mul(reserveIn, den)
	div.Add(div, inWithFee)
	return num.Quo(num, div)
}

// poolReserves reads a pool's live reserves for the given sides.
func poolReserves(ctx context.Context, uow domain.UOW, pool domain.Pool, in, out common.Address) (reserveIn, reserveOut *big.Int, err error) {
	account := pool.Account()
	reserveIn, err = uow.Balances().Get(ctx, account, in)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange: read reserve %s: %w", in.Hex(), err)
	}
	reserveOut, err = uow.Balances().Get(ctx, account, out)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange: read reserve %s: %w", out.Hex(), err)
	}
	return reserveIn, reserveOut, nil
}

// validateRequest rejects requests no adapter can serve.
func validateRequest(req domain.ConversionRequest) error {
	if req.From == req.To {
		return fmt.Errorf("%w: same-token conversion", domain.ErrValidation)
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive input amount", domain.ErrValidation)
	}
	return nil
}

// checkMinOut enforces the caller's floor on the final hop output.
func checkMinOut(out, minOut *big.Int) error {
	if minOut != nil && minOut.Sign() > 0 && out.Cmp(minOut) < 0 {
		return fmt.Errorf("%w: output %s below minimum %s", domain.ErrConversionFailed,
			out.String(), minOut.String())
	}
	return nil
}
