package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RouteHint carries adapter-specific routing data supplied by the caller.
// A nil hint means a direct two-asset route at the pool's default fee.
type RouteHint struct {
	Via    *common.Address // optional intermediate asset for multi-hop routes
	FeeBps uint32          // explicit fee tier; 0 falls back to the pool default
}

// ConversionRequest asks an adapter to exchange AmountIn of From for To.
// The caller has already moved AmountIn into the adapter's control; Payer is
// where a failed conversion refunds to and Recipient receives the output.
type ConversionRequest struct {
	From      common.Address
	To        common.Address
	AmountIn  *big.Int
	MinOut    *big.Int
	Payer     string
	Recipient string
	Hint      *RouteHint
}

// ConversionAdapter exchanges one fungible token for another inside the
// caller's unit of work. On success at least MinOut of To has been delivered
// to Recipient; on error all input is back at Payer and none of the
// adapter's effects survive (callers run Convert inside a transaction or
// savepoint).
type ConversionAdapter interface {
	Name() string
	Convert(ctx context.Context, uow UOW, req ConversionRequest) (*big.Int, error)
}

// AdapterSet is the process-level set of conversion adapters, keyed by name.
type AdapterSet map[string]ConversionAdapter

// Get resolves an adapter name. Registry bindings are weak references, so a
// missing name is a valid state reported as ErrNoAdapter.
func (s AdapterSet) Get(name string) (ConversionAdapter, error) {
	a, ok := s[name]
	if !ok {
		return nil, ErrNoAdapter
	}
	return a, nil
}

// AdapterBinding maps an unordered token pair to an adapter by name.
type AdapterBinding struct {
	TokenA    common.Address // canonical low side of the pair
	TokenB    common.Address
	Adapter   string
	UpdatedAt time.Time
}

// Pool is one two-asset liquidity pool operated by an adapter. Reserves are
// ordinary vault balances under the pool's exchange account, so global
// conservation holds across conversions.
type Pool struct {
	Adapter       string
	TokenA        common.Address // canonical low side
	TokenB        common.Address
	FeeBps        uint32
	Concentration int64 // virtual-reserve multiplier; 0 or 1 means none
	CreatedAt     time.Time
}

// Account returns the vault account holding this pool's reserves.
func (p Pool) Account() string {
	return ExchangeAccount(p.Adapter, PairKey(p.TokenA, p.TokenB))
}
