package exchange

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/store/memory"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenC = common.HexToAddress("0x3333333333333333333333333333333333333333")

	payerAccount = "escrow:test"
)

func bi(n int64) *big.Int { return big.NewInt(n) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedPool creates a pool with funded reserves.
func seedPool(t *testing.T, store *memory.Store, adapter string, a, b common.Address, reserveA, reserveB int64, feeBps uint32, concentration int64) {
	t.Helper()
	pool := domain.Pool{Adapter: adapter, TokenA: a, TokenB: b, FeeBps: feeBps, Concentration: concentration}
	err := store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Pools().Create(ctx, pool); err != nil {
			return err
		}
		if err := uow.Balances().Add(ctx, pool.Account(), a, bi(reserveA)); err != nil {
			return err
		}
		return uow.Balances().Add(ctx, pool.Account(), b, bi(reserveB))
	})
	require.NoError(t, err)
}

// fundIntake places conversion input on the adapter's intake account, the
// way callers stage it before Convert.
func fundIntake(t *testing.T, store *memory.Store, adapter string, token common.Address, amount int64) {
	t.Helper()
	err := store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		return uow.Balances().Add(ctx, domain.AdapterAccount(adapter), token, bi(amount))
	})
	require.NoError(t, err)
}

// convert runs one Convert call in its own transaction.
func convert(store *memory.Store, adapter domain.ConversionAdapter, req domain.ConversionRequest) (*big.Int, error) {
	var out *big.Int
	err := store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		got, err := adapter.Convert(ctx, uow, req)
		out = got
		return err
	})
	return out, err
}

func balanceOf(t *testing.T, store *memory.Store, account string, token common.Address) int64 {
	t.Helper()
	var out *big.Int
	err := store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		b, err := uow.Balances().Get(ctx, account, token)
		out = b
		return err
	})
	require.NoError(t, err)
	return out.Int64()
}

func TestSwapOutput(t *testing.T) {
	cases := []struct {
		name                          string
		in, reserveIn, reserveOut, out int64
		feeBps                        uint32
	}{
		{"balanced no fee", 100, 1000, 1000, 90, 0},
		{"skewed no fee", 100, 1000, 2000, 181, 0},
		{"five percent fee", 100, 1000, 2000, 173, 500},
		{"dust rounds to zero", 1, 1000000, 1000, 0, 0},
		{"empty pool", 100, 0, 1000, 0, 0},
		{"zero input", 0, 1000, 1000, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := swapOutput(bi(tc.in), bi(tc.reserveIn), bi(tc.reserveOut), tc.feeBps)
			assert.Equal(t, tc.out, got.Int64())
		})
	}
}

func TestConstantProductDirect(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenB, 1000, 1000, 0, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 100)

	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), out.Int64())

	// Reserves shifted, output delivered, intake drained.
	pool := domain.Pool{Adapter: ConstantProductName, TokenA: tokenA, TokenB: tokenB}
	assert.Equal(t, int64(1100), balanceOf(t, store, pool.Account(), tokenA))
	assert.Equal(t, int64(910), balanceOf(t, store, pool.Account(), tokenB))
	assert.Equal(t, int64(90), balanceOf(t, store, payerAccount, tokenB))
	assert.Equal(t, int64(0), balanceOf(t, store, domain.AdapterAccount(ConstantProductName), tokenA))
	assert.Equal(t, int64(0), balanceOf(t, store, domain.AdapterAccount(ConstantProductName), tokenB))
}

func TestConstantProductConservesValue(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenB, 5000, 5000, 30, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 250)

	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(250), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.NoError(t, err)

	err = store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		totalA, err := uow.Balances().TotalByToken(ctx, tokenA)
		require.NoError(t, err)
		totalB, err := uow.Balances().TotalByToken(ctx, tokenB)
		require.NoError(t, err)
		// 5000 reserve + 250 input; 5000 reserve split pool/recipient.
		assert.Equal(t, int64(5250), totalA.Int64())
		assert.Equal(t, int64(5000), totalB.Int64())
		return nil
	})
	require.NoError(t, err)
}

func TestConstantProductTwoHop(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenC, 1000, 1000, 0, 0)
	seedPool(t, store, ConstantProductName, tokenC, tokenB, 1000, 1000, 0, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 100)

	via := tokenC
	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
		Hint: &domain.RouteHint{Via: &via},
	})
	require.NoError(t, err)
	// Hop one: 100 -> 90; hop two: 90 -> 82.
	assert.Equal(t, int64(82), out.Int64())
	assert.Equal(t, int64(82), balanceOf(t, store, payerAccount, tokenB))

	// The intermediate asset never leaves the adapter's books.
	assert.Equal(t, int64(0), balanceOf(t, store, domain.AdapterAccount(ConstantProductName), tokenC))
	assert.Equal(t, int64(0), balanceOf(t, store, payerAccount, tokenC))
}

func TestConstantProductRouteValidation(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())

	via := tokenA
	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100),
		Payer: payerAccount, Recipient: payerAccount,
		Hint: &domain.RouteHint{Via: &via},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenA, AmountIn: bi(100),
		Payer: payerAccount, Recipient: payerAccount,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(0),
		Payer: payerAccount, Recipient: payerAccount,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConstantProductMissingPool(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	fundIntake(t, store, ConstantProductName, tokenA, 100)

	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100),
		Payer: payerAccount, Recipient: payerAccount,
	})
	assert.ErrorIs(t, err, domain.ErrConversionFailed)

	// A failed conversion leaves the staged input untouched for the caller's
	// rollback to reclaim.
	assert.Equal(t, int64(100), balanceOf(t, store, domain.AdapterAccount(ConstantProductName), tokenA))
}

func TestConstantProductFeeHint(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenB, 1000, 1000, 0, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 100)

	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
		Hint: &domain.RouteHint{FeeBps: 5000},
	})
	require.NoError(t, err)
	// Half the input is fee: floor(50000*1000/10500000 scaled) = 47.
	assert.Equal(t, int64(47), out.Int64())
}

func TestConstantProductZeroOutput(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenB, 1000000, 1000, 0, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 1)

	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(1),
		Payer: payerAccount, Recipient: payerAccount,
	})
	assert.ErrorIs(t, err, domain.ErrConversionFailed)
}

func TestConstantProductMinOut(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConstantProduct(testLogger())
	seedPool(t, store, ConstantProductName, tokenA, tokenB, 1000, 1000, 0, 0)
	fundIntake(t, store, ConstantProductName, tokenA, 100)

	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: bi(91),
		Payer: payerAccount, Recipient: payerAccount,
	})
	assert.ErrorIs(t, err, domain.ErrConversionFailed)

	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: bi(90),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), out.Int64())
}

func TestConcentratedQuotesVirtualReserves(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConcentrated(testLogger())
	seedPool(t, store, ConcentratedName, tokenA, tokenB, 1000, 1000, 0, 10)
	fundIntake(t, store, ConcentratedName, tokenA, 100)

	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.NoError(t, err)
	// Ten-fold concentration quotes on 10000/10000: far less slippage than
	// the real-reserve 90.
	assert.Equal(t, int64(99), out.Int64())

	pool := domain.Pool{Adapter: ConcentratedName, TokenA: tokenA, TokenB: tokenB}
	assert.Equal(t, int64(1100), balanceOf(t, store, pool.Account(), tokenA))
	assert.Equal(t, int64(901), balanceOf(t, store, pool.Account(), tokenB))
	assert.Equal(t, int64(99), balanceOf(t, store, payerAccount, tokenB))
}

func TestConcentratedRangeExhausted(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConcentrated(testLogger())
	seedPool(t, store, ConcentratedName, tokenA, tokenB, 1000, 50, 0, 100)
	fundIntake(t, store, ConcentratedName, tokenA, 100000)

	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100000),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.ErrorIs(t, err, domain.ErrConversionFailed)
	assert.ErrorContains(t, err, "range liquidity exhausted")

	// No balances moved.
	pool := domain.Pool{Adapter: ConcentratedName, TokenA: tokenA, TokenB: tokenB}
	assert.Equal(t, int64(1000), balanceOf(t, store, pool.Account(), tokenA))
	assert.Equal(t, int64(50), balanceOf(t, store, pool.Account(), tokenB))
}

func TestConcentratedRejectsMultiHop(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConcentrated(testLogger())
	via := tokenC
	_, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100),
		Payer: payerAccount, Recipient: payerAccount,
		Hint: &domain.RouteHint{Via: &via},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcentratedFeeHint(t *testing.T) {
	run := func(hint *domain.RouteHint) int64 {
		store := memory.NewStore()
		adapter := NewConcentrated(testLogger())
		seedPool(t, store, ConcentratedName, tokenA, tokenB, 1000, 1000, 0, 1)
		fundIntake(t, store, ConcentratedName, tokenA, 100)
		out, err := convert(store, adapter, domain.ConversionRequest{
			From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
			Payer: payerAccount, Recipient: payerAccount,
			Hint: hint,
		})
		require.NoError(t, err)
		return out.Int64()
	}

	assert.Equal(t, int64(86), run(&domain.RouteHint{FeeBps: 500}))
	// Without the hint the pool's own zero fee applies.
	assert.Equal(t, int64(90), run(nil))
}

func TestConcentratedDefaultConcentration(t *testing.T) {
	store := memory.NewStore()
	adapter := NewConcentrated(testLogger())
	// Concentration zero behaves as factor one, i.e. plain reserves.
	seedPool(t, store, ConcentratedName, tokenA, tokenB, 1000, 1000, 0, 0)
	fundIntake(t, store, ConcentratedName, tokenA, 100)

	out, err := convert(store, adapter, domain.ConversionRequest{
		From: tokenA, To: tokenB, AmountIn: bi(100), MinOut: new(big.Int),
		Payer: payerAccount, Recipient: payerAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), out.Int64())
}
