package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
)

func TestRegistryTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.registry.UpsertToken(ctx, adminActor, tokenWif, "WIF", true))
	require.NoError(t, e.registry.UpsertToken(ctx, adminActor, tokenDoge, "DOGE", true))

	tokens, err := e.registry.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	added := tokens[0].AddedAt

	// Re-upserting flips fields but keeps the original registration time.
	require.NoError(t, e.registry.UpsertToken(ctx, adminActor, tokens[0].Token, tokens[0].Symbol, false))
	tokens, err = e.registry.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.False(t, tokens[0].Enabled)
	assert.Equal(t, added, tokens[0].AddedAt)

	assert.ErrorIs(t, e.registry.UpsertToken(ctx, adminActor, common.Address{}, "X", true), domain.ErrValidation)
	assert.ErrorIs(t, e.registry.UpsertToken(ctx, epochActor, tokenPepe, "PEPE", true), domain.ErrUnauthorized)
}

func TestRegistryBindings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.registry.BindAdapter(ctx, adminActor, tokenWif, tokenWif, "stub_dw"), domain.ErrValidation)
	assert.ErrorIs(t, e.registry.BindAdapter(ctx, adminActor, tokenWif, tokenDoge, "missing"), domain.ErrNoAdapter)
	assert.ErrorIs(t, e.registry.BindAdapter(ctx, sourceActor, tokenWif, tokenDoge, "stub_dw"), domain.ErrUnauthorized)

	// Argument order does not matter: the pair is stored sorted.
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenWif, tokenDoge, "stub_dw"))
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenDoge, tokenWif, "stub_pw"))

	bindings, err := e.registry.ListBindings(ctx)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "stub_pw", bindings[0].Adapter)

	require.NoError(t, e.registry.UnbindAdapter(ctx, adminActor, tokenWif, tokenDoge))
	bindings, err = e.registry.ListBindings(ctx)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	err = e.registry.UnbindAdapter(ctx, adminActor, tokenWif, tokenDoge)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryPools(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	err := e.registry.CreatePool(ctx, adminActor, domain.Pool{Adapter: "stub_dw", TokenA: tokenWif, TokenB: tokenWif, FeeBps: 30})
	assert.ErrorIs(t, err, domain.ErrValidation)
	err = e.registry.CreatePool(ctx, adminActor, domain.Pool{Adapter: "stub_dw", TokenA: tokenWif, TokenB: tokenDoge, FeeBps: 10000})
	assert.ErrorIs(t, err, domain.ErrValidation)
	err = e.registry.CreatePool(ctx, adminActor, domain.Pool{Adapter: "missing", TokenA: tokenWif, TokenB: tokenDoge, FeeBps: 30})
	assert.ErrorIs(t, err, domain.ErrNoAdapter)

	require.NoError(t, e.registry.CreatePool(ctx, adminActor, domain.Pool{
		Adapter: "stub_dw", TokenA: tokenWif, TokenB: tokenDoge, FeeBps: 30,
	}))
	err = e.registry.CreatePool(ctx, adminActor, domain.Pool{
		Adapter: "stub_dw", TokenA: tokenDoge, TokenB: tokenWif, FeeBps: 30,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	pools, err := e.registry.ListPools(ctx, "stub_dw")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	pool := pools[0]

	// Funding builds reserves on the pool account, one side at a time.
	require.NoError(t, e.registry.FundPool(ctx, adminActor, "stub_dw", tokenWif, tokenDoge, tokenWif, bi(1000)))
	require.NoError(t, e.registry.FundPool(ctx, adminActor, "stub_dw", tokenDoge, tokenWif, tokenDoge, bi(2000)))
	assert.Equal(t, int64(1000), e.balance(t, pool.Account(), tokenWif).Int64())
	assert.Equal(t, int64(2000), e.balance(t, pool.Account(), tokenDoge).Int64())

	err = e.registry.FundPool(ctx, adminActor, "stub_dw", tokenWif, tokenDoge, tokenPepe, bi(5))
	assert.ErrorIs(t, err, domain.ErrValidation)
	err = e.registry.FundPool(ctx, adminActor, "stub_dw", tokenWif, tokenPepe, tokenWif, bi(5))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = e.registry.FundPool(ctx, adminActor, "stub_dw", tokenWif, tokenDoge, tokenWif, bi(0))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
