package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
)

func TestRecoverySweepBalance(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 500)
	e.credit(t, bob, tokenDoge, 500)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 500, bob, tokenDoge, 500)
	_, err := e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	require.NoError(t, err)

	// Treasury holds the 3 wif protocol fee.
	require.NoError(t, e.recovery.SweepBalance(ctx, adminActor, domain.TreasuryAccount, tokenWif, bi(2), carol))
	assert.Equal(t, int64(2), e.playerBalance(t, carol, tokenWif))
	assert.Equal(t, int64(1), e.balance(t, domain.TreasuryAccount, tokenWif).Int64())

	// Sweeps are bounded by the held balance.
	err = e.recovery.SweepBalance(ctx, adminActor, domain.TreasuryAccount, tokenWif, bi(2), carol)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1), e.balance(t, domain.TreasuryAccount, tokenWif).Int64())
}

func TestRecoverySweepValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.recovery.SweepBalance(ctx, adminActor, "", tokenWif, bi(1), carol), domain.ErrValidation)
	assert.ErrorIs(t, e.recovery.SweepBalance(ctx, adminActor, domain.TreasuryAccount, tokenWif, bi(1), common.Address{}), domain.ErrValidation)
	assert.ErrorIs(t, e.recovery.SweepBalance(ctx, adminActor, domain.TreasuryAccount, tokenWif, bi(0), carol), domain.ErrValidation)
	assert.ErrorIs(t, e.recovery.SweepBalance(ctx, adminActor, domain.TreasuryAccount, tokenWif, nil, carol), domain.ErrValidation)

	// Only the administrator sweeps.
	assert.ErrorIs(t, e.recovery.SweepBalance(ctx, sourceActor, domain.TreasuryAccount, tokenWif, bi(1), carol), domain.ErrUnauthorized)
	_, err := e.recovery.SweepFailedConversion(ctx, epochActor, 1, tokenWif, carol)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRecoverySweepFailedConversionMissing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.recovery.SweepFailedConversion(ctx, adminActor, 7, tokenDoge, carol)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.recovery.SweepFailedConversion(ctx, adminActor, 7, tokenDoge, common.Address{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecoveryAuditLog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 10)
	require.NoError(t, e.vault.Withdraw(ctx, sourceActor, alice, tokenWif, bi(4)))

	entries, err := e.recovery.AuditLog(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "vault_withdraw", entries[0].Event)
	assert.Equal(t, "vault_credit", entries[1].Event)
}
