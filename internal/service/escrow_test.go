package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
)

func TestEscrowDeclareValidation(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	base := DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	}

	cases := []struct {
		name   string
		mutate func(*DeclareParams)
	}{
		{"empty match id", func(p *DeclareParams) { p.MatchID = "" }},
		{"zero player", func(p *DeclareParams) { p.PlayerA = common.Address{} }},
		{"identical players", func(p *DeclareParams) { p.PlayerB = alice }},
		{"zero token", func(p *DeclareParams) { p.TokenB = common.Address{} }},
		{"same token both legs", func(p *DeclareParams) { p.TokenB = tokenWif }},
		{"zero wager", func(p *DeclareParams) { p.WagerA = bi(0) }},
		{"negative wager", func(p *DeclareParams) { p.WagerB = bi(-5) }},
		{"nil wager", func(p *DeclareParams) { p.WagerA = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, err := e.escrow.Declare(ctx, sourceActor, params)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestEscrowDeclareAuthorization(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	params := DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	}
	_, err := e.escrow.Declare(ctx, strangerActor, params)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// The epoch controller role does not imply the match source role.
	_, err = e.escrow.Declare(ctx, epochActor, params)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEscrowDeclareEpochChecks(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	params := DeclareParams{
		MatchID: "m1", EpochID: 999,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	}
	_, err := e.escrow.Declare(ctx, sourceActor, params)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Ineligible token.
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	params.EpochID = epoch.ID
	params.TokenA = other
	_, err = e.escrow.Declare(ctx, sourceActor, params)
	assert.ErrorIs(t, err, domain.ErrTokenNotEligible)

	// Closed epoch accepts no new matches.
	_, err = e.epochs.Close(ctx, epochActor, epoch.ID)
	require.NoError(t, err)
	params.TokenA = tokenWif
	_, err = e.escrow.Declare(ctx, sourceActor, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscrowDeclareDuplicate(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	params := DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	}
	_, err := e.escrow.Declare(ctx, sourceActor, params)
	require.NoError(t, err)
	_, err = e.escrow.Declare(ctx, sourceActor, params)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestEscrowDeclareAssignsSequence(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		m, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
			MatchID: id, EpochID: epoch.ID,
			PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
			PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, domain.MatchStatusPending, m.Status)
	}
}

func TestEscrowDeckVaultRequirement(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.escrow.WithDeckVault(stubDecks{alice: true})

	params := DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	}
	_, err := e.escrow.Declare(ctx, sourceActor, params)
	assert.ErrorIs(t, err, domain.ErrValidation)

	e.escrow.WithDeckVault(stubDecks{alice: true, bob: true})
	_, err = e.escrow.Declare(ctx, sourceActor, params)
	assert.NoError(t, err)
}

func TestEscrowDepositLifecycle(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 500)
	e.credit(t, bob, tokenDoge, 300)

	_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(200),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(300),
	})
	require.NoError(t, err)

	m, err := e.escrow.Deposit(ctx, sourceActor, "m1", alice)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusDepositedOne, m.Status)
	assert.Equal(t, int64(300), e.playerBalance(t, alice, tokenWif))
	assert.Equal(t, int64(200), e.balance(t, domain.EscrowAccount("m1"), tokenWif).Int64())

	// Same slot cannot fund twice.
	_, err = e.escrow.Deposit(ctx, sourceActor, "m1", alice)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Outsiders have no slot.
	_, err = e.escrow.Deposit(ctx, sourceActor, "m1", carol)
	assert.ErrorIs(t, err, domain.ErrValidation)

	m, err = e.escrow.Deposit(ctx, sourceActor, "m1", bob)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, m.Status)
	assert.Equal(t, int64(0), e.playerBalance(t, bob, tokenDoge))
	assert.Equal(t, int64(300), e.balance(t, domain.EscrowAccount("m1"), tokenDoge).Int64())

	// Active matches accept no further deposits.
	_, err = e.escrow.Deposit(ctx, sourceActor, "m1", bob)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscrowDepositInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 50)

	_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(200),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(300),
	})
	require.NoError(t, err)

	_, err = e.escrow.Deposit(ctx, sourceActor, "m1", alice)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing moved, match untouched.
	assert.Equal(t, int64(50), e.playerBalance(t, alice, tokenWif))
	m, err := e.escrow.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPending, m.Status)
}

func TestEscrowResolveSplitsProceeds(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 1000)
	e.credit(t, bob, tokenDoge, 500)

	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 500, bob, tokenDoge, 500)

	// stub_dw converts 500 doge at 3/5 into 300 wif:
	// winner 207, protocol 3, pool 90.
	m, err := e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusResolved, m.Status)
	require.NotNil(t, m.Winner)
	assert.Equal(t, alice, *m.Winner)
	assert.Equal(t, int64(300), m.Converted.Int64())
	assert.Equal(t, int64(207), m.WinnerShare.Int64())
	assert.Equal(t, int64(3), m.ProtocolShare.Int64())
	assert.Equal(t, int64(90), m.PoolShare.Int64())
	require.NotNil(t, m.ResolvedAt)

	// Winner got stake back plus share: 1000 - 500 + 500 + 207.
	assert.Equal(t, int64(1207), e.playerBalance(t, alice, tokenWif))
	assert.Equal(t, int64(0), e.playerBalance(t, bob, tokenDoge))
	assert.Equal(t, int64(3), e.balance(t, domain.TreasuryAccount, tokenWif).Int64())
	assert.Equal(t, int64(90), e.balance(t, domain.PoolAccount(epoch.ID), tokenWif).Int64())

	// Escrow account fully drained in both tokens.
	assert.Equal(t, int64(0), e.balance(t, domain.EscrowAccount("m1"), tokenWif).Int64())
	assert.Equal(t, int64(0), e.balance(t, domain.EscrowAccount("m1"), tokenDoge).Int64())

	// Pool share is on the epoch's deposit ledger under the winner's token.
	deps, err := e.epochs.Deposits(ctx, epoch.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, tokenWif, deps[0].Token)
	assert.Equal(t, int64(90), deps[0].Amount.Int64())

	// Resolved is terminal.
	_, err = e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.escrow.Refund(ctx, sourceActor, "m1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscrowResolveRequiresActive(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)

	_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	})
	require.NoError(t, err)

	_, err = e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.escrow.Deposit(ctx, sourceActor, "m1", alice)
	require.NoError(t, err)
	_, err = e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscrowResolveWinnerMustPlay(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)

	_, err := e.escrow.Resolve(ctx, sourceActor, "m1", carol, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEscrowResolveNoAdapterBinding(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)

	require.NoError(t, e.registry.UnbindAdapter(ctx, adminActor, tokenDoge, tokenWif))

	_, err := e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrNoAdapter)

	// No state change: still active, escrow still funded.
	m, err := e.escrow.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, m.Status)
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenWif).Int64())
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenDoge).Int64())
}

func TestEscrowResolveConversionFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)

	// Rebind the pair to an adapter that always fails.
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenDoge, tokenWif, "stub_fail"))

	_, err := e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrConversionFailed)

	// All-or-nothing: the staged conversion input rolled back too.
	m, err := e.escrow.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, m.Status)
	assert.Nil(t, m.Winner)
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenWif).Int64())
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenDoge).Int64())
	assert.Equal(t, int64(0), e.balance(t, domain.AdapterAccount("stub_fail"), tokenDoge).Int64())
	assert.Equal(t, int64(0), e.balance(t, domain.PoolAccount(epoch.ID), tokenWif).Int64())

	deps, err := e.epochs.Deposits(ctx, epoch.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	// Rebinding a working adapter lets the same match resolve.
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenDoge, tokenWif, "stub_dw"))
	_, err = e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.NoError(t, err)
}

func TestEscrowResolveAfterEpochClose(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)

	_, err := e.epochs.Close(ctx, epochActor, epoch.ID)
	require.NoError(t, err)

	// The pool share would land in a closed epoch, so resolve is refused.
	_, err = e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	m, err := e.escrow.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, m.Status)

	// Refund remains available.
	_, err = e.escrow.Refund(ctx, sourceActor, "m1")
	assert.NoError(t, err)
	assert.Equal(t, int64(100), e.playerBalance(t, alice, tokenWif))
	assert.Equal(t, int64(100), e.playerBalance(t, bob, tokenDoge))
}

func TestEscrowRefund(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)

	t.Run("pending match refunds nothing", func(t *testing.T) {
		_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
			MatchID: "m1", EpochID: epoch.ID,
			PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
			PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
		})
		require.NoError(t, err)
		m, err := e.escrow.Refund(ctx, sourceActor, "m1")
		require.NoError(t, err)
		assert.Equal(t, domain.MatchStatusRefunded, m.Status)
		require.NotNil(t, m.RefundedAt)
		assert.Equal(t, int64(100), e.playerBalance(t, alice, tokenWif))
	})

	t.Run("half-funded match refunds the funded leg", func(t *testing.T) {
		_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
			MatchID: "m2", EpochID: epoch.ID,
			PlayerA: alice, TokenA: tokenWif, WagerA: bi(60),
			PlayerB: bob, TokenB: tokenDoge, WagerB: bi(70),
		})
		require.NoError(t, err)
		_, err = e.escrow.Deposit(ctx, sourceActor, "m2", alice)
		require.NoError(t, err)
		assert.Equal(t, int64(40), e.playerBalance(t, alice, tokenWif))

		_, err = e.escrow.Refund(ctx, sourceActor, "m2")
		require.NoError(t, err)
		assert.Equal(t, int64(100), e.playerBalance(t, alice, tokenWif))
		assert.Equal(t, int64(100), e.playerBalance(t, bob, tokenDoge))
		assert.Equal(t, int64(0), e.balance(t, domain.EscrowAccount("m2"), tokenWif).Int64())
	})

	t.Run("active match refunds both legs", func(t *testing.T) {
		e.declareFunded(t, "m3", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)
		_, err := e.escrow.Refund(ctx, sourceActor, "m3")
		require.NoError(t, err)
		assert.Equal(t, int64(100), e.playerBalance(t, alice, tokenWif))
		assert.Equal(t, int64(100), e.playerBalance(t, bob, tokenDoge))
	})

	t.Run("refund is terminal", func(t *testing.T) {
		_, err := e.escrow.Refund(ctx, sourceActor, "m3")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestEscrowOperationLock(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	unlock, err := e.locks.Acquire(ctx, matchLockKey("m1"), opLockTTL)
	require.NoError(t, err)

	_, err = e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	_, err = e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: "m1", EpochID: epoch.ID,
		PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
		PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
	})
	assert.NoError(t, err)
}

func TestEscrowResolveReentrancyBlocked(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()
	e.credit(t, alice, tokenWif, 100)
	e.credit(t, bob, tokenDoge, 100)
	e.declareFunded(t, "m1", epoch.ID, alice, tokenWif, 100, bob, tokenDoge, 100)

	reentrant := &reentrantAdapter{name: "stub_reentrant", escrow: e.escrow, matchID: "m1", winner: alice}
	e.adapters["stub_reentrant"] = reentrant
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenDoge, tokenWif, "stub_reentrant"))

	_, err := e.escrow.Resolve(ctx, sourceActor, "m1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrConversionFailed)
	assert.ErrorIs(t, reentrant.callErr, domain.ErrLockHeld)

	// The nested attempt changed nothing and the outer attempt rolled back.
	m, err := e.escrow.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, m.Status)
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenWif).Int64())
	assert.Equal(t, int64(100), e.balance(t, domain.EscrowAccount("m1"), tokenDoge).Int64())
}

func TestEscrowListMatches(t *testing.T) {
	e := newEnv(t)
	epoch := e.openEpoch(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
			MatchID: id, EpochID: epoch.ID,
			PlayerA: alice, TokenA: tokenWif, WagerA: bi(100),
			PlayerB: bob, TokenB: tokenDoge, WagerB: bi(100),
		})
		require.NoError(t, err)
	}

	all, err := e.escrow.ListMatches(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := e.escrow.ListMatches(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
