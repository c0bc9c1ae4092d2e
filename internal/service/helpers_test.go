package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/store/memory"
)

var (
	adminActor    = domain.Actor{ID: "ops", Roles: []domain.Role{domain.RoleAdmin}}
	epochActor    = domain.Actor{ID: "scheduler", Roles: []domain.Role{domain.RoleEpochController}}
	sourceActor   = domain.Actor{ID: "game-backend", Roles: []domain.Role{domain.RoleMatchSource}}
	strangerActor = domain.Actor{ID: "stranger"}
)

var (
	tokenDoge = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenPepe = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenWif  = common.HexToAddress("0x3333333333333333333333333333333333333333")

	alice = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob   = common.HexToAddress("0xaaaa000000000000000000000000000000000002")
	carol = common.HexToAddress("0xaaaa000000000000000000000000000000000003")
	dave  = common.HexToAddress("0xaaaa000000000000000000000000000000000004")
	eve   = common.HexToAddress("0xaaaa000000000000000000000000000000000005")
	frank = common.HexToAddress("0xaaaa000000000000000000000000000000000006")
	grace = common.HexToAddress("0xaaaa000000000000000000000000000000000007")
	heidi = common.HexToAddress("0xaaaa000000000000000000000000000000000008")
)

func bi(n int64) *big.Int { return big.NewInt(n) }

// roleGate authorizes by the actor's attached roles, like the production
// keyring does after authentication.
type roleGate struct{}

func (roleGate) Require(ctx context.Context, actor domain.Actor, role domain.Role) error {
	if actor.HasRole(role) {
		return nil
	}
	return fmt.Errorf("%w: actor %q lacks role %q", domain.ErrUnauthorized, actor.ID, role)
}

// stubAdapter converts at a fixed num/den rate, minting the output. It moves
// funds the way real adapters do so escrow accounting is observable.
type stubAdapter struct {
	name     string
	num, den int64
	failWith error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Convert(ctx context.Context, uow domain.UOW, req domain.ConversionRequest) (*big.Int, error) {
	if a.failWith != nil {
		return nil, a.failWith
	}
	intake := domain.AdapterAccount(a.name)
	if err := uow.Balances().Move(ctx, intake, "stub:reserve:"+a.name, req.From, req.AmountIn); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(req.AmountIn, bi(a.num))
	out.Quo(out, bi(a.den))
	if err := uow.Balances().Add(ctx, req.Recipient, req.To, out); err != nil {
		return nil, err
	}
	return out, nil
}

// stubDecks marks which players hold a locked deck.
type stubDecks map[common.Address]bool

func (d stubDecks) HasLockedDeck(ctx context.Context, player common.Address) (bool, error) {
	return d[player], nil
}

// reentrantAdapter calls back into the escrow service mid-conversion to
// probe the operation lock.
type reentrantAdapter struct {
	name    string
	escrow  *EscrowService
	matchID string
	winner  common.Address
	callErr error
}

func (a *reentrantAdapter) Name() string { return a.name }

func (a *reentrantAdapter) Convert(ctx context.Context, uow domain.UOW, req domain.ConversionRequest) (*big.Int, error) {
	_, a.callErr = a.escrow.Resolve(ctx, sourceActor, a.matchID, a.winner, nil)
	return nil, fmt.Errorf("%w: reentrant call returned %v", domain.ErrConversionFailed, a.callErr)
}

type env struct {
	store    *memory.Store
	locks    *memory.LockManager
	bus      *memory.SignalBus
	adapters domain.AdapterSet
	escrow   *EscrowService
	epochs   *EpochService
	settle   *SettlementService
	vault    *VaultService
	recovery *RecoveryService
	registry *RegistryService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{
		store: memory.NewStore(),
		locks: memory.NewLockManager(),
		bus:   memory.NewSignalBus(),
		adapters: domain.AdapterSet{
			"stub_dw":   &stubAdapter{name: "stub_dw", num: 3, den: 5},
			"stub_pw":   &stubAdapter{name: "stub_pw", num: 1, den: 2},
			"stub_pd":   &stubAdapter{name: "stub_pd", num: 1, den: 3},
			"stub_fail": &stubAdapter{name: "stub_fail", failWith: fmt.Errorf("%w: no route", domain.ErrConversionFailed)},
		},
	}
	gate := roleGate{}
	e.escrow = NewEscrowService(e.store, e.locks, gate, e.bus, e.adapters, logger)
	e.epochs = NewEpochService(e.store, e.locks, gate, e.bus, logger)
	e.settle = NewSettlementService(e.store, e.locks, gate, e.bus, e.adapters, logger)
	e.vault = NewVaultService(e.store, e.locks, gate, e.bus, logger)
	e.recovery = NewRecoveryService(e.store, e.locks, gate, logger)
	e.registry = NewRegistryService(e.store, e.locks, gate, e.adapters, logger)
	return e
}

// openEpoch opens an epoch eligible for the three fixture tokens and binds
// the stub adapters for every pair.
func (e *env) openEpoch(t *testing.T) domain.Epoch {
	t.Helper()
	ctx := context.Background()
	epoch, err := e.epochs.Open(ctx, epochActor, []common.Address{tokenDoge, tokenPepe, tokenWif})
	require.NoError(t, err)
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenDoge, tokenWif, "stub_dw"))
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenPepe, tokenWif, "stub_pw"))
	require.NoError(t, e.registry.BindAdapter(ctx, adminActor, tokenPepe, tokenDoge, "stub_pd"))
	return epoch
}

func (e *env) credit(t *testing.T, player common.Address, token common.Address, amount int64) {
	t.Helper()
	require.NoError(t, e.vault.Credit(context.Background(), sourceActor, player, token, bi(amount), nil))
}

// declareFunded declares a match and funds both legs.
func (e *env) declareFunded(t *testing.T, id string, epochID uint64, pa common.Address, ta common.Address, wa int64, pb common.Address, tb common.Address, wb int64) domain.Match {
	t.Helper()
	ctx := context.Background()
	_, err := e.escrow.Declare(ctx, sourceActor, DeclareParams{
		MatchID: id, EpochID: epochID,
		PlayerA: pa, TokenA: ta, WagerA: bi(wa),
		PlayerB: pb, TokenB: tb, WagerB: bi(wb),
	})
	require.NoError(t, err)
	_, err = e.escrow.Deposit(ctx, sourceActor, id, pa)
	require.NoError(t, err)
	m, err := e.escrow.Deposit(ctx, sourceActor, id, pb)
	require.NoError(t, err)
	require.Equal(t, domain.MatchStatusActive, m.Status)
	return m
}

// balance reads any account's balance for assertions.
func (e *env) balance(t *testing.T, account string, token common.Address) *big.Int {
	t.Helper()
	var out *big.Int
	err := e.store.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		b, err := uow.Balances().Get(ctx, account, token)
		out = b
		return err
	})
	require.NoError(t, err)
	return out
}

func (e *env) playerBalance(t *testing.T, player common.Address, token common.Address) int64 {
	t.Helper()
	return e.balance(t, domain.PlayerAccount(player), token).Int64()
}
