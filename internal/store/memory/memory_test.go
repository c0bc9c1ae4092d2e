package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")

	errBoom = errors.New("boom")
)

func bi(n int64) *big.Int { return big.NewInt(n) }

func seedEpoch(t *testing.T, s *Store, id uint64) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, uow domain.UOW) error {
		_, err := uow.Epochs().Create(ctx, domain.Epoch{
			ID:             id,
			Status:         domain.EpochStatusOpen,
			EligibleTokens: []common.Address{tokenA, tokenB},
			OpenedAt:       time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, err)
}

func TestInTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedEpoch(t, s, 1)

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		require.NoError(t, uow.Matches().Create(ctx, domain.Match{ID: "m1", EpochID: 1, Seq: 1, Status: domain.MatchStatusPending}))
		require.NoError(t, uow.Balances().Add(ctx, "acct", tokenA, bi(100)))
		require.NoError(t, uow.Epochs().AddDeposit(ctx, 1, tokenA, bi(40)))
		require.NoError(t, uow.Audit().Log(ctx, "test_event", nil))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		_, err := uow.Matches().Get(ctx, "m1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		bal, err := uow.Balances().Get(ctx, "acct", tokenA)
		require.NoError(t, err)
		assert.Zero(t, bal.Sign())

		deps, err := uow.Epochs().Deposits(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, deps)

		entries, err := uow.Audit().List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestSavepointPartialRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedEpoch(t, s, 1)

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Balances().Add(ctx, "kept", tokenA, bi(10)); err != nil {
			return err
		}
		spErr := uow.Savepoint(ctx, func(ctx context.Context, uow domain.UOW) error {
			require.NoError(t, uow.Balances().Add(ctx, "lost", tokenA, bi(99)))
			require.NoError(t, uow.Epochs().AddDeposit(ctx, 1, tokenB, bi(7)))
			return errBoom
		})
		require.ErrorIs(t, spErr, errBoom)

		// Effects before the savepoint survive; effects inside it do not.
		bal, err := uow.Balances().Get(ctx, "lost", tokenA)
		require.NoError(t, err)
		assert.Zero(t, bal.Sign())

		return uow.Balances().Add(ctx, "kept", tokenA, bi(5))
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		kept, err := uow.Balances().Get(ctx, "kept", tokenA)
		require.NoError(t, err)
		assert.Equal(t, int64(15), kept.Int64())

		lost, err := uow.Balances().Get(ctx, "lost", tokenA)
		require.NoError(t, err)
		assert.Zero(t, lost.Sign())

		deps, err := uow.Epochs().Deposits(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, deps)
		return nil
	})
	require.NoError(t, err)
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	alice := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa01")

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		if err := uow.Matches().Create(ctx, domain.Match{
			ID: "m1", EpochID: 1, Seq: 1,
			Legs: [2]domain.MatchLeg{
				{Player: alice, Token: tokenA, Wager: bi(100)},
				{Player: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa02"), Token: tokenB, Wager: bi(200)},
			},
			Status: domain.MatchStatusPending,
		}); err != nil {
			return err
		}
		return uow.Balances().Add(ctx, "acct", tokenA, bi(50))
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, "m1")
		require.NoError(t, err)
		m.Legs[0].Wager.SetInt64(777777)

		bal, err := uow.Balances().Get(ctx, "acct", tokenA)
		require.NoError(t, err)
		bal.SetInt64(-1)
		return nil
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), m.Legs[0].Wager.Int64())
		assert.Equal(t, domain.MatchStatusPending, m.Status)

		bal, err := uow.Balances().Get(ctx, "acct", tokenA)
		require.NoError(t, err)
		assert.Equal(t, int64(50), bal.Int64())
		return nil
	})
	require.NoError(t, err)
}

func TestNextMatchSeq(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedEpoch(t, s, 7)
	seedEpoch(t, s, 8)

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		for want := int64(1); want <= 3; want++ {
			seq, err := uow.Epochs().NextMatchSeq(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, want, seq)
		}
		seq, err := uow.Epochs().NextMatchSeq(ctx, 8)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		_, err = uow.Epochs().NextMatchSeq(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	// A rolled-back transaction returns its sequence numbers, keeping the
	// per-epoch ordering gap-free.
	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		seq, err := uow.Epochs().NextMatchSeq(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(4), seq)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		seq, err := uow.Epochs().NextMatchSeq(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(4), seq)
		return nil
	})
	require.NoError(t, err)
}

func TestMatchScanWindow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedEpoch(t, s, 1)
	seedEpoch(t, s, 2)

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		for seq := int64(1); seq <= 5; seq++ {
			id := "m" + string(rune('0'+seq))
			if err := uow.Matches().Create(ctx, domain.Match{ID: id, EpochID: 1, Seq: seq}); err != nil {
				return err
			}
		}
		return uow.Matches().Create(ctx, domain.Match{ID: "other", EpochID: 2, Seq: 1})
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		ms, err := uow.Matches().ListByEpoch(ctx, 1, 2, 2)
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, int64(3), ms[0].Seq)
		assert.Equal(t, int64(4), ms[1].Seq)

		ms, err = uow.Matches().ListByEpoch(ctx, 1, 4, 0)
		require.NoError(t, err)
		require.Len(t, ms, 1)
		assert.Equal(t, int64(5), ms[0].Seq)

		n, err := uow.Matches().CountByEpoch(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		return nil
	})
	require.NoError(t, err)
}

func TestBalanceArithmetic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		require.NoError(t, uow.Balances().Add(ctx, "a", tokenA, bi(30)))
		require.NoError(t, uow.Balances().Add(ctx, "b", tokenA, bi(70)))
		require.NoError(t, uow.Balances().Add(ctx, "a", tokenB, bi(5)))

		err := uow.Balances().Add(ctx, "a", tokenA, bi(-31))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		err = uow.Balances().Move(ctx, "a", "b", tokenA, bi(-1))
		assert.ErrorIs(t, err, domain.ErrValidation)

		err = uow.Balances().Move(ctx, "a", "b", tokenA, bi(31))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		// The failed move debited nothing.
		bal, err := uow.Balances().Get(ctx, "a", tokenA)
		require.NoError(t, err)
		assert.Equal(t, int64(30), bal.Int64())

		require.NoError(t, uow.Balances().Move(ctx, "a", "b", tokenA, bi(30)))

		total, err := uow.Balances().TotalByToken(ctx, tokenA)
		require.NoError(t, err)
		assert.Equal(t, int64(100), total.Int64())

		// Zero balances are elided from account listings.
		list, err := uow.Balances().ListByAccount(ctx, "a")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, tokenB, list[0].Token)
		return nil
	})
	require.NoError(t, err)
}

func TestAuditListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		for _, ev := range []string{"one", "two", "three", "four", "five"} {
			if err := uow.Audit().Log(ctx, ev, map[string]any{"k": ev}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		entries, err := uow.Audit().List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, "five", entries[0].Event)
		assert.Equal(t, "one", entries[4].Event)

		entries, err = uow.Audit().List(ctx, domain.ListOpts{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "three", entries[0].Event)
		assert.Equal(t, "two", entries[1].Event)
		return nil
	})
	require.NoError(t, err)
}

func TestLockManagerExclusive(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Other keys are independent.
	unlockOther, err := lm.Acquire(ctx, "k2", time.Minute)
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlock() // idempotent

	unlock2, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	defer unlock2()

	// A stale unlock from the first acquisition must not release the
	// current holder.
	unlock()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestLockManagerExpiry(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	_, err := lm.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	time.Sleep(25 * time.Millisecond)

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestSignalBusPubSub(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	ch, err := bus.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "events", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "elsewhere", []byte("ignored")))

	select {
	case got := <-ch:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected message %q", got)
	default:
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "st", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "st", "0", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, "st", msgs[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, "st", "0", 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
