// Package memory provides an in-memory implementation of the domain stores
// and transaction runner. It backs tests and the local development mode;
// the postgres package is the production counterpart.
//
// Transactions are modeled by snapshotting the whole state before running
// the unit of work and restoring the snapshot on error. Stores copy values
// both on write and on read, so snapshot restoration never races with data
// handed out to callers.
package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// Store holds the entire in-memory state and hands out units of work.
// A single mutex serializes transactions, which is the point: interleaving
// happens between operations, never inside one.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	matches  map[string]domain.Match
	epochs   map[uint64]domain.Epoch
	epochSeq uint64
	matchSeq map[uint64]int64
	deposits map[uint64]map[common.Address]*big.Int
	progress map[uint64]domain.SettlementProgress
	weights  map[uint64]map[common.Address]domain.ParticipantWeight
	failed   map[uint64]map[common.Address]domain.FailedConversion
	balances map[string]map[common.Address]*big.Int
	tokens   map[common.Address]domain.SupportedToken
	bindings map[string]domain.AdapterBinding
	pools    map[string]domain.Pool
	audit    []domain.AuditEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		matches:  make(map[string]domain.Match),
		epochs:   make(map[uint64]domain.Epoch),
		matchSeq: make(map[uint64]int64),
		deposits: make(map[uint64]map[common.Address]*big.Int),
		progress: make(map[uint64]domain.SettlementProgress),
		weights:  make(map[uint64]map[common.Address]domain.ParticipantWeight),
		failed:   make(map[uint64]map[common.Address]domain.FailedConversion),
		balances: make(map[string]map[common.Address]*big.Int),
		tokens:   make(map[common.Address]domain.SupportedToken),
		bindings: make(map[string]domain.AdapterBinding),
		pools:    make(map[string]domain.Pool),
	}
}

// InTx runs fn against the live state under the store mutex. On error the
// pre-transaction snapshot is restored in place, discarding every effect.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow domain.UOW) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	if err := fn(ctx, &uow{st: s.st}); err != nil {
		*s.st = *snap
		return err
	}
	return nil
}

var _ domain.TxRunner = (*Store)(nil)

// uow exposes the store set bound to the live state.
type uow struct {
	st *state
}

func (u *uow) Matches() domain.MatchStore                       { return &matchStore{st: u.st} }
func (u *uow) Epochs() domain.EpochStore                        { return &epochStore{st: u.st} }
func (u *uow) Settlements() domain.SettlementStore              { return &settlementStore{st: u.st} }
func (u *uow) FailedConversions() domain.FailedConversionStore  { return &failedConversionStore{st: u.st} }
func (u *uow) Balances() domain.BalanceStore                    { return &balanceStore{st: u.st} }
func (u *uow) Tokens() domain.TokenStore                        { return &tokenStore{st: u.st} }
func (u *uow) Adapters() domain.AdapterStore                    { return &adapterStore{st: u.st} }
func (u *uow) Pools() domain.PoolStore                          { return &poolStore{st: u.st} }
func (u *uow) Audit() domain.AuditStore                         { return &auditStore{st: u.st} }

// Savepoint snapshots the state and runs fn; an error restores the snapshot
// while the enclosing transaction keeps its earlier effects.
func (u *uow) Savepoint(ctx context.Context, fn func(ctx context.Context, uow domain.UOW) error) error {
	snap := u.st.clone()
	if err := fn(ctx, &uow{st: u.st}); err != nil {
		*u.st = *snap
		return err
	}
	return nil
}

var _ domain.UOW = (*uow)(nil)

// clone copies every map header. Values inside the maps are never mutated in
// place (stores replace them wholesale), so sharing them with the snapshot
// is safe.
func (s *state) clone() *state {
	c := &state{
		matches:  make(map[string]domain.Match, len(s.matches)),
		epochs:   make(map[uint64]domain.Epoch, len(s.epochs)),
		epochSeq: s.epochSeq,
		matchSeq: make(map[uint64]int64, len(s.matchSeq)),
		deposits: make(map[uint64]map[common.Address]*big.Int, len(s.deposits)),
		progress: make(map[uint64]domain.SettlementProgress, len(s.progress)),
		weights:  make(map[uint64]map[common.Address]domain.ParticipantWeight, len(s.weights)),
		failed:   make(map[uint64]map[common.Address]domain.FailedConversion, len(s.failed)),
		balances: make(map[string]map[common.Address]*big.Int, len(s.balances)),
		tokens:   make(map[common.Address]domain.SupportedToken, len(s.tokens)),
		bindings: make(map[string]domain.AdapterBinding, len(s.bindings)),
		pools:    make(map[string]domain.Pool, len(s.pools)),
		audit:    append([]domain.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.epochs {
		c.epochs[k] = v
	}
	for k, v := range s.matchSeq {
		c.matchSeq[k] = v
	}
	for k, v := range s.deposits {
		inner := make(map[common.Address]*big.Int, len(v))
		for t, amt := range v {
			inner[t] = amt
		}
		c.deposits[k] = inner
	}
	for k, v := range s.progress {
		c.progress[k] = v
	}
	for k, v := range s.weights {
		inner := make(map[common.Address]domain.ParticipantWeight, len(v))
		for p, w := range v {
			inner[p] = w
		}
		c.weights[k] = inner
	}
	for k, v := range s.failed {
		inner := make(map[common.Address]domain.FailedConversion, len(v))
		for t, f := range v {
			inner[t] = f
		}
		c.failed[k] = inner
	}
	for k, v := range s.balances {
		inner := make(map[common.Address]*big.Int, len(v))
		for t, amt := range v {
			inner[t] = amt
		}
		c.balances[k] = inner
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.bindings {
		c.bindings[k] = v
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	return c
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyAddr(a *common.Address) *common.Address {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

func copyMatch(m domain.Match) domain.Match {
	out := m
	for i := range out.Legs {
		out.Legs[i].Wager = copyBig(m.Legs[i].Wager)
	}
	out.Winner = copyAddr(m.Winner)
	out.Converted = copyBig(m.Converted)
	out.WinnerShare = copyBig(m.WinnerShare)
	out.ProtocolShare = copyBig(m.ProtocolShare)
	out.PoolShare = copyBig(m.PoolShare)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	if m.RefundedAt != nil {
		t := *m.RefundedAt
		out.RefundedAt = &t
	}
	return out
}

func copyEpoch(e domain.Epoch) domain.Epoch {
	out := e
	out.EligibleTokens = append([]common.Address(nil), e.EligibleTokens...)
	out.SettlementToken = copyAddr(e.SettlementToken)
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		out.ClosedAt = &t
	}
	if e.SettledAt != nil {
		t := *e.SettledAt
		out.SettledAt = &t
	}
	return out
}

func copyProgress(p domain.SettlementProgress) domain.SettlementProgress {
	out := p
	out.TotalWeight = copyBig(p.TotalWeight)
	out.PoolBalance = copyBig(p.PoolBalance)
	out.PaidOut = copyBig(p.PaidOut)
	return out
}

func copyWeight(w domain.ParticipantWeight) domain.ParticipantWeight {
	out := w
	out.Weight = copyBig(w.Weight)
	out.PaidAmount = copyBig(w.PaidAmount)
	return out
}

func copyFailed(f domain.FailedConversion) domain.FailedConversion {
	out := f
	out.Amount = copyBig(f.Amount)
	return out
}
