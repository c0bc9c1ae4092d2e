package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MatchStore persists matches.
type MatchStore interface {
	Create(ctx context.Context, m Match) error
	Get(ctx context.Context, id string) (Match, error)
	Update(ctx context.Context, m Match) error
	// ListByEpoch returns matches with Seq > fromSeq in ascending Seq order,
	// at most limit of them (limit <= 0 means no cap).
	ListByEpoch(ctx context.Context, epochID uint64, fromSeq int64, limit int) ([]Match, error)
	CountByEpoch(ctx context.Context, epochID uint64) (int64, error)
	List(ctx context.Context, opts ListOpts) ([]Match, error)
}

// EpochStore persists epochs and their pooled deposits. Create assigns the
// next monotonic id; ids are never reused.
type EpochStore interface {
	Create(ctx context.Context, e Epoch) (uint64, error)
	Get(ctx context.Context, id uint64) (Epoch, error)
	Latest(ctx context.Context) (Epoch, error)
	Update(ctx context.Context, e Epoch) error
	// NextMatchSeq increments and returns the epoch's declare counter.
	NextMatchSeq(ctx context.Context, epochID uint64) (int64, error)
	AddDeposit(ctx context.Context, epochID uint64, token common.Address, amount *big.Int) error
	Deposits(ctx context.Context, epochID uint64) ([]EpochDeposit, error)
}

// SettlementStore persists settlement progress and participant weights.
type SettlementStore interface {
	CreateProgress(ctx context.Context, p SettlementProgress) error
	GetProgress(ctx context.Context, epochID uint64) (SettlementProgress, error)
	UpdateProgress(ctx context.Context, p SettlementProgress) error
	GetWeight(ctx context.Context, epochID uint64, participant common.Address) (ParticipantWeight, error)
	PutWeight(ctx context.Context, w ParticipantWeight) error
	// ListUnpaid returns unpaid weights in ascending Position order, at most
	// limit of them (limit <= 0 means no cap).
	ListUnpaid(ctx context.Context, epochID uint64, limit int) ([]ParticipantWeight, error)
	ListWeights(ctx context.Context, epochID uint64, opts ListOpts) ([]ParticipantWeight, error)
}

// FailedConversionStore persists the per-epoch, per-token ledger of pool
// amounts that settlement could not convert.
type FailedConversionStore interface {
	Add(ctx context.Context, epochID uint64, token common.Address, amount *big.Int, reason string) error
	Get(ctx context.Context, epochID uint64, token common.Address) (FailedConversion, error)
	List(ctx context.Context, epochID uint64) ([]FailedConversion, error)
	Clear(ctx context.Context, epochID uint64, token common.Address) error
}

// BalanceStore is the vault ledger. Add applies a signed delta and fails
// with ErrInsufficientFunds when the result would go negative; Move is a
// debit and credit of the same amount.
type BalanceStore interface {
	Add(ctx context.Context, account string, token common.Address, delta *big.Int) error
	Move(ctx context.Context, from, to string, token common.Address, amount *big.Int) error
	Get(ctx context.Context, account string, token common.Address) (*big.Int, error)
	ListByAccount(ctx context.Context, account string) ([]Balance, error)
	TotalByToken(ctx context.Context, token common.Address) (*big.Int, error)
}

// TokenStore persists the administrator-maintained supported-token registry.
type TokenStore interface {
	Upsert(ctx context.Context, t SupportedToken) error
	Get(ctx context.Context, token common.Address) (SupportedToken, error)
	ListEnabled(ctx context.Context) ([]SupportedToken, error)
	List(ctx context.Context) ([]SupportedToken, error)
}

// AdapterStore persists pair-to-adapter bindings, keyed by unordered pair.
type AdapterStore interface {
	Bind(ctx context.Context, b AdapterBinding) error
	Unbind(ctx context.Context, a, b common.Address) error
	Lookup(ctx context.Context, a, b common.Address) (AdapterBinding, error)
	List(ctx context.Context) ([]AdapterBinding, error)
}

// PoolStore persists liquidity pool metadata.
type PoolStore interface {
	Create(ctx context.Context, p Pool) error
	Get(ctx context.Context, adapter string, a, b common.Address) (Pool, error)
	Update(ctx context.Context, p Pool) error
	List(ctx context.Context, adapter string) ([]Pool, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles every persistent store reachable inside a unit of work.
type Stores interface {
	Matches() MatchStore
	Epochs() EpochStore
	Settlements() SettlementStore
	FailedConversions() FailedConversionStore
	Balances() BalanceStore
	Tokens() TokenStore
	Adapters() AdapterStore
	Pools() PoolStore
	Audit() AuditStore
}

// UOW is one atomic unit of work over the stores. Savepoint runs fn nested
// inside the same unit: when fn returns an error, fn's changes are discarded
// while the enclosing work continues.
type UOW interface {
	Stores
	Savepoint(ctx context.Context, fn func(ctx context.Context, uow UOW) error) error
}

// TxRunner executes fn as a single atomic unit of work: all of fn's effects
// commit together on nil return and are discarded together on error. There
// is no partial visibility in between.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow UOW) error) error
}
