package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/memepit/memepit/internal/domain"
)

// Store runs units of work against a connection pool. Every unit of work is
// one database transaction; savepoints map to nested pgx transactions, which
// pgx issues as SQL SAVEPOINTs.
type Store struct {
	client *Client
}

// NewStore wraps a connected client as a transaction runner.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

var _ domain.TxRunner = (*Store)(nil)

// InTx begins a transaction, runs fn, and commits on nil error. Any error
// rolls the whole transaction back, including effects of released savepoints.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow domain.UOW) error) error {
	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &uow{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

type uow struct {
	tx pgx.Tx
}

var _ domain.UOW = (*uow)(nil)

func (u *uow) Matches() domain.MatchStore                      { return &matchStore{tx: u.tx} }
func (u *uow) Epochs() domain.EpochStore                       { return &epochStore{tx: u.tx} }
func (u *uow) Settlements() domain.SettlementStore             { return &settlementStore{tx: u.tx} }
func (u *uow) FailedConversions() domain.FailedConversionStore { return &failedConversionStore{tx: u.tx} }
func (u *uow) Balances() domain.BalanceStore                   { return &balanceStore{tx: u.tx} }
func (u *uow) Tokens() domain.TokenStore                       { return &tokenStore{tx: u.tx} }
func (u *uow) Adapters() domain.AdapterStore                   { return &adapterStore{tx: u.tx} }
func (u *uow) Pools() domain.PoolStore                         { return &poolStore{tx: u.tx} }
func (u *uow) Audit() domain.AuditStore                        { return &auditStore{tx: u.tx} }

// Savepoint runs fn in a nested transaction. pgx turns the nested Begin into
// a SAVEPOINT, so an error discards fn's writes while the enclosing
// transaction stays usable, even after a constraint violation inside fn.
func (u *uow) Savepoint(ctx context.Context, fn func(ctx context.Context, uow domain.UOW) error) error {
	nested, err := u.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: savepoint: %w", err)
	}
	if err := fn(ctx, &uow{tx: nested}); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: release savepoint: %w", err)
	}
	return nil
}

// addrText is the canonical database form of an address.
func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func addrTextPtr(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := addrText(*a)
	return &s
}

func textAddr(s string) common.Address {
	return common.HexToAddress(s)
}

func textAddrPtr(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

// bigText renders an amount for a NUMERIC parameter; nil becomes zero.
func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigTextPtr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func textBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func textBigPtr(s *string) *big.Int {
	if s == nil {
		return nil
	}
	return textBig(*s)
}
