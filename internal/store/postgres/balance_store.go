package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/memepit/memepit/internal/domain"
)

type balanceStore struct {
	tx pgx.Tx
}

var _ domain.BalanceStore = (*balanceStore)(nil)

// Add locks the row, applies the signed delta, and rejects a negative result
// before writing, so ErrInsufficientFunds surfaces without tripping the
// table's non-negativity check.
func (s *balanceStore) Add(ctx context.Context, account string, token common.Address, delta *big.Int) error {
	var cur *big.Int
	var curText string
	err := s.tx.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE account = $1 AND token = $2 FOR UPDATE`,
		account, addrText(token)).Scan(&curText)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		cur = new(big.Int)
	case err != nil:
		return fmt.Errorf("postgres: read balance %s: %w", account, err)
	default:
		cur = textBig(curText)
	}

	next := new(big.Int).Add(cur, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: account %s has %s, need %s", domain.ErrInsufficientFunds,
			account, cur.String(), new(big.Int).Neg(delta).String())
	}

	const query = `
		INSERT INTO balances (account, token, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (account, token) DO UPDATE SET amount = EXCLUDED.amount`

	if _, err := s.tx.Exec(ctx, query, account, addrText(token), next.String()); err != nil {
		return fmt.Errorf("postgres: write balance %s: %w", account, err)
	}
	return nil
}

func (s *balanceStore) Move(ctx context.Context, from, to string, token common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative move amount", domain.ErrValidation)
	}
	if err := s.Add(ctx, from, token, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.Add(ctx, to, token, amount)
}

func (s *balanceStore) Get(ctx context.Context, account string, token common.Address) (*big.Int, error) {
	var amount string
	err := s.tx.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE account = $1 AND token = $2`,
		account, addrText(token)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get balance %s: %w", account, err)
	}
	return textBig(amount), nil
}

func (s *balanceStore) ListByAccount(ctx context.Context, account string) ([]domain.Balance, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token, amount::text FROM balances
		 WHERE account = $1 AND amount > 0
		 ORDER BY token ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances for %s: %w", account, err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		balances = append(balances, domain.Balance{
			Account: account,
			Token:   textAddr(token),
			Amount:  textBig(amount),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return balances, nil
}

func (s *balanceStore) TotalByToken(ctx context.Context, token common.Address) (*big.Int, error) {
	var total string
	err := s.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM balances WHERE token = $1`,
		addrText(token)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("postgres: total for token %s: %w", token.Hex(), err)
	}
	return textBig(total), nil
}
