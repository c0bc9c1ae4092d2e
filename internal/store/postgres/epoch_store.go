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

type epochStore struct {
	tx pgx.Tx
}

var _ domain.EpochStore = (*epochStore)(nil)

const epochCols = `id, status, eligible_tokens, settlement_token, opened_at, closed_at, settled_at`

// Create inserts a new epoch and returns the identity the database assigned.
// The caller's e.ID is ignored; ids are monotonic and never reused.
func (s *epochStore) Create(ctx context.Context, e domain.Epoch) (uint64, error) {
	const query = `
		INSERT INTO epochs (status, eligible_tokens, settlement_token, opened_at, closed_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	tokens := make([]string, len(e.EligibleTokens))
	for i, t := range e.EligibleTokens {
		tokens[i] = addrText(t)
	}

	var id int64
	err := s.tx.QueryRow(ctx, query,
		string(e.Status), tokens, addrTextPtr(e.SettlementToken),
		e.OpenedAt, e.ClosedAt, e.SettledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create epoch: %w", err)
	}
	return uint64(id), nil
}

func scanEpochFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Epoch, error) {
	var e domain.Epoch
	var id int64
	var status string
	var tokens []string
	var settlementToken *string

	err := scanner.Scan(&id, &status, &tokens, &settlementToken, &e.OpenedAt, &e.ClosedAt, &e.SettledAt)
	if err != nil {
		return domain.Epoch{}, err
	}

	e.ID = uint64(id)
	e.Status = domain.EpochStatus(status)
	e.EligibleTokens = make([]common.Address, len(tokens))
	for i, t := range tokens {
		e.EligibleTokens[i] = textAddr(t)
	}
	e.SettlementToken = textAddrPtr(settlementToken)
	return e, nil
}

func (s *epochStore) Get(ctx context.Context, id uint64) (domain.Epoch, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+epochCols+` FROM epochs WHERE id = $1`, int64(id))

	e, err := scanEpochFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Epoch{}, domain.ErrNotFound
		}
		return domain.Epoch{}, fmt.Errorf("postgres: get epoch %d: %w", id, err)
	}
	return e, nil
}

func (s *epochStore) Latest(ctx context.Context) (domain.Epoch, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+epochCols+` FROM epochs ORDER BY id DESC LIMIT 1`)

	e, err := scanEpochFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Epoch{}, domain.ErrNotFound
		}
		return domain.Epoch{}, fmt.Errorf("postgres: latest epoch: %w", err)
	}
	return e, nil
}

func (s *epochStore) Update(ctx context.Context, e domain.Epoch) error {
	const query = `
		UPDATE epochs SET
			status = $2, settlement_token = $3, closed_at = $4, settled_at = $5
		WHERE id = $1`

	tag, err := s.tx.Exec(ctx, query,
		int64(e.ID), string(e.Status), addrTextPtr(e.SettlementToken), e.ClosedAt, e.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: update epoch %d: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *epochStore) NextMatchSeq(ctx context.Context, epochID uint64) (int64, error) {
	var seq int64
	err := s.tx.QueryRow(ctx,
		`UPDATE epochs SET match_seq = match_seq + 1 WHERE id = $1 RETURNING match_seq`,
		int64(epochID)).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: next match seq for epoch %d: %w", epochID, err)
	}
	return seq, nil
}

func (s *epochStore) AddDeposit(ctx context.Context, epochID uint64, token common.Address, amount *big.Int) error {
	var exists bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM epochs WHERE id = $1)`, int64(epochID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check epoch %d: %w", epochID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}

	const query = `
		INSERT INTO epoch_deposits (epoch_id, token, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (epoch_id, token)
		DO UPDATE SET amount = epoch_deposits.amount + EXCLUDED.amount`

	_, err = s.tx.Exec(ctx, query, int64(epochID), addrText(token), bigText(amount))
	if err != nil {
		return fmt.Errorf("postgres: add deposit to epoch %d: %w", epochID, err)
	}
	return nil
}

func (s *epochStore) Deposits(ctx context.Context, epochID uint64) ([]domain.EpochDeposit, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token, amount::text FROM epoch_deposits
		 WHERE epoch_id = $1
		 ORDER BY token ASC`, int64(epochID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits for epoch %d: %w", epochID, err)
	}
	defer rows.Close()

	var deposits []domain.EpochDeposit
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan deposit: %w", err)
		}
		deposits = append(deposits, domain.EpochDeposit{
			EpochID: epochID,
			Token:   textAddr(token),
			Amount:  textBig(amount),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deposits rows: %w", err)
	}
	return deposits, nil
}
