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

type failedConversionStore struct {
	tx pgx.Tx
}

var _ domain.FailedConversionStore = (*failedConversionStore)(nil)

// Add accumulates amount onto any existing entry for the token and keeps the
// latest failure reason.
func (s *failedConversionStore) Add(ctx context.Context, epochID uint64, token common.Address, amount *big.Int, reason string) error {
	const query = `
		INSERT INTO failed_conversions (epoch_id, token, amount, reason, updated_at)
		VALUES ($1, $2, $3::numeric, $4, NOW())
		ON CONFLICT (epoch_id, token)
		DO UPDATE SET amount = failed_conversions.amount + EXCLUDED.amount,
		              reason = EXCLUDED.reason, updated_at = NOW()`

	_, err := s.tx.Exec(ctx, query, int64(epochID), addrText(token), bigText(amount), reason)
	if err != nil {
		return fmt.Errorf("postgres: record failed conversion: %w", err)
	}
	return nil
}

func (s *failedConversionStore) Get(ctx context.Context, epochID uint64, token common.Address) (domain.FailedConversion, error) {
	const query = `
		SELECT amount::text, reason, updated_at
		FROM failed_conversions WHERE epoch_id = $1 AND token = $2`

	f := domain.FailedConversion{EpochID: epochID, Token: token}
	var amount string

	err := s.tx.QueryRow(ctx, query, int64(epochID), addrText(token)).Scan(
		&amount, &f.Reason, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FailedConversion{}, domain.ErrNotFound
		}
		return domain.FailedConversion{}, fmt.Errorf("postgres: get failed conversion: %w", err)
	}

	f.Amount = textBig(amount)
	return f, nil
}

func (s *failedConversionStore) List(ctx context.Context, epochID uint64) ([]domain.FailedConversion, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token, amount::text, reason, updated_at
		 FROM failed_conversions WHERE epoch_id = $1
		 ORDER BY token ASC`, int64(epochID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed conversions: %w", err)
	}
	defer rows.Close()

	var failures []domain.FailedConversion
	for rows.Next() {
		f := domain.FailedConversion{EpochID: epochID}
		var token, amount string
		if err := rows.Scan(&token, &amount, &f.Reason, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan failed conversion: %w", err)
		}
		f.Token = textAddr(token)
		f.Amount = textBig(amount)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list failed conversions rows: %w", err)
	}
	return failures, nil
}

func (s *failedConversionStore) Clear(ctx context.Context, epochID uint64, token common.Address) error {
	tag, err := s.tx.Exec(ctx,
		`DELETE FROM failed_conversions WHERE epoch_id = $1 AND token = $2`,
		int64(epochID), addrText(token))
	if err != nil {
		return fmt.Errorf("postgres: clear failed conversion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
