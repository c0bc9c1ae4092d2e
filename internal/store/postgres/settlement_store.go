package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/memepit/memepit/internal/domain"
)

type settlementStore struct {
	tx pgx.Tx
}

var _ domain.SettlementStore = (*settlementStore)(nil)

func (s *settlementStore) CreateProgress(ctx context.Context, p domain.SettlementProgress) error {
	const query = `
		INSERT INTO settlement_progress (
			epoch_id, settlement_token, total_matches, processed_matches,
			participants, total_weight, converted, pool_balance,
			paid_participants, paid_out, fully_paid, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6::numeric, $7, $8::numeric,
			$9, $10::numeric, $11, NOW()
		)`

	_, err := s.tx.Exec(ctx, query,
		int64(p.EpochID), addrText(p.SettlementToken), p.TotalMatches, p.ProcessedMatches,
		p.Participants, bigText(p.TotalWeight), p.Converted, bigText(p.PoolBalance),
		p.PaidParticipants, bigText(p.PaidOut), p.FullyPaid,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement progress for epoch %d: %w", p.EpochID, err)
	}
	return nil
}

func (s *settlementStore) GetProgress(ctx context.Context, epochID uint64) (domain.SettlementProgress, error) {
	const query = `
		SELECT epoch_id, settlement_token, total_matches, processed_matches,
		       participants, total_weight::text, converted, pool_balance::text,
		       paid_participants, paid_out::text, fully_paid, updated_at
		FROM settlement_progress WHERE epoch_id = $1`

	var p domain.SettlementProgress
	var id int64
	var token, totalWeight, poolBalance, paidOut string

	err := s.tx.QueryRow(ctx, query, int64(epochID)).Scan(
		&id, &token, &p.TotalMatches, &p.ProcessedMatches,
		&p.Participants, &totalWeight, &p.Converted, &poolBalance,
		&p.PaidParticipants, &paidOut, &p.FullyPaid, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementProgress{}, domain.ErrNotFound
		}
		return domain.SettlementProgress{}, fmt.Errorf("postgres: get settlement progress for epoch %d: %w", epochID, err)
	}

	p.EpochID = uint64(id)
	p.SettlementToken = textAddr(token)
	p.TotalWeight = textBig(totalWeight)
	p.PoolBalance = textBig(poolBalance)
	p.PaidOut = textBig(paidOut)
	return p, nil
}

func (s *settlementStore) UpdateProgress(ctx context.Context, p domain.SettlementProgress) error {
	const query = `
		UPDATE settlement_progress SET
			processed_matches = $2, participants = $3, total_weight = $4::numeric,
			converted = $5, pool_balance = $6::numeric,
			paid_participants = $7, paid_out = $8::numeric, fully_paid = $9,
			updated_at = NOW()
		WHERE epoch_id = $1`

	tag, err := s.tx.Exec(ctx, query,
		int64(p.EpochID), p.ProcessedMatches, p.Participants, bigText(p.TotalWeight),
		p.Converted, bigText(p.PoolBalance),
		p.PaidParticipants, bigText(p.PaidOut), p.FullyPaid,
	)
	if err != nil {
		return fmt.Errorf("postgres: update settlement progress for epoch %d: %w", p.EpochID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *settlementStore) GetWeight(ctx context.Context, epochID uint64, participant common.Address) (domain.ParticipantWeight, error) {
	const query = `
		SELECT position, weight::text, paid, paid_amount::text
		FROM participant_weights WHERE epoch_id = $1 AND participant = $2`

	w := domain.ParticipantWeight{EpochID: epochID, Participant: participant}
	var weight string
	var paidAmount *string

	err := s.tx.QueryRow(ctx, query, int64(epochID), addrText(participant)).Scan(
		&w.Position, &weight, &w.Paid, &paidAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ParticipantWeight{}, domain.ErrNotFound
		}
		return domain.ParticipantWeight{}, fmt.Errorf("postgres: get weight: %w", err)
	}

	w.Weight = textBig(weight)
	w.PaidAmount = textBigPtr(paidAmount)
	return w, nil
}

func (s *settlementStore) PutWeight(ctx context.Context, w domain.ParticipantWeight) error {
	const query = `
		INSERT INTO participant_weights (epoch_id, participant, position, weight, paid, paid_amount)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric)
		ON CONFLICT (epoch_id, participant)
		DO UPDATE SET position = EXCLUDED.position, weight = EXCLUDED.weight,
		              paid = EXCLUDED.paid, paid_amount = EXCLUDED.paid_amount`

	_, err := s.tx.Exec(ctx, query,
		int64(w.EpochID), addrText(w.Participant), w.Position,
		bigText(w.Weight), w.Paid, bigTextPtr(w.PaidAmount))
	if err != nil {
		return fmt.Errorf("postgres: put weight: %w", err)
	}
	return nil
}

func scanWeightRows(rows pgx.Rows, epochID uint64) ([]domain.ParticipantWeight, error) {
	var weights []domain.ParticipantWeight
	for rows.Next() {
		w := domain.ParticipantWeight{EpochID: epochID}
		var participant, weight string
		var paidAmount *string
		if err := rows.Scan(&participant, &w.Position, &weight, &w.Paid, &paidAmount); err != nil {
			return nil, err
		}
		w.Participant = textAddr(participant)
		w.Weight = textBig(weight)
		w.PaidAmount = textBigPtr(paidAmount)
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

const weightCols = `participant, position, weight::text, paid, paid_amount::text`

func (s *settlementStore) ListUnpaid(ctx context.Context, epochID uint64, limit int) ([]domain.ParticipantWeight, error) {
	query := `SELECT ` + weightCols + ` FROM participant_weights
		WHERE epoch_id = $1 AND NOT paid
		ORDER BY position ASC`
	args := []any{int64(epochID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unpaid weights: %w", err)
	}
	defer rows.Close()

	weights, err := scanWeightRows(rows, epochID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unpaid weights: %w", err)
	}
	return weights, nil
}

func (s *settlementStore) ListWeights(ctx context.Context, epochID uint64, opts domain.ListOpts) ([]domain.ParticipantWeight, error) {
	query := `SELECT ` + weightCols + ` FROM participant_weights
		WHERE epoch_id = $1
		ORDER BY position ASC`
	args := []any{int64(epochID)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list weights: %w", err)
	}
	defer rows.Close()

	weights, err := scanWeightRows(rows, epochID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan weights: %w", err)
	}
	return weights, nil
}
