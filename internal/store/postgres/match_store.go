package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/memepit/memepit/internal/domain"
)

type matchStore struct {
	tx pgx.Tx
}

var _ domain.MatchStore = (*matchStore)(nil)

const matchCols = `id, epoch_id, seq,
	player_one, token_one, wager_one::text, deposited_one,
	player_two, token_two, wager_two::text, deposited_two,
	status, winner,
	converted::text, winner_share::text, protocol_share::text, pool_share::text,
	created_at, resolved_at, refunded_at`

func (s *matchStore) Create(ctx context.Context, m domain.Match) error {
	const query = `
		INSERT INTO matches (
			id, epoch_id, seq,
			player_one, token_one, wager_one, deposited_one,
			player_two, token_two, wager_two, deposited_two,
			status, winner,
			converted, winner_share, protocol_share, pool_share,
			created_at, resolved_at, refunded_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6::numeric, $7,
			$8, $9, $10::numeric, $11,
			$12, $13,
			$14::numeric, $15::numeric, $16::numeric, $17::numeric,
			$18, $19, $20
		)`

	_, err := s.tx.Exec(ctx, query,
		m.ID, int64(m.EpochID), m.Seq,
		addrText(m.Legs[0].Player), addrText(m.Legs[0].Token), bigText(m.Legs[0].Wager), m.Legs[0].Deposited,
		addrText(m.Legs[1].Player), addrText(m.Legs[1].Token), bigText(m.Legs[1].Wager), m.Legs[1].Deposited,
		string(m.Status), addrTextPtr(m.Winner),
		bigTextPtr(m.Converted), bigTextPtr(m.WinnerShare), bigTextPtr(m.ProtocolShare), bigTextPtr(m.PoolShare),
		m.CreatedAt, m.ResolvedAt, m.RefundedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create match %s: %w", m.ID, err)
	}
	return nil
}

func scanMatchFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Match, error) {
	var m domain.Match
	var epochID int64
	var playerOne, tokenOne, playerTwo, tokenTwo, wagerOne, wagerTwo, status string
	var winner, converted, winnerShare, protocolShare, poolShare *string

	err := scanner.Scan(
		&m.ID, &epochID, &m.Seq,
		&playerOne, &tokenOne, &wagerOne, &m.Legs[0].Deposited,
		&playerTwo, &tokenTwo, &wagerTwo, &m.Legs[1].Deposited,
		&status, &winner,
		&converted, &winnerShare, &protocolShare, &poolShare,
		&m.CreatedAt, &m.ResolvedAt, &m.RefundedAt,
	)
	if err != nil {
		return domain.Match{}, err
	}

	m.EpochID = uint64(epochID)
	m.Legs[0].Player = textAddr(playerOne)
	m.Legs[0].Token = textAddr(tokenOne)
	m.Legs[0].Wager = textBig(wagerOne)
	m.Legs[1].Player = textAddr(playerTwo)
	m.Legs[1].Token = textAddr(tokenTwo)
	m.Legs[1].Wager = textBig(wagerTwo)
	m.Status = domain.MatchStatus(status)
	m.Winner = textAddrPtr(winner)
	m.Converted = textBigPtr(converted)
	m.WinnerShare = textBigPtr(winnerShare)
	m.ProtocolShare = textBigPtr(protocolShare)
	m.PoolShare = textBigPtr(poolShare)
	return m, nil
}

func scanMatchRows(rows pgx.Rows) ([]domain.Match, error) {
	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatchFromRow(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *matchStore) Get(ctx context.Context, id string) (domain.Match, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+matchCols+` FROM matches WHERE id = $1`, id)

	m, err := scanMatchFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: get match %s: %w", id, err)
	}
	return m, nil
}

func (s *matchStore) Update(ctx context.Context, m domain.Match) error {
	const query = `
		UPDATE matches SET
			deposited_one = $2, deposited_two = $3,
			status = $4, winner = $5,
			converted = $6::numeric, winner_share = $7::numeric,
			protocol_share = $8::numeric, pool_share = $9::numeric,
			resolved_at = $10, refunded_at = $11
		WHERE id = $1`

	tag, err := s.tx.Exec(ctx, query,
		m.ID, m.Legs[0].Deposited, m.Legs[1].Deposited,
		string(m.Status), addrTextPtr(m.Winner),
		bigTextPtr(m.Converted), bigTextPtr(m.WinnerShare),
		bigTextPtr(m.ProtocolShare), bigTextPtr(m.PoolShare),
		m.ResolvedAt, m.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update match %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *matchStore) ListByEpoch(ctx context.Context, epochID uint64, fromSeq int64, limit int) ([]domain.Match, error) {
	query := `SELECT ` + matchCols + ` FROM matches
		WHERE epoch_id = $1 AND seq > $2
		ORDER BY seq ASC`
	args := []any{int64(epochID), fromSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches by epoch: %w", err)
	}
	defer rows.Close()

	matches, err := scanMatchRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan matches by epoch: %w", err)
	}
	return matches, nil
}

func (s *matchStore) CountByEpoch(ctx context.Context, epochID uint64) (int64, error) {
	var n int64
	err := s.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM matches WHERE epoch_id = $1`, int64(epochID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count matches by epoch: %w", err)
	}
	return n, nil
}

func (s *matchStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Match, error) {
	query := `SELECT ` + matchCols + ` FROM matches ORDER BY epoch_id DESC, seq DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list matches: %w", err)
	}
	defer rows.Close()

	matches, err := scanMatchRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan matches: %w", err)
	}
	return matches, nil
}
