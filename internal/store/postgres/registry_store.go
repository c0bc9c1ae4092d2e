package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/memepit/memepit/internal/domain"
)

type tokenStore struct {
	tx pgx.Tx
}

var _ domain.TokenStore = (*tokenStore)(nil)

func (s *tokenStore) Upsert(ctx context.Context, t domain.SupportedToken) error {
	const query = `
		INSERT INTO tokens (token, symbol, enabled, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token)
		DO UPDATE SET symbol = EXCLUDED.symbol, enabled = EXCLUDED.enabled,
		              added_at = EXCLUDED.added_at`

	_, err := s.tx.Exec(ctx, query, addrText(t.Token), t.Symbol, t.Enabled, t.AddedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", t.Token.Hex(), err)
	}
	return nil
}

func (s *tokenStore) Get(ctx context.Context, token common.Address) (domain.SupportedToken, error) {
	t := domain.SupportedToken{Token: token}
	err := s.tx.QueryRow(ctx,
		`SELECT symbol, enabled, added_at FROM tokens WHERE token = $1`,
		addrText(token)).Scan(&t.Symbol, &t.Enabled, &t.AddedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SupportedToken{}, domain.ErrNotFound
		}
		return domain.SupportedToken{}, fmt.Errorf("postgres: get token %s: %w", token.Hex(), err)
	}
	return t, nil
}

func scanTokenRows(rows pgx.Rows) ([]domain.SupportedToken, error) {
	var tokens []domain.SupportedToken
	for rows.Next() {
		var t domain.SupportedToken
		var addr string
		if err := rows.Scan(&addr, &t.Symbol, &t.Enabled, &t.AddedAt); err != nil {
			return nil, err
		}
		t.Token = textAddr(addr)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *tokenStore) ListEnabled(ctx context.Context) ([]domain.SupportedToken, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token, symbol, enabled, added_at FROM tokens WHERE enabled ORDER BY token ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled tokens: %w", err)
	}
	defer rows.Close()

	tokens, err := scanTokenRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan enabled tokens: %w", err)
	}
	return tokens, nil
}

func (s *tokenStore) List(ctx context.Context) ([]domain.SupportedToken, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token, symbol, enabled, added_at FROM tokens ORDER BY token ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tokens: %w", err)
	}
	defer rows.Close()

	tokens, err := scanTokenRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tokens: %w", err)
	}
	return tokens, nil
}

type adapterStore struct {
	tx pgx.Tx
}

var _ domain.AdapterStore = (*adapterStore)(nil)

func (s *adapterStore) Bind(ctx context.Context, b domain.AdapterBinding) error {
	b.TokenA, b.TokenB = domain.SortPair(b.TokenA, b.TokenB)

	const query = `
		INSERT INTO adapter_bindings (token_a, token_b, adapter, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token_a, token_b)
		DO UPDATE SET adapter = EXCLUDED.adapter, updated_at = NOW()`

	_, err := s.tx.Exec(ctx, query, addrText(b.TokenA), addrText(b.TokenB), b.Adapter)
	if err != nil {
		return fmt.Errorf("postgres: bind adapter %s: %w", b.Adapter, err)
	}
	return nil
}

func (s *adapterStore) Unbind(ctx context.Context, a, b common.Address) error {
	lo, hi := domain.SortPair(a, b)
	tag, err := s.tx.Exec(ctx,
		`DELETE FROM adapter_bindings WHERE token_a = $1 AND token_b = $2`,
		addrText(lo), addrText(hi))
	if err != nil {
		return fmt.Errorf("postgres: unbind pair: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *adapterStore) Lookup(ctx context.Context, a, b common.Address) (domain.AdapterBinding, error) {
	lo, hi := domain.SortPair(a, b)
	bind := domain.AdapterBinding{TokenA: lo, TokenB: hi}
	err := s.tx.QueryRow(ctx,
		`SELECT adapter, updated_at FROM adapter_bindings WHERE token_a = $1 AND token_b = $2`,
		addrText(lo), addrText(hi)).Scan(&bind.Adapter, &bind.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AdapterBinding{}, domain.ErrNotFound
		}
		return domain.AdapterBinding{}, fmt.Errorf("postgres: lookup binding: %w", err)
	}
	return bind, nil
}

func (s *adapterStore) List(ctx context.Context) ([]domain.AdapterBinding, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT token_a, token_b, adapter, updated_at FROM adapter_bindings
		 ORDER BY token_a ASC, token_b ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.AdapterBinding
	for rows.Next() {
		var b domain.AdapterBinding
		var tokenA, tokenB string
		if err := rows.Scan(&tokenA, &tokenB, &b.Adapter, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan binding: %w", err)
		}
		b.TokenA = textAddr(tokenA)
		b.TokenB = textAddr(tokenB)
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bindings rows: %w", err)
	}
	return bindings, nil
}

type poolStore struct {
	tx pgx.Tx
}

var _ domain.PoolStore = (*poolStore)(nil)

func (s *poolStore) Create(ctx context.Context, p domain.Pool) error {
	p.TokenA, p.TokenB = domain.SortPair(p.TokenA, p.TokenB)

	const query = `
		INSERT INTO pools (adapter, token_a, token_b, fee_bps, concentration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.tx.Exec(ctx, query,
		p.Adapter, addrText(p.TokenA), addrText(p.TokenB),
		int32(p.FeeBps), p.Concentration, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create pool: %w", err)
	}
	return nil
}

func (s *poolStore) Get(ctx context.Context, adapter string, a, b common.Address) (domain.Pool, error) {
	lo, hi := domain.SortPair(a, b)
	p := domain.Pool{Adapter: adapter, TokenA: lo, TokenB: hi}
	var feeBps int32
	err := s.tx.QueryRow(ctx,
		`SELECT fee_bps, concentration, created_at FROM pools
		 WHERE adapter = $1 AND token_a = $2 AND token_b = $3`,
		adapter, addrText(lo), addrText(hi)).Scan(&feeBps, &p.Concentration, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool: %w", err)
	}
	p.FeeBps = uint32(feeBps)
	return p, nil
}

func (s *poolStore) Update(ctx context.Context, p domain.Pool) error {
	p.TokenA, p.TokenB = domain.SortPair(p.TokenA, p.TokenB)

	const query = `
		UPDATE pools SET fee_bps = $4, concentration = $5
		WHERE adapter = $1 AND token_a = $2 AND token_b = $3`

	tag, err := s.tx.Exec(ctx, query,
		p.Adapter, addrText(p.TokenA), addrText(p.TokenB),
		int32(p.FeeBps), p.Concentration)
	if err != nil {
		return fmt.Errorf("postgres: update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *poolStore) List(ctx context.Context, adapter string) ([]domain.Pool, error) {
	query := `SELECT adapter, token_a, token_b, fee_bps, concentration, created_at FROM pools`
	args := []any{}
	if adapter != "" {
		query += ` WHERE adapter = $1`
		args = append(args, adapter)
	}
	query += ` ORDER BY adapter ASC, token_a ASC, token_b ASC`

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var p domain.Pool
		var tokenA, tokenB string
		var feeBps int32
		if err := rows.Scan(&p.Adapter, &tokenA, &tokenB, &feeBps, &p.Concentration, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		p.TokenA = textAddr(tokenA)
		p.TokenB = textAddr(tokenB)
		p.FeeBps = uint32(feeBps)
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return pools, nil
}
