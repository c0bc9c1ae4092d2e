package memory

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

type tokenStore struct {
	st *state
}

var _ domain.TokenStore = (*tokenStore)(nil)

func (s *tokenStore) Upsert(ctx context.Context, t domain.SupportedToken) error {
	s.st.tokens[t.Token] = t
	return nil
}

func (s *tokenStore) Get(ctx context.Context, token common.Address) (domain.SupportedToken, error) {
	t, ok := s.st.tokens[token]
	if !ok {
		return domain.SupportedToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *tokenStore) ListEnabled(ctx context.Context) ([]domain.SupportedToken, error) {
	var out []domain.SupportedToken
	for _, t := range s.st.tokens {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sortTokens(out)
	return out, nil
}

func (s *tokenStore) List(ctx context.Context) ([]domain.SupportedToken, error) {
	out := make([]domain.SupportedToken, 0, len(s.st.tokens))
	for _, t := range s.st.tokens {
		out = append(out, t)
	}
	sortTokens(out)
	return out, nil
}

func sortTokens(ts []domain.SupportedToken) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Token.Hex() < ts[j].Token.Hex() })
}

type adapterStore struct {
	st *state
}

var _ domain.AdapterStore = (*adapterStore)(nil)

func (s *adapterStore) Bind(ctx context.Context, b domain.AdapterBinding) error {
	b.TokenA, b.TokenB = domain.SortPair(b.TokenA, b.TokenB)
	s.st.bindings[domain.PairKey(b.TokenA, b.TokenB)] = b
	return nil
}

func (s *adapterStore) Unbind(ctx context.Context, a, b common.Address) error {
	key := domain.PairKey(a, b)
	if _, ok := s.st.bindings[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.st.bindings, key)
	return nil
}

func (s *adapterStore) Lookup(ctx context.Context, a, b common.Address) (domain.AdapterBinding, error) {
	bind, ok := s.st.bindings[domain.PairKey(a, b)]
	if !ok {
		return domain.AdapterBinding{}, domain.ErrNotFound
	}
	return bind, nil
}

func (s *adapterStore) List(ctx context.Context) ([]domain.AdapterBinding, error) {
	out := make([]domain.AdapterBinding, 0, len(s.st.bindings))
	for _, b := range s.st.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.PairKey(out[i].TokenA, out[i].TokenB) < domain.PairKey(out[j].TokenA, out[j].TokenB)
	})
	return out, nil
}

type poolStore struct {
	st *state
}

var _ domain.PoolStore = (*poolStore)(nil)

func poolKey(adapter string, a, b common.Address) string {
	return adapter + ":" + domain.PairKey(a, b)
}

func (s *poolStore) Create(ctx context.Context, p domain.Pool) error {
	p.TokenA, p.TokenB = domain.SortPair(p.TokenA, p.TokenB)
	key := poolKey(p.Adapter, p.TokenA, p.TokenB)
	if _, ok := s.st.pools[key]; ok {
		return domain.ErrAlreadyExists
	}
	s.st.pools[key] = p
	return nil
}

func (s *poolStore) Get(ctx context.Context, adapter string, a, b common.Address) (domain.Pool, error) {
	p, ok := s.st.pools[poolKey(adapter, a, b)]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *poolStore) Update(ctx context.Context, p domain.Pool) error {
	p.TokenA, p.TokenB = domain.SortPair(p.TokenA, p.TokenB)
	key := poolKey(p.Adapter, p.TokenA, p.TokenB)
	if _, ok := s.st.pools[key]; !ok {
		return domain.ErrNotFound
	}
	s.st.pools[key] = p
	return nil
}

func (s *poolStore) List(ctx context.Context, adapter string) ([]domain.Pool, error) {
	var out []domain.Pool
	for _, p := range s.st.pools {
		if adapter == "" || p.Adapter == adapter {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return poolKey(out[i].Adapter, out[i].TokenA, out[i].TokenB) < poolKey(out[j].Adapter, out[j].TokenA, out[j].TokenB)
	})
	return out, nil
}
