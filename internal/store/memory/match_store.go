package memory

import (
	"context"
	"sort"

	"github.com/memepit/memepit/internal/domain"
)

type matchStore struct {
	st *state
}

var _ domain.MatchStore = (*matchStore)(nil)

func (s *matchStore) Create(ctx context.Context, m domain.Match) error {
	if _, ok := s.st.matches[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.st.matches[m.ID] = copyMatch(m)
	return nil
}

func (s *matchStore) Get(ctx context.Context, id string) (domain.Match, error) {
	m, ok := s.st.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return copyMatch(m), nil
}

func (s *matchStore) Update(ctx context.Context, m domain.Match) error {
	if _, ok := s.st.matches[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.st.matches[m.ID] = copyMatch(m)
	return nil
}

func (s *matchStore) ListByEpoch(ctx context.Context, epochID uint64, fromSeq int64, limit int) ([]domain.Match, error) {
	var out []domain.Match
	for _, m := range s.st.matches {
		if m.EpochID == epochID && m.Seq > fromSeq {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *matchStore) CountByEpoch(ctx context.Context, epochID uint64) (int64, error) {
	var n int64
	for _, m := range s.st.matches {
		if m.EpochID == epochID {
			n++
		}
	}
	return n, nil
}

func (s *matchStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Match, error) {
	out := make([]domain.Match, 0, len(s.st.matches))
	for _, m := range s.st.matches {
		out = append(out, copyMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EpochID != out[j].EpochID {
			return out[i].EpochID > out[j].EpochID
		}
		return out[i].Seq > out[j].Seq
	})
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
