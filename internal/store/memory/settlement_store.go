package memory

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

type settlementStore struct {
	st *state
}

var _ domain.SettlementStore = (*settlementStore)(nil)

func (s *settlementStore) CreateProgress(ctx context.Context, p domain.SettlementProgress) error {
	if _, ok := s.st.progress[p.EpochID]; ok {
		return domain.ErrAlreadyExists
	}
	s.st.progress[p.EpochID] = copyProgress(p)
	return nil
}

func (s *settlementStore) GetProgress(ctx context.Context, epochID uint64) (domain.SettlementProgress, error) {
	p, ok := s.st.progress[epochID]
	if !ok {
		return domain.SettlementProgress{}, domain.ErrNotFound
	}
	return copyProgress(p), nil
}

func (s *settlementStore) UpdateProgress(ctx context.Context, p domain.SettlementProgress) error {
	if _, ok := s.st.progress[p.EpochID]; !ok {
		return domain.ErrNotFound
	}
	s.st.progress[p.EpochID] = copyProgress(p)
	return nil
}

func (s *settlementStore) GetWeight(ctx context.Context, epochID uint64, participant common.Address) (domain.ParticipantWeight, error) {
	w, ok := s.st.weights[epochID][participant]
	if !ok {
		return domain.ParticipantWeight{}, domain.ErrNotFound
	}
	return copyWeight(w), nil
}

func (s *settlementStore) PutWeight(ctx context.Context, w domain.ParticipantWeight) error {
	byPart, ok := s.st.weights[w.EpochID]
	if !ok {
		byPart = make(map[common.Address]domain.ParticipantWeight)
		s.st.weights[w.EpochID] = byPart
	}
	byPart[w.Participant] = copyWeight(w)
	return nil
}

func (s *settlementStore) ListUnpaid(ctx context.Context, epochID uint64, limit int) ([]domain.ParticipantWeight, error) {
	var out []domain.ParticipantWeight
	for _, w := range s.st.weights[epochID] {
		if !w.Paid {
			out = append(out, copyWeight(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *settlementStore) ListWeights(ctx context.Context, epochID uint64, opts domain.ListOpts) ([]domain.ParticipantWeight, error) {
	out := make([]domain.ParticipantWeight, 0, len(s.st.weights[epochID]))
	for _, w := range s.st.weights[epochID] {
		out = append(out, copyWeight(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return paginate(out, opts), nil
}
