package memory

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

type failedConversionStore struct {
	st *state
}

var _ domain.FailedConversionStore = (*failedConversionStore)(nil)

func (s *failedConversionStore) Add(ctx context.Context, epochID uint64, token common.Address, amount *big.Int, reason string) error {
	byToken, ok := s.st.failed[epochID]
	if !ok {
		byToken = make(map[common.Address]domain.FailedConversion)
		s.st.failed[epochID] = byToken
	}
	cur := new(big.Int)
	if f, ok := byToken[token]; ok {
		cur = f.Amount
	}
	byToken[token] = domain.FailedConversion{
		EpochID:   epochID,
		Token:     token,
		Amount:    new(big.Int).Add(cur, amount),
		Reason:    reason,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *failedConversionStore) Get(ctx context.Context, epochID uint64, token common.Address) (domain.FailedConversion, error) {
	f, ok := s.st.failed[epochID][token]
	if !ok {
		return domain.FailedConversion{}, domain.ErrNotFound
	}
	return copyFailed(f), nil
}

func (s *failedConversionStore) List(ctx context.Context, epochID uint64) ([]domain.FailedConversion, error) {
	out := make([]domain.FailedConversion, 0, len(s.st.failed[epochID]))
	for _, f := range s.st.failed[epochID] {
		out = append(out, copyFailed(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Hex() < out[j].Token.Hex() })
	return out, nil
}

func (s *failedConversionStore) Clear(ctx context.Context, epochID uint64, token common.Address) error {
	if _, ok := s.st.failed[epochID][token]; !ok {
		return domain.ErrNotFound
	}
	delete(s.st.failed[epochID], token)
	return nil
}
