package memory

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

type epochStore struct {
	st *state
}

var _ domain.EpochStore = (*epochStore)(nil)

func (s *epochStore) Create(ctx context.Context, e domain.Epoch) (uint64, error) {
	s.st.epochSeq++
	e.ID = s.st.epochSeq
	s.st.epochs[e.ID] = copyEpoch(e)
	return e.ID, nil
}

func (s *epochStore) Get(ctx context.Context, id uint64) (domain.Epoch, error) {
	e, ok := s.st.epochs[id]
	if !ok {
		return domain.Epoch{}, domain.ErrNotFound
	}
	return copyEpoch(e), nil
}

func (s *epochStore) Latest(ctx context.Context) (domain.Epoch, error) {
	if s.st.epochSeq == 0 {
		return domain.Epoch{}, domain.ErrNotFound
	}
	return s.Get(ctx, s.st.epochSeq)
}

func (s *epochStore) Update(ctx context.Context, e domain.Epoch) error {
	if _, ok := s.st.epochs[e.ID]; !ok {
		return domain.ErrNotFound
	}
	s.st.epochs[e.ID] = copyEpoch(e)
	return nil
}

func (s *epochStore) NextMatchSeq(ctx context.Context, epochID uint64) (int64, error) {
	if _, ok := s.st.epochs[epochID]; !ok {
		return 0, domain.ErrNotFound
	}
	s.st.matchSeq[epochID]++
	return s.st.matchSeq[epochID], nil
}

func (s *epochStore) AddDeposit(ctx context.Context, epochID uint64, token common.Address, amount *big.Int) error {
	if _, ok := s.st.epochs[epochID]; !ok {
		return domain.ErrNotFound
	}
	byToken, ok := s.st.deposits[epochID]
	if !ok {
		byToken = make(map[common.Address]*big.Int)
		s.st.deposits[epochID] = byToken
	}
	cur := byToken[token]
	if cur == nil {
		cur = new(big.Int)
	}
	byToken[token] = new(big.Int).Add(cur, amount)
	return nil
}

func (s *epochStore) Deposits(ctx context.Context, epochID uint64) ([]domain.EpochDeposit, error) {
	byToken := s.st.deposits[epochID]
	out := make([]domain.EpochDeposit, 0, len(byToken))
	for token, amt := range byToken {
		out = append(out, domain.EpochDeposit{EpochID: epochID, Token: token, Amount: copyBig(amt)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token.Hex() < out[j].Token.Hex()
	})
	return out, nil
}
