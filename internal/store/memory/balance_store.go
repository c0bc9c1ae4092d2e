package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

type balanceStore struct {
	st *state
}

var _ domain.BalanceStore = (*balanceStore)(nil)

func (s *balanceStore) Add(ctx context.Context, account string, token common.Address, delta *big.Int) error {
	byToken, ok := s.st.balances[account]
	if !ok {
		byToken = make(map[common.Address]*big.Int)
		s.st.balances[account] = byToken
	}
	cur := byToken[token]
	if cur == nil {
		cur = new(big.Int)
	}
	next := new(big.Int).Add(cur, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: account %s has %s, need %s", domain.ErrInsufficientFunds,
			account, cur.String(), new(big.Int).Neg(delta).String())
	}
	byToken[token] = next
	return nil
}

func (s *balanceStore) Move(ctx context.Context, from, to string, token common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative move amount", domain.ErrValidation)
	}
	if err := s.Add(ctx, from, token, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.Add(ctx, to, token, amount)
}

func (s *balanceStore) Get(ctx context.Context, account string, token common.Address) (*big.Int, error) {
	cur := s.st.balances[account][token]
	if cur == nil {
		return new(big.Int), nil
	}
	return copyBig(cur), nil
}

func (s *balanceStore) ListByAccount(ctx context.Context, account string) ([]domain.Balance, error) {
	byToken := s.st.balances[account]
	out := make([]domain.Balance, 0, len(byToken))
	for token, amt := range byToken {
		if amt.Sign() == 0 {
			continue
		}
		out = append(out, domain.Balance{Account: account, Token: token, Amount: copyBig(amt)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Hex() < out[j].Token.Hex() })
	return out, nil
}

func (s *balanceStore) TotalByToken(ctx context.Context, token common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, byToken := range s.st.balances {
		if amt := byToken[token]; amt != nil {
			total.Add(total, amt)
		}
	}
	return total, nil
}
