package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MatchStatus tracks the escrow lifecycle of a match.
type MatchStatus string

const (
	MatchStatusPending      MatchStatus = "pending"
	MatchStatusDepositedOne MatchStatus = "deposited_one"
	MatchStatusActive       MatchStatus = "active"
	MatchStatusResolved     MatchStatus = "resolved"
	MatchStatusRefunded     MatchStatus = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusResolved || s == MatchStatusRefunded
}

// Proceeds split applied on resolve, in basis points. The integer remainder
// of the split always lands in the pool share so the parts sum exactly.
const (
	WinnerShareBps   = 6900
	ProtocolShareBps = 100
	BpsDenominator   = 10000
)

// MatchLeg is one player's side of a wager.
type MatchLeg struct {
	Player    common.Address
	Token     common.Address
	Wager     *big.Int
	Deposited bool
}

// Match is a paired wager between two players, possibly in different tokens.
// A resolved match is immutable and retained as the settlement record.
type Match struct {
	ID      string
	EpochID uint64
	Seq     int64 // per-epoch declare order; settlement scans in this order
	Legs    [2]MatchLeg
	Status  MatchStatus
	Winner  *common.Address

	// Resolution record, set once on resolve.
	Converted     *big.Int
	WinnerShare   *big.Int
	ProtocolShare *big.Int
	PoolShare     *big.Int

	CreatedAt  time.Time
	ResolvedAt *time.Time
	RefundedAt *time.Time
}

// Leg returns the leg belonging to player, or nil.
func (m *Match) Leg(player common.Address) *MatchLeg {
	for i := range m.Legs {
		if m.Legs[i].Player == player {
			return &m.Legs[i]
		}
	}
	return nil
}

// WinnerLeg returns the winning player's leg once a winner is set.
func (m *Match) WinnerLeg() *MatchLeg {
	if m.Winner == nil {
		return nil
	}
	return m.Leg(*m.Winner)
}

// LoserLeg returns the losing player's leg once a winner is set.
func (m *Match) LoserLeg() *MatchLeg {
	if m.Winner == nil {
		return nil
	}
	for i := range m.Legs {
		if m.Legs[i].Player != *m.Winner {
			return &m.Legs[i]
		}
	}
	return nil
}

// DepositedCount returns how many legs have been funded.
func (m *Match) DepositedCount() int {
	n := 0
	for i := range m.Legs {
		if m.Legs[i].Deposited {
			n++
		}
	}
	return n
}

// SplitProceeds divides a converted amount into winner, protocol, and pool
// shares per the fixed policy. winner+protocol+pool == amount always holds;
// rounding dust goes to the pool.
func SplitProceeds(amount *big.Int) (winner, protocol, pool *big.Int) {
	den := big.NewInt(BpsDenominator)
	winner = new(big.Int).Mul(amount, big.NewInt(WinnerShareBps))
	winner.Quo(winner, den)
	protocol = new(big.Int).Mul(amount, big.NewInt(ProtocolShareBps))
	protocol.Quo(protocol, den)
	pool = new(big.Int).Sub(amount, winner)
	pool.Sub(pool, protocol)
	return winner, protocol, pool
}
