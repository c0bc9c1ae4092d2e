package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementProgress is the resumable cursor state for one epoch's
// settlement. Created by phase 1; every field only advances toward
// completion across invocations.
type SettlementProgress struct {
	EpochID          uint64
	SettlementToken  common.Address
	TotalMatches     int64 // snapshot taken at initialization
	ProcessedMatches int64
	Participants     int64
	TotalWeight      *big.Int
	Converted        bool
	PoolBalance      *big.Int // settlement-token units gathered by phase 3
	PaidParticipants int64
	PaidOut          *big.Int
	FullyPaid        bool
	UpdatedAt        time.Time
}

// MatchesDone reports whether phase 2 has scanned every match.
func (p SettlementProgress) MatchesDone() bool {
	return p.ProcessedMatches >= p.TotalMatches
}

// ParticipantWeight is one participant's accumulated payout weight within an
// epoch. Position is the first-seen order during the match scan and fixes
// the payout order; Paid flips exactly once.
type ParticipantWeight struct {
	EpochID     uint64
	Participant common.Address
	Position    int64
	Weight      *big.Int
	Paid        bool
	PaidAmount  *big.Int
}

// FailedConversion records pool funds a settlement conversion could not
// place, scoped per epoch and token. The tokens remain in the epoch's pool
// account until an administrative sweep moves them out and clears the entry.
type FailedConversion struct {
	EpochID   uint64
	Token     common.Address
	Amount    *big.Int
	Reason    string
	UpdatedAt time.Time
}

// PayoutFor computes floor(weight * poolBalance / totalWeight). The final
// participant of an epoch is paid the exact remainder instead, so the sum of
// payouts always equals the pool balance.
func PayoutFor(weight, poolBalance, totalWeight *big.Int) *big.Int {
	if totalWeight == nil || totalWeight.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(weight, poolBalance)
	return out.Quo(out, totalWeight)
}
