package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EpochStatus tracks the epoch lifecycle. Transitions are strict and
// irreversible: open -> closed -> settled.
type EpochStatus string

const (
	EpochStatusOpen    EpochStatus = "open"
	EpochStatusClosed  EpochStatus = "closed"
	EpochStatusSettled EpochStatus = "settled"
)

// Epoch is a time-boxed settlement round. Its eligible-token set is
// snapshotted at open and never mutated afterwards; epoch ids increase
// monotonically and are never reused.
type Epoch struct {
	ID              uint64
	Status          EpochStatus
	EligibleTokens  []common.Address
	SettlementToken *common.Address // chosen once at settlement initialization
	OpenedAt        time.Time
	ClosedAt        *time.Time
	SettledAt       *time.Time
}

// Eligible reports whether token is in the epoch's snapshot.
func (e Epoch) Eligible(token common.Address) bool {
	for _, t := range e.EligibleTokens {
		if t == token {
			return true
		}
	}
	return false
}

// EpochDeposit is the accumulated pool contribution for one token in one
// epoch. The funds themselves sit in the epoch's pool vault account.
type EpochDeposit struct {
	EpochID uint64
	Token   common.Address
	Amount  *big.Int
}
