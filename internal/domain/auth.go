package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Role is the coarse permission grouping for mutating operations. Every
// mutating entry point requires exactly one role.
type Role string

const (
	// RoleAdmin configures tokens, adapters, and pools, and runs recovery
	// sweeps.
	RoleAdmin Role = "admin"
	// RoleEpochController opens and closes epochs and drives settlement.
	RoleEpochController Role = "epoch_controller"
	// RoleMatchSource manages the match lifecycle and player custody on
	// behalf of the game backend.
	RoleMatchSource Role = "match_source"
)

// Actor is an authenticated caller.
type Actor struct {
	ID    string
	Roles []Role
}

// HasRole reports whether the actor carries r.
func (a Actor) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// AccessGate authorizes mutating operations. Implementations own the
// actor-to-role mapping; services only name the single role they need.
// Unauthorized calls fail with ErrUnauthorized and no state change.
type AccessGate interface {
	Require(ctx context.Context, actor Actor, role Role) error
}

// DeckVault is the external locked-deck inventory collaborator. Only the
// eligibility check is visible to this system.
type DeckVault interface {
	HasLockedDeck(ctx context.Context, player common.Address) (bool, error)
}
