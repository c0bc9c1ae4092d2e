package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// Operation locks are short-lived: they only fence one storage transaction.
const opLockTTL = 30 * time.Second

func matchLockKey(id string) string   { return "match:" + id }
func epochLockKey(id uint64) string   { return fmt.Sprintf("epoch:%d", id) }
func accountLockKey(acc string) string { return "account:" + acc }

// DeclareParams describes a new match from the match source.
type DeclareParams struct {
	MatchID string
	EpochID uint64
	PlayerA common.Address
	TokenA  common.Address
	WagerA  *big.Int
	PlayerB common.Address
	TokenB  common.Address
	WagerB  *big.Int
}

// Validate rejects structurally bad declarations before any state is read.
func (p DeclareParams) Validate() error {
	if p.MatchID == "" {
		return fmt.Errorf("%w: empty match id", domain.ErrValidation)
	}
	if p.PlayerA == (common.Address{}) || p.PlayerB == (common.Address{}) {
		return fmt.Errorf("%w: zero player address", domain.ErrValidation)
	}
	if p.PlayerA == p.PlayerB {
		return fmt.Errorf("%w: identical players", domain.ErrValidation)
	}
	if p.TokenA == (common.Address{}) || p.TokenB == (common.Address{}) {
		return fmt.Errorf("%w: zero token address", domain.ErrValidation)
	}
	if p.TokenA == p.TokenB {
		return fmt.Errorf("%w: both wagers in the same token", domain.ErrValidation)
	}
	if p.WagerA == nil || p.WagerA.Sign() <= 0 || p.WagerB == nil || p.WagerB.Sign() <= 0 {
		return fmt.Errorf("%w: wagers must be positive", domain.ErrValidation)
	}
	return nil
}

// EscrowService runs the per-match escrow state machine: declare, fund,
// resolve with conversion and split, or refund. Every operation is one
// atomic unit of work fenced by the match lock.
type EscrowService struct {
	tx       domain.TxRunner
	locks    domain.LockManager
	gate     domain.AccessGate
	bus      domain.SignalBus
	adapters domain.AdapterSet
	decks    domain.DeckVault
	logger   *slog.Logger
}

// NewEscrowService creates an EscrowService with all required dependencies.
func NewEscrowService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	bus domain.SignalBus,
	adapters domain.AdapterSet,
	logger *slog.Logger,
) *EscrowService {
	return &EscrowService{
		tx:       tx,
		locks:    locks,
		gate:     gate,
		bus:      bus,
		adapters: adapters,
		logger:   logger,
	}
}

// WithDeckVault attaches the external locked-deck collaborator. When set,
// both players must hold a locked deck at declare time.
func (s *EscrowService) WithDeckVault(decks domain.DeckVault) *EscrowService {
	s.decks = decks
	return s
}

// Declare creates a pending match inside an open epoch.
func (s *EscrowService) Declare(ctx context.Context, actor domain.Actor, params DeclareParams) (domain.Match, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return domain.Match{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Match{}, err
	}
	unlock, err := s.locks.Acquire(ctx, matchLockKey(params.MatchID), opLockTTL)
	if err != nil {
		return domain.Match{}, fmt.Errorf("escrow_service: lock match %q: %w", params.MatchID, err)
	}
	defer unlock()

	var match domain.Match
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		epoch, err := uow.Epochs().Get(ctx, params.EpochID)
		if err != nil {
			return fmt.Errorf("escrow_service: load epoch %d: %w", params.EpochID, err)
		}
		if epoch.Status != domain.EpochStatusOpen {
			return fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidState, epoch.ID, epoch.Status)
		}
		if !epoch.Eligible(params.TokenA) {
			return fmt.Errorf("%w: %s in epoch %d", domain.ErrTokenNotEligible, params.TokenA.Hex(), epoch.ID)
		}
		if !epoch.Eligible(params.TokenB) {
			return fmt.Errorf("%w: %s in epoch %d", domain.ErrTokenNotEligible, params.TokenB.Hex(), epoch.ID)
		}

		// External deck custody check, when configured.
		if s.decks != nil {
			for _, player := range []common.Address{params.PlayerA, params.PlayerB} {
				ok, err := s.decks.HasLockedDeck(ctx, player)
				if err != nil {
					return fmt.Errorf("escrow_service: deck vault check for %s: %w", player.Hex(), err)
				}
				if !ok {
					return fmt.Errorf("%w: player %s has no locked deck", domain.ErrValidation, player.Hex())
				}
			}
		}

		seq, err := uow.Epochs().NextMatchSeq(ctx, params.EpochID)
		if err != nil {
			return fmt.Errorf("escrow_service: next match seq: %w", err)
		}
		match = domain.Match{
			ID:      params.MatchID,
			EpochID: params.EpochID,
			Seq:     seq,
			Legs: [2]domain.MatchLeg{
				{Player: params.PlayerA, Token: params.TokenA, Wager: params.WagerA},
				{Player: params.PlayerB, Token: params.TokenB, Wager: params.WagerB},
			},
			Status:    domain.MatchStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := uow.Matches().Create(ctx, match); err != nil {
			return fmt.Errorf("escrow_service: create match %q: %w", params.MatchID, err)
		}

		if auditErr := uow.Audit().Log(ctx, "match_declared", map[string]any{
			"match_id": match.ID,
			"epoch_id": match.EpochID,
			"player_a": params.PlayerA.Hex(),
			"player_b": params.PlayerB.Hex(),
			"wager_a":  params.WagerA.String(),
			"wager_b":  params.WagerB.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "escrow_service: audit log failed",
				slog.String("match_id", match.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, err
	}

	s.publish(ctx, map[string]string{
		"event":    "match_declared",
		"match_id": match.ID,
		"epoch_id": fmt.Sprintf("%d", match.EpochID),
	})
	s.logger.InfoContext(ctx, "escrow_service: match declared",
		slog.String("match_id", match.ID),
		slog.Uint64("epoch_id", match.EpochID),
		slog.Int64("seq", match.Seq),
	)
	return match, nil
}

// Deposit moves a player's wager from their vault balance into the match
// escrow. The second funded leg flips the match to active.
func (s *EscrowService) Deposit(ctx context.Context, actor domain.Actor, matchID string, player common.Address) (domain.Match, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return domain.Match{}, err
	}
	unlock, err := s.locks.Acquire(ctx, matchLockKey(matchID), opLockTTL)
	if err != nil {
		return domain.Match{}, fmt.Errorf("escrow_service: lock match %q: %w", matchID, err)
	}
	defer unlock()

	var match domain.Match
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, matchID)
		if err != nil {
			return fmt.Errorf("escrow_service: load match %q: %w", matchID, err)
		}
		if m.Status != domain.MatchStatusPending && m.Status != domain.MatchStatusDepositedOne {
			return fmt.Errorf("%w: match %q is %s", domain.ErrInvalidState, matchID, m.Status)
		}
		leg := m.Leg(player)
		if leg == nil {
			return fmt.Errorf("%w: player %s not in match %q", domain.ErrValidation, player.Hex(), matchID)
		}
		if leg.Deposited {
			return fmt.Errorf("%w: slot for %s already funded", domain.ErrInvalidState, player.Hex())
		}

		if err := uow.Balances().Move(ctx, domain.PlayerAccount(player), domain.EscrowAccount(m.ID), leg.Token, leg.Wager); err != nil {
			return fmt.Errorf("escrow_service: escrow wager: %w", err)
		}
		leg.Deposited = true
		if m.DepositedCount() == 2 {
			m.Status = domain.MatchStatusActive
		} else {
			m.Status = domain.MatchStatusDepositedOne
		}
		if err := uow.Matches().Update(ctx, m); err != nil {
			return fmt.Errorf("escrow_service: update match %q: %w", matchID, err)
		}
		match = m

		if auditErr := uow.Audit().Log(ctx, "match_deposit", map[string]any{
			"match_id": m.ID,
			"player":   player.Hex(),
			"token":    leg.Token.Hex(),
			"amount":   leg.Wager.String(),
			"status":   string(m.Status),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "escrow_service: audit log failed",
				slog.String("match_id", m.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, err
	}

	event := "match_funded"
	if match.Status == domain.MatchStatusActive {
		event = "match_active"
	}
	s.publish(ctx, map[string]string{
		"event":    event,
		"match_id": match.ID,
		"player":   player.Hex(),
	})
	s.logger.InfoContext(ctx, "escrow_service: deposit escrowed",
		slog.String("match_id", match.ID),
		slog.String("player", player.Hex()),
		slog.String("status", string(match.Status)),
	)
	return match, nil
}

// Resolve declares the winner of an active match, converts the loser's
// stake into the winner's token, and splits the proceeds. Any conversion
// failure fails the whole operation with no state change.
func (s *EscrowService) Resolve(ctx context.Context, actor domain.Actor, matchID string, winner common.Address, hint *domain.RouteHint) (domain.Match, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return domain.Match{}, err
	}
	unlock, err := s.locks.Acquire(ctx, matchLockKey(matchID), opLockTTL)
	if err != nil {
		return domain.Match{}, fmt.Errorf("escrow_service: lock match %q: %w", matchID, err)
	}
	defer unlock()

	var match domain.Match
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, matchID)
		if err != nil {
			return fmt.Errorf("escrow_service: load match %q: %w", matchID, err)
		}
		if m.Status != domain.MatchStatusActive {
			return fmt.Errorf("%w: match %q is %s", domain.ErrInvalidState, matchID, m.Status)
		}
		if m.Leg(winner) == nil {
			return fmt.Errorf("%w: winner %s not in match %q", domain.ErrValidation, winner.Hex(), matchID)
		}
		m.Winner = &winner
		winnerLeg, loserLeg := m.WinnerLeg(), m.LoserLeg()

		// The pool share must land in an open epoch; fail before converting.
		epoch, err := uow.Epochs().Get(ctx, m.EpochID)
		if err != nil {
			return fmt.Errorf("escrow_service: load epoch %d: %w", m.EpochID, err)
		}
		if epoch.Status != domain.EpochStatusOpen {
			return fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidState, epoch.ID, epoch.Status)
		}

		binding, err := uow.Adapters().Lookup(ctx, loserLeg.Token, winnerLeg.Token)
		if err != nil {
			return fmt.Errorf("%w: pair %s/%s", domain.ErrNoAdapter, loserLeg.Token.Hex(), winnerLeg.Token.Hex())
		}
		adapter, err := s.adapters.Get(binding.Adapter)
		if err != nil {
			return fmt.Errorf("%w: adapter %q not loaded", domain.ErrNoAdapter, binding.Adapter)
		}

		escrow := domain.EscrowAccount(m.ID)
		if err := uow.Balances().Move(ctx, escrow, domain.AdapterAccount(adapter.Name()), loserLeg.Token, loserLeg.Wager); err != nil {
			return fmt.Errorf("escrow_service: stage conversion input: %w", err)
		}
		converted, err := adapter.Convert(ctx, uow, domain.ConversionRequest{
			From:      loserLeg.Token,
			To:        winnerLeg.Token,
			AmountIn:  loserLeg.Wager,
			MinOut:    new(big.Int),
			Payer:     escrow,
			Recipient: escrow,
			Hint:      hint,
		})
		if err != nil {
			return fmt.Errorf("escrow_service: convert loser stake: %w", err)
		}

		winnerShare, protocolShare, poolShare := domain.SplitProceeds(converted)
		winnerAccount := domain.PlayerAccount(winner)
		if err := uow.Balances().Move(ctx, escrow, winnerAccount, winnerLeg.Token, winnerLeg.Wager); err != nil {
			return fmt.Errorf("escrow_service: return winner stake: %w", err)
		}
		if err := uow.Balances().Move(ctx, escrow, winnerAccount, winnerLeg.Token, winnerShare); err != nil {
			return fmt.Errorf("escrow_service: pay winner share: %w", err)
		}
		if err := uow.Balances().Move(ctx, escrow, domain.TreasuryAccount, winnerLeg.Token, protocolShare); err != nil {
			return fmt.Errorf("escrow_service: pay protocol share: %w", err)
		}
		if err := uow.Balances().Move(ctx, escrow, domain.PoolAccount(m.EpochID), winnerLeg.Token, poolShare); err != nil {
			return fmt.Errorf("escrow_service: pool share transfer: %w", err)
		}
		if err := recordEpochDeposit(ctx, uow, m.EpochID, winnerLeg.Token, poolShare); err != nil {
			return err
		}

		now := time.Now().UTC()
		m.Status = domain.MatchStatusResolved
		m.Converted = converted
		m.WinnerShare = winnerShare
		m.ProtocolShare = protocolShare
		m.PoolShare = poolShare
		m.ResolvedAt = &now
		if err := uow.Matches().Update(ctx, m); err != nil {
			return fmt.Errorf("escrow_service: update match %q: %w", matchID, err)
		}
		match = m

		if auditErr := uow.Audit().Log(ctx, "match_resolved", map[string]any{
			"match_id":       m.ID,
			"epoch_id":       m.EpochID,
			"winner":         winner.Hex(),
			"adapter":        adapter.Name(),
			"converted":      converted.String(),
			"winner_share":   winnerShare.String(),
			"protocol_share": protocolShare.String(),
			"pool_share":     poolShare.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "escrow_service: audit log failed",
				slog.String("match_id", m.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, err
	}

	s.publish(ctx, map[string]string{
		"event":     "match_resolved",
		"match_id":  match.ID,
		"epoch_id":  fmt.Sprintf("%d", match.EpochID),
		"winner":    winner.Hex(),
		"converted": match.Converted.String(),
	})
	s.logger.InfoContext(ctx, "escrow_service: match resolved",
		slog.String("match_id", match.ID),
		slog.String("winner", winner.Hex()),
		slog.String("converted", match.Converted.String()),
		slog.String("pool_share", match.PoolShare.String()),
	)
	return match, nil
}

// Refund returns every deposited wager to its depositor and terminates the
// match. Valid from any non-resolved state; refunding twice fails.
func (s *EscrowService) Refund(ctx context.Context, actor domain.Actor, matchID string) (domain.Match, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleMatchSource); err != nil {
		return domain.Match{}, err
	}
	unlock, err := s.locks.Acquire(ctx, matchLockKey(matchID), opLockTTL)
	if err != nil {
		return domain.Match{}, fmt.Errorf("escrow_service: lock match %q: %w", matchID, err)
	}
	defer unlock()

	var match domain.Match
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, matchID)
		if err != nil {
			return fmt.Errorf("escrow_service: load match %q: %w", matchID, err)
		}
		if m.Status.Terminal() {
			return fmt.Errorf("%w: match %q is %s", domain.ErrInvalidState, matchID, m.Status)
		}

		escrow := domain.EscrowAccount(m.ID)
		for i := range m.Legs {
			leg := &m.Legs[i]
			if !leg.Deposited {
				continue
			}
			if err := uow.Balances().Move(ctx, escrow, domain.PlayerAccount(leg.Player), leg.Token, leg.Wager); err != nil {
				return fmt.Errorf("escrow_service: refund %s: %w", leg.Player.Hex(), err)
			}
		}
		now := time.Now().UTC()
		m.Status = domain.MatchStatusRefunded
		m.RefundedAt = &now
		if err := uow.Matches().Update(ctx, m); err != nil {
			return fmt.Errorf("escrow_service: update match %q: %w", matchID, err)
		}
		match = m

		if auditErr := uow.Audit().Log(ctx, "match_refunded", map[string]any{
			"match_id": m.ID,
			"epoch_id": m.EpochID,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "escrow_service: audit log failed",
				slog.String("match_id", m.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, err
	}

	s.publish(ctx, map[string]string{
		"event":    "match_refunded",
		"match_id": match.ID,
	})
	s.logger.InfoContext(ctx, "escrow_service: match refunded",
		slog.String("match_id", match.ID),
	)
	return match, nil
}

// GetMatch retrieves a single match by id.
func (s *EscrowService) GetMatch(ctx context.Context, id string) (domain.Match, error) {
	var match domain.Match
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		m, err := uow.Matches().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("escrow_service: get match %q: %w", id, err)
		}
		match = m
		return nil
	})
	return match, err
}

// ListMatches returns matches, newest first.
func (s *EscrowService) ListMatches(ctx context.Context, opts domain.ListOpts) ([]domain.Match, error) {
	var matches []domain.Match
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		ms, err := uow.Matches().List(ctx, opts)
		if err != nil {
			return fmt.Errorf("escrow_service: list matches: %w", err)
		}
		matches = ms
		return nil
	})
	return matches, err
}

func (s *EscrowService) publish(ctx context.Context, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "matches", evt); err != nil {
		s.logger.WarnContext(ctx, "escrow_service: publish event failed",
			slog.String("event", payload["event"]),
			slog.String("error", err.Error()),
		)
	}
}
