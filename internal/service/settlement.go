package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memepit/memepit/internal/domain"
)

// SettlementService drives the four-phase epoch settlement pipeline:
// initialize, accumulate match weights, convert the pool, distribute
// payouts. Each phase is independently invocable and resumable; progress
// only ever advances, so re-running a phase never double-counts a match or
// double-pays a participant.
type SettlementService struct {
	tx       domain.TxRunner
	locks    domain.LockManager
	gate     domain.AccessGate
	bus      domain.SignalBus
	adapters domain.AdapterSet
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	tx domain.TxRunner,
	locks domain.LockManager,
	gate domain.AccessGate,
	bus domain.SignalBus,
	adapters domain.AdapterSet,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		tx:       tx,
		locks:    locks,
		gate:     gate,
		bus:      bus,
		adapters: adapters,
		logger:   logger,
	}
}

// Initialize starts settlement for a closed epoch, fixing the settlement
// token and snapshotting the total match count.
func (s *SettlementService) Initialize(ctx context.Context, actor domain.Actor, epochID uint64, settlementToken common.Address) (domain.SettlementProgress, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.SettlementProgress{}, err
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return domain.SettlementProgress{}, fmt.Errorf("settlement_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var progress domain.SettlementProgress
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		epoch, err := uow.Epochs().Get(ctx, epochID)
		if err != nil {
			return fmt.Errorf("settlement_service: load epoch %d: %w", epochID, err)
		}
		if epoch.Status != domain.EpochStatusClosed {
			return fmt.Errorf("%w: epoch %d is %s", domain.ErrInvalidState, epochID, epoch.Status)
		}
		if !epoch.Eligible(settlementToken) {
			return fmt.Errorf("%w: settlement token %s in epoch %d", domain.ErrTokenNotEligible, settlementToken.Hex(), epochID)
		}
		if _, err := uow.Settlements().GetProgress(ctx, epochID); err == nil {
			return fmt.Errorf("%w: settlement for epoch %d", domain.ErrAlreadyExists, epochID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("settlement_service: load progress: %w", err)
		}

		total, err := uow.Matches().CountByEpoch(ctx, epochID)
		if err != nil {
			return fmt.Errorf("settlement_service: count matches: %w", err)
		}

		token := settlementToken
		epoch.SettlementToken = &token
		if err := uow.Epochs().Update(ctx, epoch); err != nil {
			return fmt.Errorf("settlement_service: update epoch %d: %w", epochID, err)
		}

		progress = domain.SettlementProgress{
			EpochID:         epochID,
			SettlementToken: settlementToken,
			TotalMatches:    total,
			TotalWeight:     new(big.Int),
			PoolBalance:     new(big.Int),
			PaidOut:         new(big.Int),
			UpdatedAt:       time.Now().UTC(),
		}
		if err := uow.Settlements().CreateProgress(ctx, progress); err != nil {
			return fmt.Errorf("settlement_service: create progress: %w", err)
		}

		if auditErr := uow.Audit().Log(ctx, "settlement_initialized", map[string]any{
			"epoch_id":         epochID,
			"settlement_token": settlementToken.Hex(),
			"total_matches":    total,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.SettlementProgress{}, err
	}

	s.logger.InfoContext(ctx, "settlement_service: settlement initialized",
		slog.Uint64("epoch_id", epochID),
		slog.String("settlement_token", settlementToken.Hex()),
		slog.Int64("total_matches", progress.TotalMatches),
	)
	return progress, nil
}

// AccumulateMatches scans the next batch of at most limit matches in declare
// order, folding winners whose token matches the settlement token into the
// participant weights. A non-positive limit scans everything remaining.
// Fails once every match has already been processed.
func (s *SettlementService) AccumulateMatches(ctx context.Context, actor domain.Actor, epochID uint64, limit int) (domain.SettlementProgress, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.SettlementProgress{}, err
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return domain.SettlementProgress{}, fmt.Errorf("settlement_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var progress domain.SettlementProgress
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		p, err := s.loadProgress(ctx, uow, epochID)
		if err != nil {
			return err
		}
		if p.MatchesDone() {
			return fmt.Errorf("%w: matches for epoch %d already accumulated", domain.ErrInvalidState, epochID)
		}

		matches, err := uow.Matches().ListByEpoch(ctx, epochID, p.ProcessedMatches, limit)
		if err != nil {
			return fmt.Errorf("settlement_service: list matches: %w", err)
		}
		for _, m := range matches {
			if m.Status == domain.MatchStatusResolved {
				leg := m.WinnerLeg()
				if leg != nil && leg.Token == p.SettlementToken {
					if err := s.addWeight(ctx, uow, &p, *m.Winner, leg.Wager); err != nil {
						return err
					}
				}
			}
			p.ProcessedMatches++
		}
		p.UpdatedAt = time.Now().UTC()
		if err := uow.Settlements().UpdateProgress(ctx, p); err != nil {
			return fmt.Errorf("settlement_service: update progress: %w", err)
		}
		progress = p

		if auditErr := uow.Audit().Log(ctx, "settlement_matches_accumulated", map[string]any{
			"epoch_id":     epochID,
			"scanned":      len(matches),
			"processed":    p.ProcessedMatches,
			"total":        p.TotalMatches,
			"participants": p.Participants,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.SettlementProgress{}, err
	}

	s.logger.InfoContext(ctx, "settlement_service: matches accumulated",
		slog.Uint64("epoch_id", epochID),
		slog.Int64("processed", progress.ProcessedMatches),
		slog.Int64("total", progress.TotalMatches),
		slog.Int64("participants", progress.Participants),
	)
	return progress, nil
}

// addWeight folds one winning wager into the participant's weight, creating
// the participant at the next position on first sight.
func (s *SettlementService) addWeight(ctx context.Context, uow domain.UOW, p *domain.SettlementProgress, participant common.Address, wager *big.Int) error {
	w, err := uow.Settlements().GetWeight(ctx, p.EpochID, participant)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.Participants++
		w = domain.ParticipantWeight{
			EpochID:     p.EpochID,
			Participant: participant,
			Position:    p.Participants,
			Weight:      new(big.Int),
		}
	case err != nil:
		return fmt.Errorf("settlement_service: load weight: %w", err)
	}
	w.Weight = new(big.Int).Add(w.Weight, wager)
	if err := uow.Settlements().PutWeight(ctx, w); err != nil {
		return fmt.Errorf("settlement_service: put weight: %w", err)
	}
	p.TotalWeight = new(big.Int).Add(p.TotalWeight, wager)
	return nil
}

// ConvertPool converts every non-settlement-token pool deposit into the
// settlement token. Conversions run per token inside savepoints: a failing
// token is recorded in the failed-conversion ledger with its funds intact in
// the pool account, and the remaining tokens still convert.
func (s *SettlementService) ConvertPool(ctx context.Context, actor domain.Actor, epochID uint64, hint *domain.RouteHint) (domain.SettlementProgress, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.SettlementProgress{}, err
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return domain.SettlementProgress{}, fmt.Errorf("settlement_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var progress domain.SettlementProgress
	var failed []string
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		failed = failed[:0]
		p, err := s.loadProgress(ctx, uow, epochID)
		if err != nil {
			return err
		}
		if !p.MatchesDone() {
			return fmt.Errorf("%w: epoch %d has %d of %d matches accumulated", domain.ErrInvalidState,
				epochID, p.ProcessedMatches, p.TotalMatches)
		}
		if p.Converted {
			return fmt.Errorf("%w: pool for epoch %d already converted", domain.ErrInvalidState, epochID)
		}

		deposits, err := uow.Epochs().Deposits(ctx, epochID)
		if err != nil {
			return fmt.Errorf("settlement_service: load deposits: %w", err)
		}
		pool := new(big.Int).Set(p.PoolBalance)
		poolAccount := domain.PoolAccount(epochID)
		for _, dep := range deposits {
			if dep.Amount.Sign() == 0 {
				continue
			}
			if dep.Token == p.SettlementToken {
				// Already in the settlement token, no conversion needed.
				pool.Add(pool, dep.Amount)
				continue
			}

			var out *big.Int
			convErr := uow.Savepoint(ctx, func(ctx context.Context, inner domain.UOW) error {
				binding, err := inner.Adapters().Lookup(ctx, dep.Token, p.SettlementToken)
				if err != nil {
					return fmt.Errorf("%w: pair %s/%s", domain.ErrNoAdapter, dep.Token.Hex(), p.SettlementToken.Hex())
				}
				adapter, err := s.adapters.Get(binding.Adapter)
				if err != nil {
					return fmt.Errorf("%w: adapter %q not loaded", domain.ErrNoAdapter, binding.Adapter)
				}
				if err := inner.Balances().Move(ctx, poolAccount, domain.AdapterAccount(adapter.Name()), dep.Token, dep.Amount); err != nil {
					return fmt.Errorf("settlement_service: stage conversion input: %w", err)
				}
				out, err = adapter.Convert(ctx, inner, domain.ConversionRequest{
					From:      dep.Token,
					To:        p.SettlementToken,
					AmountIn:  dep.Amount,
					MinOut:    new(big.Int),
					Payer:     poolAccount,
					Recipient: poolAccount,
					Hint:      hint,
				})
				if err != nil {
					return fmt.Errorf("settlement_service: convert pool deposit: %w", err)
				}
				return nil
			})
			if convErr != nil {
				// The savepoint rolled back, so the deposit is untouched in
				// the pool account; record it and keep going.
				if err := uow.FailedConversions().Add(ctx, epochID, dep.Token, dep.Amount, convErr.Error()); err != nil {
					return fmt.Errorf("settlement_service: record failed conversion: %w", err)
				}
				failed = append(failed, dep.Token.Hex())
				s.logger.WarnContext(ctx, "settlement_service: pool conversion failed",
					slog.Uint64("epoch_id", epochID),
					slog.String("token", dep.Token.Hex()),
					slog.String("amount", dep.Amount.String()),
					slog.String("error", convErr.Error()),
				)
				continue
			}
			pool.Add(pool, out)
		}

		p.PoolBalance = pool
		p.Converted = true
		p.UpdatedAt = time.Now().UTC()
		if err := uow.Settlements().UpdateProgress(ctx, p); err != nil {
			return fmt.Errorf("settlement_service: update progress: %w", err)
		}
		progress = p

		if auditErr := uow.Audit().Log(ctx, "settlement_pool_converted", map[string]any{
			"epoch_id":     epochID,
			"pool_balance": pool.String(),
			"failed":       len(failed),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.SettlementProgress{}, err
	}

	for _, token := range failed {
		s.publish(ctx, map[string]string{
			"event":    "conversion_failed",
			"epoch_id": fmt.Sprintf("%d", epochID),
			"token":    token,
		})
	}
	s.logger.InfoContext(ctx, "settlement_service: pool converted",
		slog.Uint64("epoch_id", epochID),
		slog.String("pool_balance", progress.PoolBalance.String()),
		slog.Int("failed_tokens", len(failed)),
	)
	return progress, nil
}

// DistributePayouts pays up to limit unpaid participants in position order.
// Everyone gets floor(weight*pool/totalWeight) except the final participant,
// who receives the exact remainder so payouts sum to the pool balance. When
// the last participant is paid the epoch becomes settled. A non-positive
// limit pays everyone remaining.
func (s *SettlementService) DistributePayouts(ctx context.Context, actor domain.Actor, epochID uint64, limit int) (domain.SettlementProgress, error) {
	if err := s.gate.Require(ctx, actor, domain.RoleEpochController); err != nil {
		return domain.SettlementProgress{}, err
	}
	unlock, err := s.locks.Acquire(ctx, epochLockKey(epochID), opLockTTL)
	if err != nil {
		return domain.SettlementProgress{}, fmt.Errorf("settlement_service: lock epoch %d: %w", epochID, err)
	}
	defer unlock()

	var progress domain.SettlementProgress
	settled := false
	err = s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		p, err := s.loadProgress(ctx, uow, epochID)
		if err != nil {
			return err
		}
		if !p.Converted {
			return fmt.Errorf("%w: pool for epoch %d not converted", domain.ErrInvalidState, epochID)
		}
		if p.FullyPaid {
			return fmt.Errorf("%w: payouts for epoch %d already distributed", domain.ErrInvalidState, epochID)
		}

		unpaid, err := uow.Settlements().ListUnpaid(ctx, epochID, limit)
		if err != nil {
			return fmt.Errorf("settlement_service: list unpaid: %w", err)
		}
		poolAccount := domain.PoolAccount(epochID)
		for _, w := range unpaid {
			var amount *big.Int
			if w.Position == p.Participants {
				// Final participant takes the exact remainder.
				amount = new(big.Int).Sub(p.PoolBalance, p.PaidOut)
			} else {
				amount = domain.PayoutFor(w.Weight, p.PoolBalance, p.TotalWeight)
			}
			if amount.Sign() > 0 {
				if err := uow.Balances().Move(ctx, poolAccount, domain.PlayerAccount(w.Participant), p.SettlementToken, amount); err != nil {
					return fmt.Errorf("settlement_service: pay %s: %w", w.Participant.Hex(), err)
				}
			}
			w.Paid = true
			w.PaidAmount = amount
			if err := uow.Settlements().PutWeight(ctx, w); err != nil {
				return fmt.Errorf("settlement_service: mark paid: %w", err)
			}
			p.PaidParticipants++
			p.PaidOut = new(big.Int).Add(p.PaidOut, amount)
		}

		if p.PaidParticipants == p.Participants {
			p.FullyPaid = true
			settled = true
			epoch, err := uow.Epochs().Get(ctx, epochID)
			if err != nil {
				return fmt.Errorf("settlement_service: load epoch %d: %w", epochID, err)
			}
			now := time.Now().UTC()
			epoch.Status = domain.EpochStatusSettled
			epoch.SettledAt = &now
			if err := uow.Epochs().Update(ctx, epoch); err != nil {
				return fmt.Errorf("settlement_service: settle epoch %d: %w", epochID, err)
			}
		}
		p.UpdatedAt = time.Now().UTC()
		if err := uow.Settlements().UpdateProgress(ctx, p); err != nil {
			return fmt.Errorf("settlement_service: update progress: %w", err)
		}
		progress = p

		if auditErr := uow.Audit().Log(ctx, "settlement_payouts", map[string]any{
			"epoch_id":   epochID,
			"paid":       len(unpaid),
			"paid_total": p.PaidParticipants,
			"paid_out":   p.PaidOut.String(),
			"fully_paid": p.FullyPaid,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", auditErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.SettlementProgress{}, err
	}

	if settled {
		s.publish(ctx, map[string]string{
			"event":    "epoch_settled",
			"epoch_id": fmt.Sprintf("%d", epochID),
			"paid_out": progress.PaidOut.String(),
		})
	}
	s.logger.InfoContext(ctx, "settlement_service: payouts distributed",
		slog.Uint64("epoch_id", epochID),
		slog.Int64("paid_participants", progress.PaidParticipants),
		slog.Int64("participants", progress.Participants),
		slog.Bool("fully_paid", progress.FullyPaid),
	)
	return progress, nil
}

// Progress returns the settlement cursor for an epoch.
func (s *SettlementService) Progress(ctx context.Context, epochID uint64) (domain.SettlementProgress, error) {
	var progress domain.SettlementProgress
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		p, err := uow.Settlements().GetProgress(ctx, epochID)
		if err != nil {
			return fmt.Errorf("settlement_service: get progress for epoch %d: %w", epochID, err)
		}
		progress = p
		return nil
	})
	return progress, err
}

// Weights returns participant weights for an epoch in position order.
func (s *SettlementService) Weights(ctx context.Context, epochID uint64, opts domain.ListOpts) ([]domain.ParticipantWeight, error) {
	var weights []domain.ParticipantWeight
	err := s.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		ws, err := uow.Settlements().ListWeights(ctx, epochID, opts)
		if err != nil {
			return fmt.Errorf("settlement_service: list weights: %w", err)
		}
		weights = ws
		return nil
	})
	return weights, err
}

func (s *SettlementService) loadProgress(ctx context.Context, uow domain.UOW, epochID uint64) (domain.SettlementProgress, error) {
	p, err := uow.Settlements().GetProgress(ctx, epochID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SettlementProgress{}, fmt.Errorf("%w: settlement for epoch %d not initialized", domain.ErrInvalidState, epochID)
	}
	if err != nil {
		return domain.SettlementProgress{}, fmt.Errorf("settlement_service: load progress: %w", err)
	}
	return p, nil
}

func (s *SettlementService) publish(ctx context.Context, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "settlement", evt); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish event failed",
			slog.String("event", payload["event"]),
			slog.String("error", err.Error()),
		)
	}
}
