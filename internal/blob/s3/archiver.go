package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/memepit/memepit/internal/domain"
)

// Archiver implements domain.EpochArchiver: it reads a settled epoch's full
// settlement record inside one transaction, serializes it to JSONL, and
// uploads the file to object storage.
//
// The primary store keeps the settled rows; the archive is a cold copy, not a
// migration.
type Archiver struct {
	writer domain.BlobWriter
	tx     domain.TxRunner
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, tx domain.TxRunner) *Archiver {
	return &Archiver{writer: writer, tx: tx}
}

var _ domain.EpochArchiver = (*Archiver)(nil)

// archiveRecord is one JSONL line. Kind discriminates the payload: "epoch",
// "match", "deposit", "weight", or "failed_conversion".
type archiveRecord struct {
	Kind string `json:"kind"`

	// kind == "epoch"
	EpochID         uint64   `json:"epoch_id,omitempty"`
	Status          string   `json:"status,omitempty"`
	SettlementToken string   `json:"settlement_token,omitempty"`
	EligibleTokens  []string `json:"eligible_tokens,omitempty"`
	OpenedAt        string   `json:"opened_at,omitempty"`
	ClosedAt        string   `json:"closed_at,omitempty"`
	SettledAt       string   `json:"settled_at,omitempty"`
	PoolBalance     string   `json:"pool_balance,omitempty"`
	PaidOut         string   `json:"paid_out,omitempty"`
	TotalWeight     string   `json:"total_weight,omitempty"`
	Participants    int64    `json:"participants,omitempty"`
	TotalMatches    int64    `json:"total_matches,omitempty"`

	// kind == "match"
	MatchID       string `json:"match_id,omitempty"`
	Seq           int64  `json:"seq,omitempty"`
	MatchStatus   string `json:"match_status,omitempty"`
	Winner        string `json:"winner,omitempty"`
	Converted     string `json:"converted,omitempty"`
	WinnerShare   string `json:"winner_share,omitempty"`
	ProtocolShare string `json:"protocol_share,omitempty"`
	PoolShare     string `json:"pool_share,omitempty"`
	Legs          []struct {
		Player string `json:"player"`
		Token  string `json:"token"`
		Wager  string `json:"wager"`
	} `json:"legs,omitempty"`

	// kind == "deposit" or "failed_conversion"
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`

	// kind == "weight"
	Participant string `json:"participant,omitempty"`
	Position    int64  `json:"position,omitempty"`
	Weight      string `json:"weight,omitempty"`
	PaidAmount  string `json:"paid_amount,omitempty"`
}

// ArchiveEpoch uploads the settlement record for a settled epoch to
// domain.EpochArchivePath and returns the object path. Epochs that are not
// yet settled fail with ErrInvalidState; the archive and the audit entry
// observe one consistent snapshot because everything is read in a single
// transaction.
func (a *Archiver) ArchiveEpoch(ctx context.Context, epochID uint64) (string, error) {
	path := domain.EpochArchivePath(epochID)

	var buf bytes.Buffer
	err := a.tx.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		epoch, err := uow.Epochs().Get(ctx, epochID)
		if err != nil {
			return fmt.Errorf("s3blob: load epoch %d: %w", epochID, err)
		}
		if epoch.Status != domain.EpochStatusSettled {
			return fmt.Errorf("%w: epoch %d is %s, want settled", domain.ErrInvalidState, epochID, epoch.Status)
		}
		progress, err := uow.Settlements().GetProgress(ctx, epochID)
		if err != nil {
			return fmt.Errorf("s3blob: load settlement progress: %w", err)
		}

		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)

		if err := enc.Encode(epochRecord(epoch, progress)); err != nil {
			return fmt.Errorf("s3blob: encode epoch: %w", err)
		}

		deposits, err := uow.Epochs().Deposits(ctx, epochID)
		if err != nil {
			return fmt.Errorf("s3blob: load deposits: %w", err)
		}
		for _, d := range deposits {
			rec := archiveRecord{Kind: "deposit", Token: d.Token.Hex(), Amount: bigString(d.Amount)}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("s3blob: encode deposit: %w", err)
			}
		}

		matches, err := uow.Matches().ListByEpoch(ctx, epochID, 0, 0)
		if err != nil {
			return fmt.Errorf("s3blob: load matches: %w", err)
		}
		for _, m := range matches {
			if err := enc.Encode(matchRecord(m)); err != nil {
				return fmt.Errorf("s3blob: encode match %s: %w", m.ID, err)
			}
		}

		weights, err := uow.Settlements().ListWeights(ctx, epochID, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("s3blob: load weights: %w", err)
		}
		for _, w := range weights {
			rec := archiveRecord{
				Kind:        "weight",
				Participant: w.Participant.Hex(),
				Position:    w.Position,
				Weight:      bigString(w.Weight),
				PaidAmount:  bigString(w.PaidAmount),
			}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("s3blob: encode weight: %w", err)
			}
		}

		failed, err := uow.FailedConversions().List(ctx, epochID)
		if err != nil {
			return fmt.Errorf("s3blob: load failed conversions: %w", err)
		}
		for _, f := range failed {
			rec := archiveRecord{
				Kind:   "failed_conversion",
				Token:  f.Token.Hex(),
				Amount: bigString(f.Amount),
				Reason: f.Reason,
			}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("s3blob: encode failed conversion: %w", err)
			}
		}

		return uow.Audit().Log(ctx, "epoch.archived", map[string]any{
			"epoch_id": epochID,
			"path":     path,
			"matches":  len(matches),
			"weights":  len(weights),
		})
	})
	if err != nil {
		return "", err
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: upload epoch archive: %w", err)
	}
	return path, nil
}

func epochRecord(e domain.Epoch, p domain.SettlementProgress) archiveRecord {
	rec := archiveRecord{
		Kind:            "epoch",
		EpochID:         e.ID,
		Status:          string(e.Status),
		SettlementToken: p.SettlementToken.Hex(),
		OpenedAt:        e.OpenedAt.UTC().Format(time.RFC3339),
		PoolBalance:     bigString(p.PoolBalance),
		PaidOut:         bigString(p.PaidOut),
		TotalWeight:     bigString(p.TotalWeight),
		Participants:    p.Participants,
		TotalMatches:    p.TotalMatches,
	}
	for _, t := range e.EligibleTokens {
		rec.EligibleTokens = append(rec.EligibleTokens, t.Hex())
	}
	if e.ClosedAt != nil {
		rec.ClosedAt = e.ClosedAt.UTC().Format(time.RFC3339)
	}
	if e.SettledAt != nil {
		rec.SettledAt = e.SettledAt.UTC().Format(time.RFC3339)
	}
	return rec
}

func matchRecord(m domain.Match) archiveRecord {
	rec := archiveRecord{
		Kind:          "match",
		MatchID:       m.ID,
		Seq:           m.Seq,
		MatchStatus:   string(m.Status),
		Converted:     bigString(m.Converted),
		WinnerShare:   bigString(m.WinnerShare),
		ProtocolShare: bigString(m.ProtocolShare),
		PoolShare:     bigString(m.PoolShare),
	}
	if m.Winner != nil {
		rec.Winner = m.Winner.Hex()
	}
	for _, leg := range m.Legs {
		rec.Legs = append(rec.Legs, struct {
			Player string `json:"player"`
			Token  string `json:"token"`
			Wager  string `json:"wager"`
		}{
			Player: leg.Player.Hex(),
			Token:  leg.Token.Hex(),
			Wager:  bigString(leg.Wager),
		})
	}
	return rec
}

// bigString renders a possibly-nil big.Int without allocating a default.
func bigString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}
