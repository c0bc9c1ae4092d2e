package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/store/memory"
)

// captureWriter records uploads in memory.
type captureWriter struct {
	path        string
	contentType string
	data        []byte
}

func (w *captureWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path, w.contentType, w.data = path, contentType, buf
	return nil
}

func (w *captureWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "")
}

func TestArchiveEpoch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	doge := common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice := common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob := common.HexToAddress("0xb000000000000000000000000000000000000002")

	now := time.Now().UTC()
	var epochID uint64
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		var err error
		epochID, err = uow.Epochs().Create(ctx, domain.Epoch{
			Status:         domain.EpochStatusSettled,
			EligibleTokens: []common.Address{doge},
			OpenedAt:       now.Add(-time.Hour),
			ClosedAt:       &now,
			SettledAt:      &now,
		})
		if err != nil {
			return err
		}
		if err := uow.Epochs().AddDeposit(ctx, epochID, doge, big.NewInt(90)); err != nil {
			return err
		}
		if err := uow.Matches().Create(ctx, domain.Match{
			ID:      "m-1",
			EpochID: epochID,
			Seq:     1,
			Status:  domain.MatchStatusResolved,
			Winner:  &alice,
			Legs: [2]domain.MatchLeg{
				{Player: alice, Token: doge, Wager: big.NewInt(100), Deposited: true},
				{Player: bob, Token: doge, Wager: big.NewInt(100), Deposited: true},
			},
			Converted:     big.NewInt(100),
			WinnerShare:   big.NewInt(69),
			ProtocolShare: big.NewInt(1),
			PoolShare:     big.NewInt(30),
			CreatedAt:     now.Add(-time.Hour),
			ResolvedAt:    &now,
		}); err != nil {
			return err
		}
		if err := uow.Settlements().CreateProgress(ctx, domain.SettlementProgress{
			EpochID:          epochID,
			SettlementToken:  doge,
			TotalMatches:     1,
			ProcessedMatches: 1,
			Participants:     2,
			TotalWeight:      big.NewInt(200),
			Converted:        true,
			PoolBalance:      big.NewInt(90),
			PaidParticipants: 2,
			PaidOut:          big.NewInt(90),
			FullyPaid:        true,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
		if err := uow.Settlements().PutWeight(ctx, domain.ParticipantWeight{
			EpochID: epochID, Participant: alice, Position: 1,
			Weight: big.NewInt(100), Paid: true, PaidAmount: big.NewInt(45),
		}); err != nil {
			return err
		}
		return uow.Settlements().PutWeight(ctx, domain.ParticipantWeight{
			EpochID: epochID, Participant: bob, Position: 2,
			Weight: big.NewInt(100), Paid: true, PaidAmount: big.NewInt(45),
		})
	}))

	writer := &captureWriter{}
	archiver := NewArchiver(writer, store)

	path, err := archiver.ArchiveEpoch(ctx, epochID)
	require.NoError(t, err)
	assert.Equal(t, writer.path, path)
	assert.Contains(t, path, "settlement.jsonl")
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	lines := strings.Split(strings.TrimSpace(string(writer.data)), "\n")
	// 1 epoch + 1 deposit + 1 match + 2 weights.
	require.Len(t, lines, 5)

	var head archiveRecord
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(lines[0]))).Decode(&head))
	assert.Equal(t, "epoch", head.Kind)
	assert.Equal(t, epochID, head.EpochID)
	assert.Equal(t, "90", head.PoolBalance)
	assert.Equal(t, "90", head.PaidOut)

	kinds := map[string]int{}
	for _, line := range lines {
		var rec archiveRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		kinds[rec.Kind]++
	}
	assert.Equal(t, map[string]int{"epoch": 1, "deposit": 1, "match": 1, "weight": 2}, kinds)

	// Audit entry recorded alongside.
	var entries []domain.AuditEntry
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		var err error
		entries, err = uow.Audit().List(ctx, domain.ListOpts{})
		return err
	}))
	require.NotEmpty(t, entries)
	assert.Equal(t, "epoch.archived", entries[0].Event)
}

func TestArchiveEpochRequiresSettled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var epochID uint64
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, uow domain.UOW) error {
		var err error
		epochID, err = uow.Epochs().Create(ctx, domain.Epoch{
			Status:   domain.EpochStatusOpen,
			OpenedAt: time.Now(),
		})
		return err
	}))

	archiver := NewArchiver(&captureWriter{}, store)
	_, err := archiver.ArchiveEpoch(ctx, epochID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
