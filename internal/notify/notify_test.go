package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memepit/memepit/internal/store/memory"
)

// recordingSender captures everything delivered to it.
type recordingSender struct {
	mu     sync.Mutex
	titles []string
	fail   bool
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.titles))
	copy(out, r.titles)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"epoch_settled"}, testLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, "match_declared", "Match Declared", ""))
	require.NoError(t, n.Notify(ctx, "epoch_settled", "Epoch Settled", ""))

	assert.Equal(t, []string{"Epoch Settled"}, rec.got())
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "Anything", ""))
	assert.Equal(t, []string{"Anything"}, rec.got())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{fail: true}
	n := NewNotifier([]Sender{bad, ok}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "T", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	// A failing sender does not block delivery to the others.
	assert.Equal(t, []string{"T"}, ok.got())
}

func TestEventBridgeForwardsBusEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, testLogger())
	bridge := NewEventBridge(bus, n, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	// Give the bridge a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)

	payload, err := json.Marshal(map[string]string{
		"event":    "epoch_settled",
		"epoch_id": "7",
		"paid_out": "1337",
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "settlement", payload))

	require.Eventually(t, func() bool {
		got := rec.got()
		return len(got) == 1 && got[0] == "Epoch Settled"
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestFormatFields(t *testing.T) {
	out := formatFields(map[string]string{
		"event":    "match_resolved",
		"match_id": "m-1",
		"epoch_id": "3",
	})
	assert.Equal(t, "epoch_id: 3\nmatch_id: m-1", out)
}
