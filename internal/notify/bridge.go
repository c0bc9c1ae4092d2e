package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/memepit/memepit/internal/domain"
)

// bridgeChannels are the signal bus channels the bridge listens on.
var bridgeChannels = []string{"matches", "epochs", "settlement", "vault"}

// eventTitles maps event types to human-readable alert titles. Events without
// an entry fall back to the raw event name.
var eventTitles = map[string]string{
	"match_declared":    "Match Declared",
	"match_funded":      "Stake Deposited",
	"match_active":      "Match Active",
	"match_resolved":    "Match Resolved",
	"match_refunded":    "Match Refunded",
	"epoch_opened":      "Epoch Opened",
	"epoch_closed":      "Epoch Closed",
	"epoch_settled":     "Epoch Settled",
	"conversion_failed": "Pool Conversion Failed",
	"vault_credit":      "Vault Credit",
	"vault_withdraw":    "Vault Withdrawal",
}

// EventBridge subscribes to the engine's signal bus and forwards events to a
// Notifier. It is the only coupling between the event fabric and the operator
// alert channels; services publish without knowing who listens.
type EventBridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewEventBridge creates an EventBridge.
func NewEventBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *EventBridge {
	return &EventBridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_bridge")),
	}
}

// Run subscribes to every engine channel and forwards events until ctx is
// cancelled.
func (b *EventBridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, channel := range bridgeChannels {
		msgs, err := b.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}
		channel := channel
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case payload, ok := <-msgs:
					if !ok {
						return nil
					}
					b.forward(ctx, channel, payload)
				}
			}
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// forward decodes one bus payload and hands it to the notifier. Malformed
// payloads are logged and dropped; alerting is best-effort.
func (b *EventBridge) forward(ctx context.Context, channel string, payload []byte) {
	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		b.logger.WarnContext(ctx, "undecodable event payload",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	event := fields["event"]
	if event == "" {
		return
	}

	title, ok := eventTitles[event]
	if !ok {
		title = event
	}
	if err := b.notifier.Notify(ctx, event, title, formatFields(fields)); err != nil {
		b.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// formatFields renders the payload fields (minus the event type) as stable,
// sorted "key: value" lines.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}
