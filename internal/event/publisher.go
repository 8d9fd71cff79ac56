// Package event publishes pool engine events to NATS JetStream for
// downstream consumers (market/treasury services, indexers). Publishing is
// best-effort: a failed publish is logged, never propagated into the
// triggering trade.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Event types emitted by the engine.
const (
	TypePoolCreated      = "pool_created"
	TypeTrade            = "trade"
	TypeLiquidityAdded   = "liquidity_added"
	TypeLiquidityRemoved = "liquidity_removed"
)

// Event is the outbound envelope. Subjects follow the pattern
// amm.events.{type}.{market_id}.
type Event struct {
	Type      string    `json:"type"`
	MarketID  string    `json:"market_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// NATSPublisher publishes events to a JetStream stream.
type NATSPublisher struct {
	js jetstream.JetStream
}

// NewNATSPublisher wraps a JetStream context.
func NewNATSPublisher(js jetstream.JetStream) *NATSPublisher {
	return &NATSPublisher{js: js}
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "AMM_EVENTS",
		Subjects:  []string{"amm.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("event marshal failed", "type", evt.Type, "err", err)
		return
	}

	subject := fmt.Sprintf("amm.events.%s.%s", evt.Type, evt.MarketID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		// Non-fatal: consumers can rebuild from the trade ledger.
		slog.Warn("event publish failed", "subject", subject, "err", err)
	}
}
