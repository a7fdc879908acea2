// Package notify broadcasts committed exchange events to connected
// clients. Delivery is fire-and-forget: a failed or slow sink is logged and
// never reaches the command that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Notifier is implemented by every sink.
type Notifier interface {
	Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any)
}

// Message is the wire form published to every transport.
type Message struct {
	ExchangeID string         `json:"exchangeId"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	SentAt     time.Time      `json:"sentAt"`
}

func encode(exchangeID, eventType string, payload map[string]any, now time.Time) ([]byte, error) {
	return json.Marshal(Message{ExchangeID: exchangeID, Type: eventType, Payload: payload, SentAt: now})
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

// Log writes events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "exchange event", "module", "notify", "exchange_id", exchangeID, "event", eventType, "payload", payload)
}

// Fanout sends each event to every sink in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, exchangeID, eventType, payload)
		}
	}
}
