package fakes

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"skillbarter/timeline"
)

// History records appended timeline events in memory.
type History struct {
	mu     sync.Mutex
	events []timeline.Event
}

func (h *History) Append(_ context.Context, _ pgx.Tx, exchangeID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := timeline.Event{
		ID:         int64(len(h.events) + 1),
		ExchangeID: exchangeID,
		Type:       eventType,
		Payload:    body,
		CreatedAt:  time.Now().UTC(),
	}
	if actorID != "" {
		ev.ActorID = &actorID
	}
	for _, prev := range h.events {
		if prev.ExchangeID == exchangeID {
			ev.Seq = prev.Seq
		}
	}
	ev.Seq++
	h.events = append(h.events, ev)
	return nil
}

func (h *History) List(_ context.Context, exchangeID string) ([]timeline.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]timeline.Event, 0)
	for _, ev := range h.events {
		if ev.ExchangeID == exchangeID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Types lists the event types recorded for exchangeID in order.
func (h *History) Types(exchangeID string) []string {
	events, _ := h.List(context.Background(), exchangeID)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// Notifier records notifications.
type Notifier struct {
	mu    sync.Mutex
	Calls []Notification
}

// Notification is one recorded Notify call.
type Notification struct {
	ExchangeID string
	EventType  string
	Payload    map[string]any
}

func (n *Notifier) Notify(_ context.Context, exchangeID, eventType string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls = append(n.Calls, Notification{ExchangeID: exchangeID, EventType: eventType, Payload: payload})
}

// Count returns how many notifications of eventType were sent.
func (n *Notifier) Count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.Calls {
		if call.EventType == eventType {
			c++
		}
	}
	return c
}
