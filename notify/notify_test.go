package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) Notify(_ context.Context, exchangeID, eventType string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, exchangeID+"/"+eventType)
}

func TestFanout_SkipsNilSinks(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b, Nop{}}.Notify(context.Background(), "ex-1", "TERMS_AGREED", nil)
	if len(a.calls) != 1 || len(b.calls) != 1 || a.calls[0] != "ex-1/TERMS_AGREED" {
		t.Fatalf("unexpected calls a=%v b=%v", a.calls, b.calls)
	}
}

func TestLog_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	Log{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}.Notify(context.Background(), "ex-1", "DISPUTE_RESOLVED", map[string]any{"has_dispute": false})
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["exchange_id"] != "ex-1" || rec["event"] != "DISPUTE_RESOLVED" {
		t.Fatalf("unexpected record %v", rec)
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	bodies   [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.bodies = append(f.bodies, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedis_PublishesPerExchangeChannel(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRedis(pub, "barter", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Notify(ctx, "ex-7", "EXCHANGE_ACCEPTED", map[string]any{"both_accepted": true})
	cancel()
	r.Wait()

	if len(pub.channels) != 1 || pub.channels[0] != "barter:ex-7" {
		t.Fatalf("unexpected channels %v", pub.channels)
	}
	var msg Message
	if err := json.Unmarshal(pub.bodies[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ExchangeID != "ex-7" || msg.Type != "EXCHANGE_ACCEPTED" || msg.Payload["both_accepted"] != true {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestRedis_FailureIsLoggedOnly(t *testing.T) {
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("connection refused")}
	r := NewRedis(pub, "", 0, slog.New(slog.NewTextHandler(&buf, nil)))
	r.Notify(context.Background(), "ex-1", "TERMS_EDITED", nil)
	r.Wait()
	if !strings.Contains(buf.String(), "publish failed") || pub.channels[0] != "exchange:ex-1" {
		t.Fatalf("expected logged failure on default channel, got %q %v", buf.String(), pub.channels)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_KeysByExchange(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w, nil)
	k.Notify(context.Background(), "ex-3", "SESSION_COMPLETED", nil)
	if err := k.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "ex-3" || !w.closed {
		t.Fatalf("unexpected writes %+v closed=%v", w.msgs, w.closed)
	}
	if h := w.msgs[0].Headers; len(h) != 1 || string(h[0].Value) != "SESSION_COMPLETED" {
		t.Fatalf("unexpected headers %+v", h)
	}
}

func TestNewKafkaWriter_Validation(t *testing.T) {
	if _, err := NewKafkaWriter(nil, "events", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaWriter([]string{"localhost:9092"}, "", nil); err == nil {
		t.Fatal("expected error without topic")
	}
	w, err := NewKafkaWriter([]string{"localhost:9092"}, "exchange-events", nil)
	if err != nil || !w.Async || w.Topic != "exchange-events" {
		t.Fatalf("unexpected writer %+v err=%v", w, err)
	}
}
