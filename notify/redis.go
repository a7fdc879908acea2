package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("notify: parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: ping redis: %w", err)
	}
	return client, nil
}

// Publisher is the part of a Redis client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes each event on "<prefix>:<exchangeID>" so realtime
// gateways can subscribe per exchange.
type Redis struct {
	client  Publisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewRedis(client Publisher, prefix string, timeout time.Duration, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "exchange"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, timeout: timeout, logger: logger.With("module", "notify", "sink", "redis")}
}

// Channel returns the channel events of exchangeID are published on.
func (r *Redis) Channel(exchangeID string) string {
	return r.prefix + ":" + exchangeID
}

func (r *Redis) Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any) {
	body, err := encode(exchangeID, eventType, payload, time.Now().UTC())
	if err != nil {
		r.logger.Error("encode event", "exchange_id", exchangeID, "event", eventType, "error", err)
		return
	}
	// the request context ends with the response; the publish must not
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if err := r.client.Publish(pctx, r.Channel(exchangeID), body).Err(); err != nil {
			r.logger.Warn("publish failed", "exchange_id", exchangeID, "event", eventType, "error", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (r *Redis) Wait() {
	r.wg.Wait()
}
