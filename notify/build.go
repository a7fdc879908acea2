package notify

import (
	"context"
	"log/slog"
	"time"
)

// Options selects the optional sinks. Empty fields leave a sink out.
type Options struct {
	RedisURL      string
	ChannelPrefix string
	KafkaBrokers  []string
	KafkaTopic    string
}

const redisPublishTimeout = 2 * time.Second

// Build assembles the configured sinks behind one Notifier. The log sink is
// always present. The returned func drains and closes every sink.
func Build(ctx context.Context, opts Options, logger *slog.Logger) (Notifier, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := Fanout{Log{Logger: logger}}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if opts.RedisURL != "" {
		client, err := Connect(ctx, opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		r := NewRedis(client, opts.ChannelPrefix, redisPublishTimeout, logger)
		sinks = append(sinks, r)
		closers = append(closers, func() {
			r.Wait()
			_ = client.Close()
		})
	}
	if len(opts.KafkaBrokers) > 0 {
		w, err := NewKafkaWriter(opts.KafkaBrokers, opts.KafkaTopic, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		k := NewKafka(w, logger)
		sinks = append(sinks, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				logger.Warn("close kafka writer", "module", "notify", "error", err)
			}
		})
	}
	return sinks, closeAll, nil
}
