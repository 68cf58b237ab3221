package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"packshot/internal/infra"
)

// Redis fans enqueue events out over a pub/sub channel so workers in other
// processes wake up.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *infra.Logger
}

// NewRedis connects using a redis:// URL.
func NewRedis(ctx context.Context, url, channel string, logger *infra.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: ping redis: %w", err)
	}
	if channel == "" {
		channel = "packshot:jobs"
	}
	return &Redis{client: client, channel: channel, logger: logger}, nil
}

func (r *Redis) JobEnqueued(ctx context.Context, jobID string) error {
	return r.client.Publish(ctx, r.channel, jobID).Err()
}

// Wake subscribes to the channel until ctx is done.
func (r *Redis) Wake(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := r.client.Subscribe(ctx, r.channel)
	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if r.logger != nil {
					r.logger.Debug().Str("job_id", msg.Payload).Msg("enqueue notification")
				}
				signal(out)
			}
		}
	}()
	return out
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
