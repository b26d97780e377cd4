package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// RedisClient is the part of *redis.Client used by the Redis sink.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis keeps the latest stream documents under {prefix}:{vin}:{stream} and
// announces every update on a channel.
type Redis struct {
	client  RedisClient
	closer  func() error
	prefix  string
	channel string
	ttl     time.Duration
}

var _ Sink = (*Redis)(nil)

// NewRedis connects to the server in opts and pings it.
func NewRedis(ctx context.Context, opts *options.RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.Database,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("Connected to Redis", "addr", opts.Addr, "db", opts.Database)

	r := NewRedisWithClient(rdb, opts.KeyPrefix, opts.Channel, opts.TTL)
	r.closer = rdb.Close
	return r, nil
}

// NewRedisWithClient uses an existing client.
func NewRedisWithClient(client RedisClient, prefix, channel string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, channel: channel, ttl: ttl}
}

func (r *Redis) Name() string { return "redis" }

// Key returns the state key of stream for vin.
func (r *Redis) Key(vin, stream string) string {
	return r.prefix + ":" + vin + ":" + stream
}

func (r *Redis) Notify(ctx context.Context, u poller.Update) error {
	switch u.Outcome {
	case poller.OutcomeUpdated:
		if err := r.set(ctx, r.Key(u.VIN, string(u.Stream)), NewStreamMessage(u)); err != nil {
			return err
		}
	case poller.OutcomeCommand:
		if u.Command != nil {
			if err := r.set(ctx, r.Key(u.VIN, "command:"+string(u.Command.Command)), u.Command); err != nil {
				return err
			}
		}
	}

	if r.channel == "" {
		return nil
	}
	msg, err := json.Marshal(NewEventMessage(u))
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool when the sink owns it.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
