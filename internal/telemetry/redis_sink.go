package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"licsrv/pkg/contracts/events"
)

const redisKeyPrefix = "telemetry:"

// RedisSink keeps one hash per email per day, telemetry:{day}:{email}, whose
// fields are counters. Keys expire after the retention TTL so no pruning is
// needed.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisSink creates a sink on client. The sink closes the client on Close.
func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

// RedisKey returns the hash key an event is counted under.
func RedisKey(ev events.Event) string {
	return redisKeyPrefix + dayKey(ev) + ":" + ev.NormalizedEmail()
}

func (s *RedisSink) Record(ctx context.Context, ev events.Event) error {
	key := RedisKey(ev)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, counterField(ev), 1)
		if ev.Kind == events.KindPluginUse {
			p.HIncrBy(ctx, key, "total_plugin_uses", 1)
		}
		if ev.DeviceID != "" {
			p.HSet(ctx, key, "device_id", ev.DeviceID)
		}
		p.HSet(ctx, key, "last_activity", ev.OccurredAt.UTC().Format(time.RFC3339))
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record telemetry in redis: %w", err)
	}
	return nil
}

func (s *RedisSink) Close(context.Context) error {
	return s.client.Close()
}
