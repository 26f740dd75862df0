package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the coordination cache backed by github.com/redis/go-redis/v9,
// generalizing the teacher's bare ping-only redisclient.Client into the
// full Cache contract of spec §6.
type Redis struct {
	c *redis.Client
}

// NewRedis creates a Redis-backed Cache from a redis:// URL. Returns an
// error if the URL cannot be parsed.
func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Redis{c: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func (r *Redis) SetAdd(ctx context.Context, key, member string) error {
	return r.c.SAdd(ctx, key, member).Err()
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	return r.c.SMembers(ctx, key).Result()
}

func (r *Redis) SetRemove(ctx context.Context, key, member string) error {
	return r.c.SRem(ctx, key, member).Err()
}

// Info reports a handful of server stats for operability, parsed out of
// the Redis INFO command.
func (r *Redis) Info(ctx context.Context) (map[string]string, error) {
	raw, err := r.c.Info(ctx, "server", "clients", "memory").Result()
	if err != nil {
		return nil, err
	}
	out := map[string]string{"backend": "redis"}
	for _, line := range strings.Split(raw, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "redis_version", "connected_clients", "used_memory_human", "uptime_in_seconds":
			out[parts[0]] = parts[1]
		}
	}
	return out, nil
}

var _ Cache = (*Redis)(nil)
