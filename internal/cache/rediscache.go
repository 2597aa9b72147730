package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is the shared sample tier a Tiered cache falls through to when
// several autoscaler replicas poll the same fleet. It follows the same
// client construction and redis.Nil translation as kvstore.Redis, but for
// a different keyspace: samples are stored as plain decimal strings with
// the TTL carried by SET EX, so this tier owns the float encoding end to
// end.
type Redis struct {
	client *redis.Client
}

// NewRedis dials addr and verifies connectivity before returning.
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Lookup(ctx context.Context, query string) (float64, bool, error) {
	raw, err := r.client.Get(ctx, query).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: lookup %s: %w", query, err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// A corrupt entry is unreadable by every replica; drop it so the
		// next Store replaces it.
		_ = r.client.Del(ctx, query).Err()
		return 0, false, fmt.Errorf("cache: corrupt sample for %s: %w", query, err)
	}
	return value, true, nil
}

func (r *Redis) Store(ctx context.Context, query string, value float64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw := strconv.FormatFloat(value, 'f', -1, 64)
	if err := r.client.Set(ctx, query, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: store %s: %w", query, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
