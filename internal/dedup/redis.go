package dedup

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatflow:dedup:"

// Redis is a guard backed by a shared key-value store, for multi-instance
// deployments. SET NX gives the atomic "exactly one FirstSeen" guarantee.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisWithClient wraps an existing client (tests, custom options).
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) Result {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		log.Printf("dedup: redis unavailable, failing closed: %v", err)
		return Unavailable
	}
	if !ok {
		return Duplicate
	}
	return FirstSeen
}

func (r *Redis) Close() error { return r.client.Close() }
