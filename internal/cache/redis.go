package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens the Redis client used for short-lived markers.
func Connect(ctx context.Context, host, port, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Println("Connected to Redis")
	return rdb, nil
}

// Deduper remembers that something already happened, for ttl.
type Deduper struct {
	rdb    *redis.Client
	prefix string
}

func NewDeduper(rdb *redis.Client, prefix string) *Deduper {
	return &Deduper{rdb: rdb, prefix: prefix}
}

// FirstTime sets key and reports true only for the first caller within ttl.
func (d *Deduper) FirstTime(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Forget removes key so the next FirstTime succeeds again.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, d.prefix+key).Err()
}
