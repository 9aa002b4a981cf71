package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const generationKey = "pos:report:gen"

// RedisReportCache namespaces entries under a generation counter. Bumping the
// counter orphans all older entries, which then expire on their TTL.
type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisReportCache) slot(ctx context.Context, key string) (Slot, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return Slot(fmt.Sprintf("pos:report:%d:%s", gen, key)), nil
}

// Get reads the current generation once and returns the slot it resolved, so
// a miss can be filled without re-reading the counter.
func (c *RedisReportCache) Get(ctx context.Context, key string, dst any) (Slot, bool, error) {
	slot, err := c.slot(ctx, key)
	if err != nil {
		return "", false, err
	}

	val, err := c.client.Get(ctx, string(slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return slot, false, nil
	}
	if err != nil {
		return slot, false, err
	}

	if err := json.Unmarshal(val, dst); err != nil {
		return slot, false, err
	}
	return slot, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, slot Slot, value any, ttl time.Duration) error {
	if slot == "" || value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, string(slot), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}
