package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

var ErrCacheMiss = errors.New("profile cache miss")

// RedisCache stores profiles as JSON records under "profile:<id>".
type RedisCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "profile:"}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }

func (c *RedisCache) Get(ctx context.Context, id string) (*entity.Profile, error) {
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var rec entity.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return entity.Parse(rec)
}

func (c *RedisCache) Set(ctx context.Context, p *entity.Profile) error {
	raw, err := json.Marshal(entity.ToRecord(p))
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(p.ID), raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, c.key(id)).Err()
}
