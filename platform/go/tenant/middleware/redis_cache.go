package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

const defaultKeyPrefix = "schoolspace:space:"

// RedisCache shares resolved spaces between API replicas.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

type redisEntry struct {
	TenantID   int64  `json:"tenantId"`
	Code       string `json:"code"`
	SchemaName string `json:"schemaName"`
	Status     string `json:"status"`
}

// NewRedisCache connects to url (redis://...) and verifies connectivity.
func NewRedisCache(ctx context.Context, url string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, prefix: defaultKeyPrefix, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (tenant.Space, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("space cache read failed", zap.String("key", key), zap.Error(err))
		}
		return tenant.Space{}, false
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("space cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return tenant.Space{}, false
	}
	// Entries are revalidated; a tampered namespace never reaches search_path.
	ns, err := sqlident.Parse(entry.SchemaName)
	if err != nil {
		c.logger.Warn("space cache entry has invalid namespace", zap.String("key", key), zap.Error(err))
		return tenant.Space{}, false
	}

	return tenant.Space{TenantID: entry.TenantID, Code: entry.Code, SchemaName: ns, Status: entry.Status}, true
}

func (c *RedisCache) Set(ctx context.Context, key string, space tenant.Space, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(redisEntry{
		TenantID:   space.TenantID,
		Code:       space.Code,
		SchemaName: space.SchemaName.String(),
		Status:     space.Status,
	})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("space cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops a cached principal, e.g. after its school was suspended.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
