package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/domain"
)

const reportKeyPrefix = "stockrecon:report"

// ReportCache stores JSON encoded dashboard query results. A miss is not an
// error.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

type redisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopReportCache struct{}

// NewReportCache connects to redis when caching is enabled and returns a
// no-op cache otherwise.
func NewReportCache(cfg config.CacheConfig) (ReportCache, error) {
	if !cfg.Enabled {
		return noopReportCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisReportCache{client: client, ttl: ttl}, nil
}

func NewNoopReportCache() ReportCache {
	return noopReportCache{}
}

func (c *redisReportCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decode report cache %s: %w", key, err)
	}
	return true, nil
}

func (c *redisReportCache) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode report cache %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate drops every cached report query.
func (c *redisReportCache) Invalidate(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, reportKeyPrefix, scanBatchSize)
}

func (noopReportCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noopReportCache) Set(context.Context, string, any) error         { return nil }
func (noopReportCache) Invalidate(context.Context) error               { return nil }

// ReportKey builds the cache key of one query kind for a filter. Warehouse
// order does not change the key.
func ReportKey(kind string, filter *domain.ReportFilter) string {
	if filter == nil {
		return fmt.Sprintf("%s:%s:default", reportKeyPrefix, kind)
	}

	var parts []string
	if len(filter.Warehouses) > 0 {
		warehouses := slices.Clone(filter.Warehouses)
		slices.Sort(warehouses)
		parts = append(parts, "warehouses="+strings.Join(warehouses, ","))
	}
	if filter.Item != "" {
		parts = append(parts, "item="+filter.Item)
	}
	if filter.Description != "" {
		parts = append(parts, "description="+filter.Description)
	}
	if filter.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(filter.Limit))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s:%s:default", reportKeyPrefix, kind)
	}

	raw := strings.Join(parts, "|")
	hash := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s:%s", reportKeyPrefix, kind, hex.EncodeToString(hash[:]))
}
