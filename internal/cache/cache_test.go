package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/domain"
)

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = buildRedisOptions(config.CacheConfig{RedisHost: "cache", RedisPort: "6380", RedisPassword: "secret", RedisDB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = buildRedisOptions(config.CacheConfig{RedisURL: "redis://:pw@redis.internal:6390/3", RedisHost: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6390", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = buildRedisOptions(config.CacheConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestCacheTTL(t *testing.T) {
	assert.Equal(t, time.Minute, cacheTTL(config.CacheConfig{}))
	assert.Equal(t, 30*time.Second, cacheTTL(config.CacheConfig{DashboardTTLSeconds: 30}))
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "stockrecon:report:top_sold:default", ReportKey("top_sold", nil))
	assert.Equal(t, "stockrecon:report:top_sold:default", ReportKey("top_sold", &domain.ReportFilter{}))

	a := ReportKey("spikes", &domain.ReportFilter{Warehouses: []string{"South", "North"}, Item: "A123"})
	b := ReportKey("spikes", &domain.ReportFilter{Warehouses: []string{"North", "South"}, Item: "A123"})
	c := ReportKey("spikes", &domain.ReportFilter{Warehouses: []string{"North"}, Item: "A123"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, reportKeyPrefix+":spikes:"))
	assert.NotEqual(t, a, ReportKey("transfers", &domain.ReportFilter{Warehouses: []string{"North", "South"}, Item: "A123"}))
}

func TestDisabledCacheIsNoop(t *testing.T) {
	ctx := context.Background()
	c, err := NewReportCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", []int{1}))
	var out []int
	hit, err := c.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Invalidate(ctx))
}
