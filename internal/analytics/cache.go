package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

// Cache stores built reports under a version that every recorded event and
// every catalog edit bumps, so a cached report never outlives its inputs.
type Cache interface {
	Version(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
	Get(ctx context.Context, version int64) (Report, bool, error)
	Put(ctx context.Context, version int64, report Report) error
}

// InvalidateOnChange bumps the cache version whenever an article or category
// is written, since reports carry their titles and category attribution.
func InvalidateOnChange(cache Cache, logger *zap.Logger) content.ChangeHook {
	if logger == nil {
		logger = noOpLogger
	}
	return func(ctx context.Context, entity, id string) {
		if cache == nil || (entity != content.EntityArticle && entity != content.EntityCategory) {
			return
		}
		if err := cache.Bump(ctx); err != nil {
			logger.Warn("analytics cache invalidation failed", zap.String("entity", entity), zap.String("id", id), zap.Error(err))
		}
	}
}

// RedisCache keeps reports in Redis so several API processes share them.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps a connected client. Keys are namespaced by prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("analytics: redis client is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisCache) versionKey() string {
	return c.prefix + ":analytics:version"
}

func (c *RedisCache) reportKey(version int64) string {
	return c.prefix + ":analytics:report:" + strconv.FormatInt(version, 10)
}

func (c *RedisCache) Version(ctx context.Context) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func (c *RedisCache) Bump(ctx context.Context) error {
	return c.client.Incr(ctx, c.versionKey()).Err()
}

func (c *RedisCache) Get(ctx context.Context, version int64) (Report, bool, error) {
	payload, err := c.client.Get(ctx, c.reportKey(version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return Report{}, false, fmt.Errorf("analytics: decode cached report: %w", err)
	}
	return report, true, nil
}

func (c *RedisCache) Put(ctx context.Context, version int64, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.reportKey(version), payload, c.ttl).Err()
}

// MemoryCache keeps the latest report in process.
type MemoryCache struct {
	mu      sync.Mutex
	version int64
	cached  *Report
	stored  int64
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Version(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

func (c *MemoryCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.cached = nil
	return nil
}

func (c *MemoryCache) Get(_ context.Context, version int64) (Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.stored != version {
		return Report{}, false, nil
	}
	return *c.cached, true, nil
}

func (c *MemoryCache) Put(_ context.Context, version int64, report Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.version {
		return nil
	}
	c.cached = &report
	c.stored = version
	return nil
}
