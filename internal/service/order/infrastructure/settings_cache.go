// internal/service/order/infrastructure/settings_cache.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/order/domain"
)

const settingsCacheKey = "storefront:order_settings"

// SettingsCache 是 SettingsRepository 的 Redis 读穿缓存装饰器。
// 实体存储是唯一可信来源；缓存只是带显式失效的加速层，
// Redis 不可用时降级为直读存储，绝不让缓存故障挡住下单。
type SettingsCache struct {
	inner domain.SettingsRepository
	rdb   *redis.Client
	ttl   time.Duration
}

func NewSettingsCache(inner domain.SettingsRepository, rdb *redis.Client, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SettingsCache{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *SettingsCache) Get(ctx context.Context) (*domain.OrderSettings, error) {
	if raw, err := c.rdb.Get(ctx, settingsCacheKey).Bytes(); err == nil {
		var settings domain.OrderSettings
		if err := json.Unmarshal(raw, &settings); err == nil {
			return &settings, nil
		}
		// 缓存内容损坏，当作未命中
	} else if err != redis.Nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Settings cache read failed, falling back to store")
	}

	settings, err := c.inner.Get(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(settings); err == nil {
		if err := c.rdb.Set(ctx, settingsCacheKey, raw, c.ttl).Err(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Settings cache write failed")
		}
	}
	return settings, nil
}

// Save 写穿存储并立即失效缓存。
func (c *SettingsCache) Save(ctx context.Context, settings *domain.OrderSettings) error {
	if err := c.inner.Save(ctx, settings); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate 显式失效缓存。失败只告警，下次读取会自然过期。
func (c *SettingsCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, settingsCacheKey).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Settings cache invalidation failed")
	}
}
