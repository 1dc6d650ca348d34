package valuation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	priceKeyPrefix = "cardtrade:price:"

	// unknownPrice маркер отсутствующей цены, чтобы не ходить в источник повторно
	unknownPrice = "-"
)

// RedisCache кэширует цены каталога в Redis
type RedisCache struct {
	client *redis.Client
	source PriceSource
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisCache создает кэш поверх источника цен
func NewRedisCache(client *redis.Client, source PriceSource, ttl time.Duration, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, source: source, ttl: ttl, log: log.Named("price_cache")}
}

// BuildPriceKey строит ключ цены в Redis
func BuildPriceKey(catalogItemID string) string {
	return priceKeyPrefix + catalogItemID
}

// Price возвращает цену из кэша или источника. Ошибки Redis не прерывают оценку.
func (c *RedisCache) Price(ctx context.Context, catalogItemID string) (decimal.Decimal, bool, error) {
	key := BuildPriceKey(catalogItemID)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == unknownPrice {
			return decimal.Zero, false, nil
		}
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return price, true, nil
		}
		c.log.Warn("invalid cached price", zap.String("key", key), zap.Error(parseErr))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
	}

	price, ok, err := c.source.Price(ctx, catalogItemID)
	if err != nil {
		return decimal.Zero, false, err
	}

	value := unknownPrice
	if ok {
		value = price.String()
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
	}
	return price, ok, nil
}

// Invalidate удаляет цену из кэша
func (c *RedisCache) Invalidate(ctx context.Context, catalogItemID string) error {
	return c.client.Del(ctx, BuildPriceKey(catalogItemID)).Err()
}
