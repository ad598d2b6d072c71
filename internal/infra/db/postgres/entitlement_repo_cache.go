package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
	"shopee-video-bot/internal/infra/metrics"
	red "shopee-video-bot/internal/infra/redis"
)

var _ repository.EntitlementRepository = (*entitlementRepoCacheDecorator)(nil)

// entitlementRepoCacheDecorator serves read-only lookups (no tx) from redis.
// Reads inside a transaction always go to Postgres so row locks still apply.
type entitlementRepoCacheDecorator struct {
	inner repository.EntitlementRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewEntitlementRepoCacheDecorator(inner repository.EntitlementRepository, cache red.RedisClient, ttl time.Duration) repository.EntitlementRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &entitlementRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func entitlementKey(userID int64) string {
	return "entitlement:" + strconv.FormatInt(userID, 10)
}

func (d *entitlementRepoCacheDecorator) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.UserEntitlement, error) {
	if tx != nil {
		return d.inner.Get(ctx, tx, userID)
	}
	key := entitlementKey(userID)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var e model.UserEntitlement
		if json.Unmarshal([]byte(val), &e) == nil {
			metrics.IncCacheRequest("entitlement", "hit")
			return &e, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("entitlement", "error")
	}

	metrics.IncCacheRequest("entitlement", "miss")
	e, err := d.inner.Get(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(e); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return e, nil
}

// Writes invalidate before and after so a concurrent read-through cannot
// keep the old row around for a full TTL.
func (d *entitlementRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, e *model.UserEntitlement) error {
	key := entitlementKey(e.UserID)
	_ = d.cache.Del(ctx, key)
	err := d.inner.Upsert(ctx, tx, e)
	_ = d.cache.Del(ctx, key)
	return err
}

func (d *entitlementRepoCacheDecorator) CompareAndSwap(ctx context.Context, tx repository.Tx, expected time.Time, e *model.UserEntitlement) (bool, error) {
	key := entitlementKey(e.UserID)
	_ = d.cache.Del(ctx, key)
	ok, err := d.inner.CompareAndSwap(ctx, tx, expected, e)
	_ = d.cache.Del(ctx, key)
	return ok, err
}

func (d *entitlementRepoCacheDecorator) Count(ctx context.Context, tx repository.Tx) (int, error) {
	return d.inner.Count(ctx, tx)
}

func (d *entitlementRepoCacheDecorator) CountPremium(ctx context.Context, tx repository.Tx, today time.Time) (int, error) {
	return d.inner.CountPremium(ctx, tx, today)
}
