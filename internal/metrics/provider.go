package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Provider returns one aggregate per entity of the given scope over rng.
type Provider interface {
	GetMetrics(ctx context.Context, profileID string, scope models.EntityType, rng models.DateRange) ([]models.EntityMetrics, error)
}

// CachedProvider keeps provider results in redis. Windows end yesterday, so a
// result only changes when the daily import lands; the TTL covers that.
type CachedProvider struct {
	next Provider
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedProvider {
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, log: log}
}

func CacheKey(profileID string, scope models.EntityType, rng models.DateRange) string {
	return fmt.Sprintf("metrics:%s:%s:%s:%s", profileID, scope, rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
}

func (p *CachedProvider) GetMetrics(ctx context.Context, profileID string, scope models.EntityType, rng models.DateRange) ([]models.EntityMetrics, error) {
	if p.rdb == nil || p.ttl <= 0 {
		return p.next.GetMetrics(ctx, profileID, scope, rng)
	}

	key := CacheKey(profileID, scope, rng)
	raw, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []models.EntityMetrics
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		p.log.Warn("dropping unreadable metrics cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		p.log.Warn("metrics cache unavailable", zap.String("key", key), zap.Error(err))
	}

	out, err := p.next.GetMetrics(ctx, profileID, scope, rng)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err == nil {
		if err := p.rdb.Set(ctx, key, data, p.ttl).Err(); err != nil {
			p.log.Warn("failed to cache metrics", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// Invalidate drops every cached window of a profile, e.g. after a metrics import.
func (p *CachedProvider) Invalidate(ctx context.Context, profileID string) error {
	if p.rdb == nil {
		return nil
	}
	iter := p.rdb.Scan(ctx, 0, "metrics:"+profileID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return p.rdb.Del(ctx, keys...).Err()
}
