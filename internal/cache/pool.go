package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

const (
	poolKey       = "jara:coin_pool"
	poolAlertKey  = "jara:coin_pool:low_alert"
	alertCooldown = 24 * time.Hour
)

// PoolCache shares the last coin pool snapshot between sessions and replicas
// so each refresh does not hit the backend. Cache failures degrade to misses.
type PoolCache struct {
	store Store
	ttl   time.Duration
	log   *logger.Logger
}

// NewPoolCache creates a new pool snapshot cache.
func NewPoolCache(store Store, ttl time.Duration, log *logger.Logger) *PoolCache {
	return &PoolCache{store: store, ttl: ttl, log: log.Component("pool_cache")}
}

// GetPool returns the cached snapshot, if any.
func (p *PoolCache) GetPool(ctx context.Context) (*remote.CoinPool, bool) {
	raw, err := p.store.Get(ctx, poolKey)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to read pool snapshot")
		return nil, false
	}
	if raw == "" {
		return nil, false
	}

	var pool remote.CoinPool
	if err := json.Unmarshal([]byte(raw), &pool); err != nil {
		p.log.Warn().Err(err).Msg("Discarding corrupt pool snapshot")
		_ = p.store.Del(ctx, poolKey)
		return nil, false
	}
	return &pool, true
}

// PutPool stores a fresh snapshot.
func (p *PoolCache) PutPool(ctx context.Context, pool *remote.CoinPool) {
	raw, err := json.Marshal(pool)
	if err != nil {
		return
	}
	if err := p.store.Set(ctx, poolKey, string(raw), p.ttl); err != nil {
		p.log.Warn().Err(err).Msg("Failed to write pool snapshot")
	}
}

// Invalidate drops the snapshot so the next read goes to the backend.
func (p *PoolCache) Invalidate(ctx context.Context) {
	if err := p.store.Del(ctx, poolKey); err != nil {
		p.log.Warn().Err(err).Msg("Failed to invalidate pool snapshot")
	}
}

// ClaimLowPoolAlert reports whether the caller is the first to raise the
// low-pool alert within the cooldown window.
func (p *PoolCache) ClaimLowPoolAlert(ctx context.Context) bool {
	ok, err := p.store.SetNX(ctx, poolAlertKey, "1", alertCooldown)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to claim low pool alert")
		return false
	}
	return ok
}
