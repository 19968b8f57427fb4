// Package coins is the single authority for coin balance changes as seen by a
// device session. Guests get a bounded local simulation; members delegate every
// grant to the idempotent earn procedure and mirror what it returns.
package coins

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jara-app/rewards-gateway/internal/cache"
	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/identity"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/rewards"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Mode is the capability the engine uses for the current identity.
type Mode string

// Modes.
const (
	ModeSimulate Mode = "simulate"
	ModeDelegate Mode = "delegate"
)

// Snapshot is the coin runtime state of a session.
type Snapshot struct {
	Mode            Mode            `json:"mode"`
	UserCoins       int             `json:"userCoins"`
	GlobalRemaining int             `json:"globalRemaining"`
	TotalCoins      int             `json:"totalCoins"`
	Events          []rewards.Event `json:"events"`
}

// earnCall is one earn attempt after validation.
type earnCall struct {
	base      int
	source    remote.SourceType
	reason    string
	contentID string
}

// capability computes how many coins an earn grants. It never touches engine
// state; the engine applies the result.
type capability interface {
	mode() Mode
	grant(ctx context.Context, c earnCall) (int, bool)
}

// Engine owns userCoins and the local mirror of the global pool.
type Engine struct {
	cell  *identity.Cell
	data  remote.Data
	pool  *cache.PoolCache
	queue *rewards.Queue
	cfg   *config.EconomyConfig
	log   *logger.Logger

	flight singleflight.Group

	mu              sync.Mutex
	userCoins       int
	globalRemaining int
	totalCoins      int
}

// NewEngine creates a coin engine. pool may be nil to always read the backend.
func NewEngine(
	cell *identity.Cell,
	data remote.Data,
	pool *cache.PoolCache,
	queue *rewards.Queue,
	cfg *config.EconomyConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cell:            cell,
		data:            data,
		pool:            pool,
		queue:           queue,
		cfg:             cfg,
		log:             log.Component("coins"),
		globalRemaining: cfg.TotalSupply,
		totalCoins:      cfg.TotalSupply,
	}
}

// capability picks the mode from the identity present right now.
func (e *Engine) capability() capability {
	if id := e.cell.Load(); id != nil && id.UserID != "" {
		return delegate{engine: e, id: *id}
	}
	return simulate{min: e.cfg.GuestMinReward, max: e.cfg.GuestMaxReward}
}

// Mode reports the capability in effect for the current identity.
func (e *Engine) Mode() Mode {
	return e.capability().mode()
}

// Earn requests a grant of base coins for source and returns what was actually
// granted. Zero means nothing was granted; failures are logged, never returned.
func (e *Engine) Earn(ctx context.Context, base int, source remote.SourceType, reason, contentID string) int {
	if !source.Valid() {
		e.log.Warn().Str("source", string(source)).Msg("Ignoring earn with unknown source")
		return 0
	}

	capab := e.capability()
	granted, ok := capab.grant(ctx, earnCall{base: base, source: source, reason: reason, contentID: contentID})
	if !ok || granted <= 0 {
		return 0
	}

	e.mu.Lock()
	e.userCoins += granted
	if capab.mode() == ModeDelegate {
		e.globalRemaining -= granted
		if e.globalRemaining < 0 {
			e.globalRemaining = 0
		}
		prommetrics.SetCoinPoolRemaining(e.globalRemaining)
	}
	e.mu.Unlock()

	prommetrics.RecordCoinsEarned(string(source), string(capab.mode()), granted)
	e.queue.Push(granted, reason)
	return granted
}

// Spend checks whether the current member can afford amount. It never changes
// the balance: the debit happens inside the remote tip or boost, after which
// the caller refreshes.
func (e *Engine) Spend(amount int, reason string) bool {
	if e.cell.IsGuest() {
		prommetrics.RecordSpendCheck("guest")
		return false
	}
	if amount <= 0 {
		prommetrics.RecordSpendCheck("invalid")
		return false
	}

	e.mu.Lock()
	ok := e.userCoins >= amount
	e.mu.Unlock()

	if !ok {
		prommetrics.RecordSpendCheck("insufficient")
		e.log.Debug().Int("amount", amount).Str("reason", reason).Msg("Spend check failed")
		return false
	}
	prommetrics.RecordSpendCheck("ok")
	return true
}

// Refresh re-reads the global pool counters. It never touches userCoins.
// Concurrent refreshes share one backend read.
func (e *Engine) Refresh(ctx context.Context) {
	v, err, _ := e.flight.Do("pool", func() (interface{}, error) {
		return e.readPool(ctx)
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to refresh coin pool")
		return
	}
	e.applyPool(v.(*remote.CoinPool))
}

// InvalidatePool drops any shared snapshot so the next refresh reads the backend.
func (e *Engine) InvalidatePool(ctx context.Context) {
	if e.pool != nil {
		e.pool.Invalidate(ctx)
	}
}

func (e *Engine) readPool(ctx context.Context) (*remote.CoinPool, error) {
	if e.pool != nil {
		if p, ok := e.pool.GetPool(ctx); ok {
			return p, nil
		}
	}

	callCtx, cancel := context.WithTimeout(e.cell.Context(ctx), e.cfg.RemoteTimeout())
	defer cancel()
	p, err := e.data.GetCoinPool(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get coin pool: %w", err)
	}
	if e.pool != nil {
		e.pool.PutPool(ctx, p)
	}
	return p, nil
}

func (e *Engine) applyPool(p *remote.CoinPool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := p.Total
	if total < 0 {
		total = 0
	}
	remaining := p.Remaining
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	e.totalCoins = total
	e.globalRemaining = remaining
	prommetrics.SetCoinPoolRemaining(remaining)
}

// SyncProfile mirrors the member balance. A nil profile (sign-out) keeps the
// last known balance.
func (e *Engine) SyncProfile(p *remote.Profile) {
	if p == nil {
		return
	}
	coins := p.Coins
	if coins < 0 {
		coins = 0
	}
	e.mu.Lock()
	e.userCoins = coins
	e.mu.Unlock()
}

// DismissCoinEvent removes one coin notification. Unknown ids are a no-op.
func (e *Engine) DismissCoinEvent(id string) bool {
	return e.queue.Dismiss(id)
}

// Snapshot returns the current coin state.
func (e *Engine) Snapshot() Snapshot {
	mode := e.Mode()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Mode:            mode,
		UserCoins:       e.userCoins,
		GlobalRemaining: e.globalRemaining,
		TotalCoins:      e.totalCoins,
		Events:          e.queue.Events(),
	}
}

// Balance returns userCoins.
func (e *Engine) Balance() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userCoins
}
