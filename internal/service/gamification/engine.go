// Package gamification owns the XP, rank, streak and reading state of a device
// session. Local changes apply immediately; member writes to the backend are
// fire-and-forget bookkeeping that never roll local state back.
package gamification

import (
	"context"
	"sync"
	"time"

	"github.com/jara-app/rewards-gateway/internal/identity"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/rank"
	"github.com/jara-app/rewards-gateway/internal/service/rewards"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Fixed rewards.
const (
	DeepReadXP     = 5
	DeepReadReason = "Deep read completed"
)

// Snapshot is the gamification runtime state of a session.
type Snapshot struct {
	XPPoints       int             `json:"xpPoints"`
	CurrentRank    rank.Rank       `json:"currentRank"`
	NextRankXP     int             `json:"nextRankXP"`
	Progress       float64         `json:"progress"`
	StreakDays     int             `json:"streakDays"`
	PostsRead      int             `json:"postsRead"`
	SavedPosts     []string        `json:"savedPosts"`
	IsGuest        bool            `json:"isGuest"`
	ShadowWalletXP int             `json:"shadowWalletXP"`
	Events         []rewards.Event `json:"events"`
}

// Engine holds one session's gamification state.
type Engine struct {
	cell    *identity.Cell
	data    remote.Data
	queue   *rewards.Queue
	timeout time.Duration
	log     *logger.Logger

	wg sync.WaitGroup

	mu          sync.Mutex
	xp          int
	currentRank rank.Rank
	streakDays  int
	postsRead   int
	savedPosts  []string
	isGuest     bool
	shadowXP    int
}

// NewEngine creates a guest-state engine.
func NewEngine(cell *identity.Cell, data remote.Data, queue *rewards.Queue, timeout time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		cell:        cell,
		data:        data,
		queue:       queue,
		timeout:     timeout,
		log:         log.Component("gamification"),
		currentRank: rank.Of(0),
		savedPosts:  []string{},
		isGuest:     true,
	}
}

// AddXP grants amount XP locally and recomputes the rank. While the engine is
// in guest framing the amount is also banked in the shadow wallet; a member
// session gets a best-effort backend write. Every grant in the product is
// positive and the add_xp procedure rejects anything else, so non-positive
// amounts are ignored.
func (e *Engine) AddXP(amount int, reason string) {
	if amount <= 0 {
		return
	}
	id := e.cell.Load()

	e.mu.Lock()
	e.xp += amount
	e.currentRank = rank.Of(e.xp)
	guest := e.isGuest
	if guest {
		e.shadowXP += amount
	}
	e.mu.Unlock()

	e.queue.Push(amount, reason)

	if guest {
		prommetrics.RecordXPGranted("guest", amount)
	} else {
		prommetrics.RecordXPGranted("member", amount)
	}
	if id == nil {
		return
	}
	e.background("add_xp", id, func(ctx context.Context) error {
		_, err := e.data.AddXP(ctx, id.UserID, amount)
		return err
	})
}

// MarkPostRead counts a completed read and grants the fixed deep-read XP.
func (e *Engine) MarkPostRead(contentID string) {
	id := e.cell.Load()

	e.mu.Lock()
	e.postsRead++
	n := e.postsRead
	e.mu.Unlock()

	if id != nil {
		e.background("posts_read", id, func(ctx context.Context) error {
			return e.data.UpdateProfile(ctx, id.UserID, remote.ProfilePatch{PostsRead: &n})
		})
	}
	e.log.Debug().Str("content_id", contentID).Int("posts_read", n).Msg("Post read")

	e.AddXP(DeepReadXP, DeepReadReason)
}

// ToggleSavePost flips membership of contentID in the saved set and reports
// whether it is now saved.
func (e *Engine) ToggleSavePost(contentID string) bool {
	if contentID == "" {
		return false
	}
	id := e.cell.Load()

	e.mu.Lock()
	saved := true
	next := make([]string, 0, len(e.savedPosts)+1)
	for _, p := range e.savedPosts {
		if p == contentID {
			saved = false
			continue
		}
		next = append(next, p)
	}
	if saved {
		next = append(next, contentID)
	}
	e.savedPosts = next
	persist := append([]string(nil), next...)
	e.mu.Unlock()

	if id != nil {
		e.background("saved_posts", id, func(ctx context.Context) error {
			return e.data.UpdateProfile(ctx, id.UserID, remote.ProfilePatch{SavedPosts: &persist})
		})
	}
	return saved
}

// IsSaved reports whether contentID is in the saved set.
func (e *Engine) IsSaved(contentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.savedPosts {
		if p == contentID {
			return true
		}
	}
	return false
}

// SyncProfile overwrites local state from the remote profile. A nil profile
// flips the session to guest framing and keeps the last known numbers.
func (e *Engine) SyncProfile(p *remote.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p == nil {
		e.isGuest = true
		return
	}
	xp := p.XPPoints
	if xp < 0 {
		xp = 0
	}
	e.xp = xp
	e.currentRank = rank.Of(xp)
	e.streakDays = p.StreakDays
	e.postsRead = p.PostsRead
	e.savedPosts = append([]string{}, p.SavedPosts...)
	e.isGuest = false
}

// DismissXPEvent removes one XP notification. Unknown ids are a no-op.
func (e *Engine) DismissXPEvent(id string) bool {
	return e.queue.Dismiss(id)
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		XPPoints:       e.xp,
		CurrentRank:    e.currentRank,
		NextRankXP:     rank.CeilingFor(e.xp),
		Progress:       rank.Progress(e.xp),
		StreakDays:     e.streakDays,
		PostsRead:      e.postsRead,
		SavedPosts:     append([]string{}, e.savedPosts...),
		IsGuest:        e.isGuest,
		ShadowWalletXP: e.shadowXP,
		Events:         e.queue.Events(),
	}
}

// background runs a best-effort backend write for id.
func (e *Engine) background(op string, id *identity.Identity, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(remote.WithAccessToken(context.Background(), id.AccessToken), e.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			prommetrics.RecordBestEffortFailure(op)
			e.log.Warn().Err(err).Str("operation", op).Str("user_id", id.UserID).Msg("Best-effort write failed")
		}
	}()
}

// Wait blocks until every in-flight background write has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
