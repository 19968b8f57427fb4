// Package session composes the rewards engines of one device and exposes the
// user actions that drive them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jara-app/rewards-gateway/internal/cache"
	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/identity"
	"github.com/jara-app/rewards-gateway/internal/localstore"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/coins"
	"github.com/jara-app/rewards-gateway/internal/service/device"
	"github.com/jara-app/rewards-gateway/internal/service/engagement"
	"github.com/jara-app/rewards-gateway/internal/service/gamification"
	"github.com/jara-app/rewards-gateway/internal/service/missions"
	"github.com/jara-app/rewards-gateway/internal/service/rewards"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Auth      remote.Auth
	Data      remote.Data
	Store     localstore.Store
	PoolCache *cache.PoolCache // optional
	Config    *config.Config
	Clock     clockwork.Clock
	Location  *time.Location
	Log       *logger.Logger
}

// Session is the engine set of one device.
type Session struct {
	ID       string
	Identity *identity.Adapter
	Bus      *rewards.Bus
	Coins    *coins.Engine
	XP       *gamification.Engine
	Missions *missions.Tracker
	Reader   *engagement.Collector
	Prefs    *device.Preferences

	data    remote.Data
	clock   clockwork.Clock
	timeout time.Duration
	log     *logger.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	lastSeen time.Time
	lastUser string
	reaction reactionState
	closed   bool
}

// reactionState is the per-view reaction toggle and its one-shot reward latch.
type reactionState struct {
	contentID string
	active    string
	rewarded  bool
}

// New wires a session for device id. Call Start before use.
func New(id string, d Deps) *Session {
	cfg := d.Config
	log := d.Log.WithSession(id)
	timeout := cfg.Economy.RemoteTimeout()
	kv := d.Store.Device(id)
	cell := identity.NewCell()
	bus := rewards.NewBus(&cfg.Rewards, d.Clock)

	s := &Session{
		ID:       id,
		Identity: identity.NewAdapter(d.Auth, d.Data, cell, timeout, log),
		Bus:      bus,
		Coins:    coins.NewEngine(cell, d.Data, d.PoolCache, bus.Coin, &cfg.Economy, log),
		XP:       gamification.NewEngine(cell, d.Data, bus.XP, timeout, log),
		Missions: missions.NewTracker(kv, d.Clock, d.Location, log),
		Prefs:    device.NewPreferences(kv, d.Clock, d.Location, log),
		data:     d.Data,
		clock:    d.Clock,
		timeout:  timeout,
		log:      log.Component("session"),
		lastSeen: d.Clock.Now(),
		ready:    make(chan struct{}),
	}
	s.Reader = engagement.NewCollector(&cfg.Engagement, d.Clock, cell.IsGuest, s.readCompleted, log)
	s.Identity.OnProfile(s.onProfile)
	return s
}

// Start restores an existing access token, if any, and pulls the pool. Other
// callers of the session wait for it through waitReady.
func (s *Session) Start(ctx context.Context, accessToken string) {
	defer s.readyOnce.Do(func() { close(s.ready) })
	s.Identity.Restore(ctx, accessToken)
	s.Missions.ResetIfNewDay()
	s.Coins.Refresh(ctx)
}

func (s *Session) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onProfile keeps both engines in step with the profile cache. An identity
// change restarts the active view so no view spans two identities.
func (s *Session) onProfile(p *remote.Profile) {
	s.Coins.SyncProfile(p)
	s.XP.SyncProfile(p)

	user, _ := s.Identity.Cell().UserID()
	s.mu.Lock()
	changed := user != s.lastUser
	s.lastUser = user
	s.mu.Unlock()

	if !changed {
		return
	}
	if v := s.Reader.Current(); v != nil {
		s.OpenView(*v)
	}
}

// readCompleted is the single composed action of a deep read.
func (s *Session) readCompleted(contentID string) {
	prommetrics.RecordDeepRead()
	s.XP.MarkPostRead(contentID)
	s.Coins.Earn(context.Background(), 1, remote.SourceRead, "Finished reading", contentID)
	s.Missions.Increment(missions.TypeRead, 1)
}

// Touch records activity for idle eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
}

// IdleFor returns how long the session has been untouched.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Since(s.lastSeen)
}

// ViewState is the engagement state of the active view.
type ViewState struct {
	ContentID string  `json:"contentId"`
	Depth     float64 `json:"depth"`
	Obscured  bool    `json:"obscured"`
	Tracked   bool    `json:"tracked"`
	Reaction  string  `json:"reaction,omitempty"`
}

// State is everything the front-end renders for a device.
type State struct {
	SessionID    string                `json:"sessionId"`
	Auth         identity.State        `json:"auth"`
	Profile      *remote.Profile       `json:"profile"`
	Gamification gamification.Snapshot `json:"gamification"`
	Coins        coins.Snapshot        `json:"coins"`
	Missions     MissionsState         `json:"missions"`
	Theme        device.Theme          `json:"theme"`
	View         *ViewState            `json:"view,omitempty"`
}

// MissionsState is the mission board with its aggregates.
type MissionsState struct {
	Date         string             `json:"date"`
	Missions     []missions.Mission `json:"missions"`
	AllCompleted bool               `json:"allCompleted"`
	Claimed      int                `json:"claimed"`
	ReadyToClaim int                `json:"readyToClaim"`
	ClaimedXP    int                `json:"claimedXP"`
	ClaimedCoins int                `json:"claimedCoins"`
}

// Snapshot returns the current state of every engine.
func (s *Session) Snapshot() State {
	xp, coinsClaimed := s.Missions.TotalClaimed()
	st := State{
		SessionID:    s.ID,
		Auth:         s.Identity.State(),
		Profile:      s.Identity.Profile(),
		Gamification: s.XP.Snapshot(),
		Coins:        s.Coins.Snapshot(),
		Missions: MissionsState{
			Date:         s.Missions.Date(),
			Missions:     s.Missions.Missions(),
			AllCompleted: s.Missions.AllCompleted(),
			Claimed:      s.Missions.ClaimedCount(),
			ReadyToClaim: s.Missions.ReadyToClaim(),
			ClaimedXP:    xp,
			ClaimedCoins: coinsClaimed,
		},
		Theme: s.Prefs.Theme(),
	}
	if v := s.Reader.Current(); v != nil {
		s.mu.Lock()
		reaction := ""
		if s.reaction.contentID == v.ContentID {
			reaction = s.reaction.active
		}
		s.mu.Unlock()
		st.View = &ViewState{
			ContentID: v.ContentID,
			Depth:     s.Reader.Depth(),
			Obscured:  s.Reader.Obscured(),
			Tracked:   s.Reader.Tracked(),
			Reaction:  reaction,
		}
	}
	return st
}

// Close stops the view loop, drains background writes and closes the bus.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Reader.Leave()
	s.XP.Wait()
	s.Bus.Close()
}
