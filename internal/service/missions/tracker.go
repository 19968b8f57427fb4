// Package missions tracks the daily objective set of one device.
package missions

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// StorageKey is the device KV key holding the mission state.
const StorageKey = "missions"

const dayLayout = "2006-01-02"

// Type is the action category a mission counts.
type Type string

// Mission types.
const (
	TypeRead    Type = "read"
	TypeShare   Type = "share"
	TypeComment Type = "comment"
	TypeReact   Type = "react"
	TypeStreak  Type = "streak"
)

// Mission is one daily objective.
type Mission struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
	Target      int    `json:"target"`
	Current     int    `json:"current"`
	XPReward    int    `json:"xpReward"`
	CoinReward  int    `json:"coinReward"`
	Completed   bool   `json:"completed"`
	Claimed     bool   `json:"claimed"`
	Type        Type   `json:"type"`
}

// Reward is what a claim yields.
type Reward struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}

// catalog is the fixed daily set.
var catalog = []Mission{
	{ID: "daily_read_3", Title: "Daily Reader", Description: "Read 3 posts today", Emoji: "📖", Target: 3, XPReward: 30, CoinReward: 5, Type: TypeRead},
	{ID: "daily_share", Title: "Spread the Word", Description: "Share 1 post", Emoji: "🔗", Target: 1, XPReward: 20, CoinReward: 4, Type: TypeShare},
	{ID: "daily_comment", Title: "Join the Conversation", Description: "Comment on 2 posts", Emoji: "💬", Target: 2, XPReward: 25, CoinReward: 4, Type: TypeComment},
	{ID: "daily_react", Title: "Show the Love", Description: "React to 5 posts", Emoji: "🔥", Target: 5, XPReward: 15, CoinReward: 3, Type: TypeReact},
	{ID: "daily_streak", Title: "Streak Master", Description: "Log in for your daily streak", Emoji: "🏆", Target: 1, XPReward: 50, CoinReward: 8, Type: TypeStreak},
}

// Catalog returns a copy of the fixed mission set with zero progress.
func Catalog() []Mission {
	return append([]Mission(nil), catalog...)
}

type state struct {
	Date              string    `json:"date"`
	Missions          []Mission `json:"missions"`
	TotalClaimedXP    int       `json:"totalClaimedXP"`
	TotalClaimedCoins int       `json:"totalClaimedCoins"`
}

// Tracker owns the mission state of one device. The day is the local calendar
// date in loc, never a rolling 24h window.
type Tracker struct {
	kv    localstore.KV
	clock clockwork.Clock
	loc   *time.Location
	log   *logger.Logger

	mu    sync.Mutex
	state state
}

// NewTracker creates a tracker and loads persisted state.
func NewTracker(kv localstore.KV, clock clockwork.Clock, loc *time.Location, log *logger.Logger) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	t := &Tracker{
		kv:    kv,
		clock: clock,
		loc:   loc,
		log:   log.Component("missions"),
	}
	t.Load()
	return t
}

func (t *Tracker) today() string {
	return t.clock.Now().In(t.loc).Format(dayLayout)
}

func (t *Tracker) fresh() state {
	return state{Date: t.today(), Missions: Catalog()}
}

// Load reads persisted state, replacing it with a fresh set when it is missing,
// corrupt or from another day, and completes the streak mission.
func (t *Tracker) Load() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = t.read()
	t.completeStreakLocked()
	t.persistLocked()
}

func (t *Tracker) read() state {
	raw, ok, err := t.kv.Get(StorageKey)
	if err != nil {
		t.log.Warn().Err(err).Msg("Failed to read missions, starting fresh")
		return t.fresh()
	}
	if !ok {
		return t.fresh()
	}

	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		t.log.Warn().Err(err).Msg("Corrupt mission state, starting fresh")
		return t.fresh()
	}
	if s.Date != t.today() || !validSet(s.Missions) {
		return t.fresh()
	}
	return s
}

// validSet reports whether missions is the catalog in order with sane progress.
func validSet(missions []Mission) bool {
	if len(missions) != len(catalog) {
		return false
	}
	for i, m := range missions {
		if m.ID != catalog[i].ID || m.Current < 0 || m.Current > m.Target {
			return false
		}
	}
	return true
}

func (t *Tracker) completeStreakLocked() {
	for i := range t.state.Missions {
		m := &t.state.Missions[i]
		if m.Type == TypeStreak && !m.Completed {
			m.Current = m.Target
			m.Completed = true
		}
	}
}

func (t *Tracker) persistLocked() {
	raw, err := json.Marshal(t.state)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to encode missions")
		return
	}
	if err := t.kv.Set(StorageKey, raw); err != nil {
		t.log.Warn().Err(err).Msg("Failed to persist missions")
	}
}

// rolloverLocked rebuilds the set when the day changed. Showing up on the new
// day completes its streak mission.
func (t *Tracker) rolloverLocked() bool {
	if t.state.Date == t.today() {
		return false
	}
	t.log.Debug().Str("from", t.state.Date).Msg("Day rollover, resetting missions")
	t.state = t.fresh()
	t.completeStreakLocked()
	return true
}

// ResetIfNewDay rebuilds the set if the local date moved on. It reports
// whether a reset happened.
func (t *Tracker) ResetIfNewDay() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rolloverLocked() {
		return false
	}
	t.persistLocked()
	return true
}

// Increment raises progress of every unfinished mission of type mt by amount,
// clamped at its target. Completed missions never change.
func (t *Tracker) Increment(mt Type, amount int) {
	if amount <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	for i := range t.state.Missions {
		m := &t.state.Missions[i]
		if m.Type != mt || m.Completed {
			continue
		}
		m.Current += amount
		if m.Current > m.Target {
			m.Current = m.Target
		}
		m.Completed = m.Current >= m.Target
	}
	t.persistLocked()
}

// Claim marks a completed mission claimed and returns its reward. It returns
// nil for unknown, unfinished or already claimed missions.
func (t *Tracker) Claim(id string) *Reward {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rolloverLocked() {
		t.persistLocked()
	}
	for i := range t.state.Missions {
		m := &t.state.Missions[i]
		if m.ID != id {
			continue
		}
		if !m.Completed || m.Claimed {
			return nil
		}
		m.Claimed = true
		t.state.TotalClaimedXP += m.XPReward
		t.state.TotalClaimedCoins += m.CoinReward
		t.persistLocked()
		return &Reward{XP: m.XPReward, Coins: m.CoinReward}
	}
	return nil
}

// Missions returns a snapshot of today's set.
func (t *Tracker) Missions() []Mission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Mission(nil), t.state.Missions...)
}

// Date returns the day key of the current set.
func (t *Tracker) Date() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Date
}

// AllCompleted reports whether every mission is completed.
func (t *Tracker) AllCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.state.Missions {
		if !m.Completed {
			return false
		}
	}
	return len(t.state.Missions) > 0
}

// ClaimedCount returns how many missions were claimed today.
func (t *Tracker) ClaimedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.state.Missions {
		if m.Claimed {
			n++
		}
	}
	return n
}

// ReadyToClaim returns how many missions are completed but unclaimed.
func (t *Tracker) ReadyToClaim() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.state.Missions {
		if m.Completed && !m.Claimed {
			n++
		}
	}
	return n
}

// TotalClaimed returns XP and coins claimed today.
func (t *Tracker) TotalClaimed() (xp, coins int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.TotalClaimedXP, t.state.TotalClaimedCoins
}
