// Package device keeps the small per-device blobs that are never synced: the
// daily streak celebration flag, the unpublished draft and the theme.
package device

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"

	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

const (
	themeKey          = "theme"
	draftKey          = "draft"
	streakShownPrefix = "streak_shown_"
)

// Theme is the display theme preference.
type Theme string

// Themes.
const (
	ThemeLight        Theme = "light"
	ThemeDark         Theme = "dark"
	ThemeHighContrast Theme = "high-contrast"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeHighContrast:
		return true
	}
	return false
}

// Draft is an unpublished post kept on the device.
type Draft struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Category string    `json:"category"`
	ImageURL string    `json:"imageUrl"`
	Slug     string    `json:"slug"`
	SavedAt  time.Time `json:"savedAt"`
}

// Preferences reads and writes one device's blobs. Missing or unreadable
// values fall back to defaults.
type Preferences struct {
	kv    localstore.KV
	clock clockwork.Clock
	loc   *time.Location
	log   *logger.Logger
}

// NewPreferences creates a preferences view over kv.
func NewPreferences(kv localstore.KV, clock clockwork.Clock, loc *time.Location, log *logger.Logger) *Preferences {
	if loc == nil {
		loc = time.Local
	}
	return &Preferences{kv: kv, clock: clock, loc: loc, log: log.Component("device")}
}

func (p *Preferences) streakKey() string {
	return streakShownPrefix + p.clock.Now().In(p.loc).Format("2006-01-02")
}

// ClaimStreakCelebration reports whether the streak celebration should be
// shown now and, if so, marks it shown for the local day. Guests and empty
// streaks never celebrate.
func (p *Preferences) ClaimStreakCelebration(authenticated bool, streakDays int) bool {
	if !authenticated || streakDays <= 0 {
		return false
	}
	key := p.streakKey()
	_, shown, err := p.kv.Get(key)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to read streak celebration flag")
		return false
	}
	if shown {
		return false
	}
	if err := p.kv.Set(key, []byte("1")); err != nil {
		p.log.Warn().Err(err).Msg("Failed to store streak celebration flag")
	}
	return true
}

// SaveDraft stores d with a slug preview. A draft without title and body is
// not saved.
func (p *Preferences) SaveDraft(d Draft) (Draft, bool) {
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Body) == "" {
		return Draft{}, false
	}
	d.Slug = slug.Make(d.Title)
	d.SavedAt = p.clock.Now()

	raw, err := json.Marshal(d)
	if err != nil {
		return Draft{}, false
	}
	if err := p.kv.Set(draftKey, raw); err != nil {
		p.log.Warn().Err(err).Msg("Failed to save draft")
		return Draft{}, false
	}
	return d, true
}

// Draft returns the saved draft, or nil.
func (p *Preferences) Draft() *Draft {
	raw, ok, err := p.kv.Get(draftKey)
	if err != nil || !ok {
		return nil
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		p.log.Warn().Err(err).Msg("Discarding corrupt draft")
		return nil
	}
	return &d
}

// ClearDraft drops the saved draft.
func (p *Preferences) ClearDraft() {
	if err := p.kv.Delete(draftKey); err != nil {
		p.log.Warn().Err(err).Msg("Failed to clear draft")
	}
}

// Theme returns the stored theme, light by default.
func (p *Preferences) Theme() Theme {
	raw, ok, err := p.kv.Get(themeKey)
	if err != nil || !ok {
		return ThemeLight
	}
	t := Theme(raw)
	if !t.Valid() {
		return ThemeLight
	}
	return t
}

// SetTheme stores t. Unknown themes are refused.
func (p *Preferences) SetTheme(t Theme) bool {
	if !t.Valid() {
		return false
	}
	if err := p.kv.Set(themeKey, []byte(t)); err != nil {
		p.log.Warn().Err(err).Msg("Failed to store theme")
		return false
	}
	return true
}
