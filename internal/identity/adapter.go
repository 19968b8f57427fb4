package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// State is the authentication state of a session.
type State string

// States.
const (
	StateGuest         State = "guest"
	StateAuthenticated State = "authenticated"
)

// ProfileListener is told about every profile change, including nil on sign-out.
type ProfileListener func(p *remote.Profile)

// Adapter wraps the identity provider and the profile table for one device.
type Adapter struct {
	auth    remote.Auth
	data    remote.Data
	cell    *Cell
	timeout time.Duration
	log     *logger.Logger

	mu        sync.Mutex
	session   *remote.Session
	profile   *remote.Profile
	listeners []ProfileListener
}

// NewAdapter creates a new adapter writing identities into cell.
func NewAdapter(auth remote.Auth, data remote.Data, cell *Cell, timeout time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		auth:    auth,
		data:    data,
		cell:    cell,
		timeout: timeout,
		log:     log.Component("identity"),
	}
}

// Cell returns the identity cell the adapter maintains.
func (a *Adapter) Cell() *Cell {
	return a.cell
}

// OnProfile registers a listener. Listeners run in registration order, outside
// the adapter lock.
func (a *Adapter) OnProfile(l ProfileListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// State reports guest or authenticated. It follows the session, not the
// profile: a member whose profile failed to load is still authenticated.
func (a *Adapter) State() State {
	if a.cell.IsGuest() {
		return StateGuest
	}
	return StateAuthenticated
}

// Profile returns a copy of the cached profile, or nil.
func (a *Adapter) Profile() *remote.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.profile == nil {
		return nil
	}
	cp := *a.profile
	cp.SavedPosts = append([]string(nil), a.profile.SavedPosts...)
	return &cp
}

// Session returns the current session, or nil.
func (a *Adapter) Session() *remote.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Restore resolves an existing access token (from a cookie or header) into a
// session once. An invalid or empty token leaves the device a guest.
func (a *Adapter) Restore(ctx context.Context, accessToken string) {
	var s *remote.Session
	if accessToken != "" {
		var err error
		s, err = a.auth.GetSession(remote.WithAccessToken(ctx, accessToken))
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to restore session")
			s = nil
		}
	}
	a.HandleSessionChange(ctx, s)
}

// HandleSessionChange applies one element of the session stream. With a user
// it loads the profile and rolls the streak over in parallel; both are best
// effort. Without one it clears the profile.
func (a *Adapter) HandleSessionChange(ctx context.Context, s *remote.Session) {
	id := FromSession(s)

	a.mu.Lock()
	a.session = s
	a.cell.Store(id)
	if id == nil {
		a.profile = nil
	}
	a.mu.Unlock()

	if id == nil {
		a.notify(nil)
		return
	}

	p, streak := a.loadMember(ctx, id)

	a.mu.Lock()
	// A sign-out or a different sign-in may have landed while we were loading.
	if cur := a.cell.Load(); cur == nil || cur.UserID != id.UserID {
		a.mu.Unlock()
		a.log.Debug().Str("user_id", id.UserID).Msg("Discarding profile for stale identity")
		return
	}
	if p != nil {
		if streak > 0 {
			p.StreakDays = streak
		}
		a.profile = p
	}
	a.mu.Unlock()

	if p != nil {
		a.notify(a.Profile())
	}
}

func (a *Adapter) loadMember(ctx context.Context, id *Identity) (*remote.Profile, int) {
	ctx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, id.AccessToken), a.timeout)
	defer cancel()

	var (
		profile *remote.Profile
		streak  int
	)
	var g errgroup.Group
	g.Go(func() error {
		p, err := a.data.FetchProfile(ctx, id.UserID)
		if err != nil {
			a.log.Warn().Err(err).Str("user_id", id.UserID).Msg("Failed to fetch profile")
			return nil
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		n, err := a.data.UpdateStreak(ctx, id.UserID)
		if err != nil {
			a.log.Warn().Err(err).Str("user_id", id.UserID).Msg("Streak update failed")
			return nil
		}
		streak = n
		return nil
	})
	_ = g.Wait()
	return profile, streak
}

func (a *Adapter) notify(p *remote.Profile) {
	a.mu.Lock()
	listeners := append([]ProfileListener(nil), a.listeners...)
	a.mu.Unlock()

	for _, l := range listeners {
		l(p)
	}
}

// SignIn authenticates and loads the member.
func (a *Adapter) SignIn(ctx context.Context, email, password string) error {
	s, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	a.HandleSessionChange(ctx, s)
	return nil
}

// SignUp registers a new account. When the provider returns no session (email
// confirmation pending) the device stays a guest.
func (a *Adapter) SignUp(ctx context.Context, email, password, username string) error {
	s, err := a.auth.SignUp(ctx, email, password, username)
	if err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}
	if s != nil {
		a.HandleSessionChange(ctx, s)
	}
	return nil
}

// SignOut revokes the session remotely (best effort) and becomes a guest.
func (a *Adapter) SignOut(ctx context.Context) {
	if s := a.Session(); s != nil {
		if err := a.auth.SignOut(ctx, s.AccessToken); err != nil {
			a.log.Warn().Err(err).Str("user_id", s.User.ID).Msg("Remote sign-out failed")
		}
	}
	a.HandleSessionChange(ctx, nil)
}

// RefreshProfile re-reads the profile. It is a no-op for guests.
func (a *Adapter) RefreshProfile(ctx context.Context) {
	id := a.cell.Load()
	if id == nil {
		return
	}

	ctx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, id.AccessToken), a.timeout)
	defer cancel()
	p, err := a.data.FetchProfile(ctx, id.UserID)
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", id.UserID).Msg("Failed to refresh profile")
		return
	}

	a.mu.Lock()
	if cur := a.cell.Load(); cur == nil || cur.UserID != id.UserID {
		a.mu.Unlock()
		return
	}
	a.profile = p
	a.mu.Unlock()

	a.notify(a.Profile())
}

// UpdateProfile writes a partial update and re-fetches on success. It returns
// false for guests and on failure.
func (a *Adapter) UpdateProfile(ctx context.Context, patch remote.ProfilePatch) bool {
	id := a.cell.Load()
	if id == nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, id.AccessToken), a.timeout)
	err := a.data.UpdateProfile(callCtx, id.UserID, patch)
	cancel()
	if err != nil {
		if !errors.Is(err, remote.ErrRejected) {
			a.log.Warn().Err(err).Str("user_id", id.UserID).Msg("Failed to update profile")
		}
		return false
	}

	a.RefreshProfile(ctx)
	return true
}
