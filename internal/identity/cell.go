// Package identity tracks who is behind a device session and keeps the
// profile cache in step with the identity provider.
package identity

import (
	"context"
	"sync/atomic"

	"github.com/jara-app/rewards-gateway/internal/remote"
)

// Identity is the authenticated principal of a session.
type Identity struct {
	UserID      string
	Email       string
	AccessToken string
}

// Cell holds the latest identity. Engines read it at call time rather than
// capturing an identity when a callback is built, so a sign-in or sign-out
// between scheduling and running a callback is always observed.
type Cell struct {
	p atomic.Pointer[Identity]
}

// NewCell creates a guest cell.
func NewCell() *Cell {
	return &Cell{}
}

// Load returns the current identity, or nil for a guest.
func (c *Cell) Load() *Identity {
	return c.p.Load()
}

// Store replaces the identity. Nil means guest.
func (c *Cell) Store(id *Identity) {
	c.p.Store(id)
}

// UserID returns the current user id and whether there is one.
func (c *Cell) UserID() (string, bool) {
	id := c.p.Load()
	if id == nil || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

// IsGuest reports whether no user is present.
func (c *Cell) IsGuest() bool {
	_, ok := c.UserID()
	return !ok
}

// Context attaches the current access token to ctx for backend calls.
func (c *Cell) Context(ctx context.Context) context.Context {
	id := c.p.Load()
	if id == nil {
		return ctx
	}
	return remote.WithAccessToken(ctx, id.AccessToken)
}

// FromSession builds an identity from a provider session.
func FromSession(s *remote.Session) *Identity {
	if s == nil || s.User.ID == "" {
		return nil
	}
	return &Identity{UserID: s.User.ID, Email: s.User.Email, AccessToken: s.AccessToken}
}
