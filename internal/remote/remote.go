// Package remote defines the contract between the rewards engines and the hosted
// identity and data service. The hosted service owns the coin ledger, the global
// pool and streak rollover; the gateway only proposes mutations.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnauthenticated is returned when credentials or a session are invalid.
	ErrUnauthenticated = errors.New("remote: unauthenticated")
	// ErrRejected is returned when a value-bearing procedure refuses the request.
	ErrRejected = errors.New("remote: rejected")
)

// Role is a capability tag on a profile.
type Role string

// Roles.
const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleUser    Role = "user"
)

// SourceType classifies a coin earn.
type SourceType string

// Coin source types accepted by the earn procedure.
const (
	SourceRead    SourceType = "read"
	SourceLike    SourceType = "like"
	SourceShare   SourceType = "share"
	SourceComment SourceType = "comment"
	SourcePost    SourceType = "post"
	SourceBonus   SourceType = "bonus"
	SourceInvite  SourceType = "invite"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceRead, SourceLike, SourceShare, SourceComment, SourcePost, SourceBonus, SourceInvite:
		return true
	}
	return false
}

// User is the authenticated principal of a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated session handed out by the identity provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Profile is the remote-owned user record the gateway caches.
type Profile struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	AvatarURL     string   `json:"avatar_url"`
	LocationState string   `json:"location_state"`
	XPPoints      int      `json:"xp_points"`
	Coins         int      `json:"coins"`
	CurrentRank   string   `json:"current_rank"`
	StreakDays    int      `json:"streak_days"`
	LastLoginDate string   `json:"last_login_date"`
	PostsRead     int      `json:"posts_read"`
	SavedPosts    []string `json:"saved_posts"`
	Role          Role     `json:"role"`
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Username      *string   `json:"username,omitempty"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	LocationState *string   `json:"location_state,omitempty"`
	PostsRead     *int      `json:"posts_read,omitempty"`
	SavedPosts    *[]string `json:"saved_posts,omitempty"`
}

// CoinPool is the shared, globally capped coin supply.
type CoinPool struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total_supply"`
}

// EarnRequest proposes a coin grant to the earn procedure.
type EarnRequest struct {
	UserID         string
	SourceType     SourceType
	BaseReward     int
	ContentID      string // empty means global
	IdempotencyKey string
}

// TipRequest moves coins from a reader to an author.
type TipRequest struct {
	TipperID  string
	AuthorID  string
	Amount    int
	ContentID string
	Message   string
}

// BoostRequest spends coins to promote a post.
type BoostRequest struct {
	BoosterID string
	ContentID string
	Amount    int
}

// Auth is the managed identity provider.
type Auth interface {
	GetSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password, username string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Data is the hosted relational store plus its stored procedures.
type Data interface {
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error
	UpdateStreak(ctx context.Context, userID string) (int, error)
	EarnCoins(ctx context.Context, req EarnRequest) (int, error)
	TipAuthor(ctx context.Context, req TipRequest) (bool, error)
	BoostPost(ctx context.Context, req BoostRequest) (bool, error)
	AddXP(ctx context.Context, userID string, amount int) (string, error)
	GetCoinPool(ctx context.Context) (*CoinPool, error)
	ReactToPost(ctx context.Context, contentID, userID, emoji string) (bool, error)
	AddComment(ctx context.Context, contentID, authorID, content string) (string, error)
}
