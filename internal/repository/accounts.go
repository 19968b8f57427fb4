package repository

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/jara-app/rewards-gateway/internal/models"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/rank"
)

const (
	minPasswordLen = 6
	sessionTTL     = 7 * 24 * time.Hour
)

// Accounts implements remote.Auth with password accounts and opaque bearer
// tokens stored in auth_sessions.
type Accounts struct {
	db    *DB
	clock clockwork.Clock
}

var _ remote.Auth = (*Accounts)(nil)

// NewAccounts creates a new reference identity provider.
func NewAccounts(db *DB, clock clockwork.Clock) *Accounts {
	return &Accounts{db: db, clock: clock}
}

// GetSession resolves the bearer token carried by ctx.
func (a *Accounts) GetSession(ctx context.Context) (*remote.Session, error) {
	tok, ok := remote.AccessToken(ctx)
	if !ok {
		return nil, nil
	}

	var s models.AuthSession
	if err := a.db.WithContext(ctx).First(&s, "token = ?", tok).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !s.IsActive(a.clock.Now()) {
		return nil, nil
	}

	var acct models.Account
	if err := a.db.WithContext(ctx).First(&acct, "id = ?", s.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	return &remote.Session{
		AccessToken: s.Token,
		ExpiresAt:   s.ExpiresAt,
		User:        remote.User{ID: acct.ID, Email: acct.Email},
	}, nil
}

// SignIn checks credentials and issues a new session.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	email = normalizeEmail(email)

	var acct models.Account
	if err := a.db.WithContext(ctx).First(&acct, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", remote.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", remote.ErrUnauthenticated)
	}

	return a.issue(a.db.WithContext(ctx), acct)
}

// SignUp creates an account and its profile, then signs the user in.
func (a *Accounts) SignUp(ctx context.Context, email, password, username string) (*remote.Session, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email: %w", remote.ErrRejected)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password shorter than %d: %w", minPasswordLen, remote.ErrRejected)
	}
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var session *remote.Session
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("email already registered: %w", remote.ErrRejected)
		}
		if err := tx.Model(&models.Profile{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("username taken: %w", remote.ErrRejected)
		}

		acct := models.Account{ID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
		if err := tx.Create(&acct).Error; err != nil {
			return err
		}
		profile := models.Profile{
			ID:          acct.ID,
			Username:    username,
			CurrentRank: string(rank.JJC),
			SavedPosts:  models.StringList{},
			Role:        string(remote.RoleUser),
		}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}

		s, err := a.issue(tx, acct)
		session = s
		return err
	})
	if err != nil {
		if errors.Is(err, remote.ErrRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	return session, nil
}

// SignOut revokes the token. Unknown tokens are not an error.
func (a *Accounts) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := a.db.WithContext(ctx).Delete(&models.AuthSession{}, "token = ?", accessToken).Error; err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions past their expiry and returns how many went.
func (a *Accounts) PurgeExpired(ctx context.Context) (int64, error) {
	res := a.db.WithContext(ctx).Delete(&models.AuthSession{}, "expires_at <= ?", a.clock.Now())
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (a *Accounts) issue(tx *gorm.DB, acct models.Account) (*remote.Session, error) {
	s := models.AuthSession{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:    acct.ID,
		ExpiresAt: a.clock.Now().Add(sessionTTL),
	}
	if err := tx.Create(&s).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &remote.Session{
		AccessToken: s.Token,
		ExpiresAt:   s.ExpiresAt,
		User:        remote.User{ID: acct.ID, Email: acct.Email},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
