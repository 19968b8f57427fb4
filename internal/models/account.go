package models

import (
	"time"
)

// Account is a credential record for the reference identity provider.
type Account struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string    `gorm:"not null;size:100" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for Account model.
func (Account) TableName() string {
	return "accounts"
}

// AuthSession is an opaque bearer token issued at sign-in.
type AuthSession struct {
	Token     string    `gorm:"primaryKey;size:64" json:"-"`
	UserID    string    `gorm:"not null;index;size:64" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for AuthSession model.
func (AuthSession) TableName() string {
	return "auth_sessions"
}

// IsActive reports whether the session is still valid at now.
func (s *AuthSession) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
