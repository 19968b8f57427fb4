// Package models defines the relational rows of the reference rewards backend.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jara-app/rewards-gateway/internal/remote"
)

// StringList is a set of ids stored as a JSON array in a text column.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported StringList source %T", value)
	}
	if len(raw) == 0 {
		*s = StringList{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(s))
}

// Profile is a member's gamification record.
type Profile struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	Username      string     `gorm:"uniqueIndex;not null;size:100" json:"username"`
	AvatarURL     string     `gorm:"size:512" json:"avatar_url"`
	LocationState string     `gorm:"size:100" json:"location_state"`
	XPPoints      int        `gorm:"not null;default:0" json:"xp_points"`
	Coins         int        `gorm:"not null;default:0" json:"coins"`
	CurrentRank   string     `gorm:"size:20;not null;default:JJC" json:"current_rank"`
	StreakDays    int        `gorm:"not null;default:0" json:"streak_days"`
	LastLoginDate string     `gorm:"size:10" json:"last_login_date"` // YYYY-MM-DD
	PostsRead     int        `gorm:"not null;default:0" json:"posts_read"`
	SavedPosts    StringList `gorm:"type:text" json:"saved_posts"`
	Role          string     `gorm:"size:20;not null;default:user" json:"role"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Profile model.
func (Profile) TableName() string {
	return "profiles"
}

// ToRemote converts the row into the contract type handed to engines.
func (p *Profile) ToRemote() *remote.Profile {
	saved := make([]string, len(p.SavedPosts))
	copy(saved, p.SavedPosts)
	return &remote.Profile{
		ID:            p.ID,
		Username:      p.Username,
		AvatarURL:     p.AvatarURL,
		LocationState: p.LocationState,
		XPPoints:      p.XPPoints,
		Coins:         p.Coins,
		CurrentRank:   p.CurrentRank,
		StreakDays:    p.StreakDays,
		LastLoginDate: p.LastLoginDate,
		PostsRead:     p.PostsRead,
		SavedPosts:    saved,
		Role:          remote.Role(p.Role),
	}
}
