package models

import (
	"time"
)

// CoinPoolID is the primary key of the single global pool row.
const CoinPoolID = 1

// Ledger source types written by transfers. Earn entries use remote.SourceType.
const (
	LedgerSpend    = "spend"
	LedgerReceived = "bonus"
)

// CoinPool is the globally capped coin supply.
type CoinPool struct {
	ID          int       `gorm:"primaryKey" json:"id"`
	Remaining   int       `gorm:"not null" json:"remaining"`
	TotalSupply int       `gorm:"not null" json:"total_supply"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for CoinPool model.
func (CoinPool) TableName() string {
	return "coin_pool"
}

// CoinLedgerEntry records one coin movement. Earn entries carry an
// idempotency key; the unique index is what makes a grant at-most-once.
type CoinLedgerEntry struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"not null;index;size:64" json:"user_id"`
	SourceType     string    `gorm:"not null;size:20" json:"source_type"`
	Amount         int       `gorm:"not null" json:"amount"`
	PostID         *string   `gorm:"size:64" json:"post_id,omitempty"`
	IdempotencyKey *string   `gorm:"uniqueIndex;size:255" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for CoinLedgerEntry model.
func (CoinLedgerEntry) TableName() string {
	return "coin_ledger"
}

// Tip is a reader-to-author coin transfer.
type Tip struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TipperID  string    `gorm:"not null;index;size:64" json:"tipper_id"`
	AuthorID  string    `gorm:"not null;index;size:64" json:"author_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	PostID    *string   `gorm:"size:64" json:"post_id,omitempty"`
	Message   *string   `gorm:"size:200" json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Tip model.
func (Tip) TableName() string {
	return "tips"
}

// PostBoost is coins spent to promote a post.
type PostBoost struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	BoosterID string    `gorm:"not null;index;size:64" json:"booster_id"`
	PostID    string    `gorm:"not null;index;size:64" json:"post_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for PostBoost model.
func (PostBoost) TableName() string {
	return "post_boosts"
}

// Reaction is one member's emoji on a post.
type Reaction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PostID    string    `gorm:"not null;uniqueIndex:idx_reaction_post_user;size:64" json:"post_id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_reaction_post_user;size:64" json:"user_id"`
	Emoji     string    `gorm:"not null;size:16" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Reaction model.
func (Reaction) TableName() string {
	return "reactions"
}

// Comment is a member's comment on a post.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PostID    string    `gorm:"not null;index;size:64" json:"post_id"`
	AuthorID  string    `gorm:"not null;index;size:64" json:"author_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Comment model.
func (Comment) TableName() string {
	return "comments"
}
