package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/jara-app/rewards-gateway/internal/models"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/rank"
)

const dateLayout = "2006-01-02"

// Backend implements remote.Data with gorm. Every value-bearing procedure runs
// in one transaction; the ledger's unique idempotency key makes earns at-most-once.
type Backend struct {
	db    *DB
	clock clockwork.Clock
	loc   *time.Location
}

var _ remote.Data = (*Backend)(nil)

// NewBackend creates a new reference backend. loc is the calendar used for
// streak rollover.
func NewBackend(db *DB, clock clockwork.Clock, loc *time.Location) *Backend {
	if loc == nil {
		loc = time.Local
	}
	return &Backend{db: db, clock: clock, loc: loc}
}

// EnsureCoinPool seeds the global pool row if it does not exist yet.
func (b *Backend) EnsureCoinPool(ctx context.Context, totalSupply int) error {
	pool := models.CoinPool{ID: models.CoinPoolID, Remaining: totalSupply, TotalSupply: totalSupply}
	return b.db.WithContext(ctx).
		Where(models.CoinPool{ID: models.CoinPoolID}).
		FirstOrCreate(&pool).Error
}

// FetchProfile reads one profile row.
func (b *Backend) FetchProfile(ctx context.Context, userID string) (*remote.Profile, error) {
	var p models.Profile
	if err := b.db.WithContext(ctx).First(&p, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return p.ToRemote(), nil
}

// UpdateProfile applies the non-nil fields of patch.
func (b *Backend) UpdateProfile(ctx context.Context, userID string, patch remote.ProfilePatch) error {
	updates := map[string]interface{}{}
	if patch.Username != nil {
		updates["username"] = *patch.Username
	}
	if patch.AvatarURL != nil {
		updates["avatar_url"] = *patch.AvatarURL
	}
	if patch.LocationState != nil {
		updates["location_state"] = *patch.LocationState
	}
	if patch.PostsRead != nil {
		updates["posts_read"] = *patch.PostsRead
	}
	if patch.SavedPosts != nil {
		updates["saved_posts"] = models.StringList(*patch.SavedPosts)
	}
	if len(updates) == 0 {
		return nil
	}

	res := b.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return remote.ErrNotFound
	}
	return nil
}

// UpdateStreak rolls the login streak over on the first call of each local day:
// consecutive days extend it, a gap restarts it at 1.
func (b *Backend) UpdateStreak(ctx context.Context, userID string) (int, error) {
	now := b.clock.Now().In(b.loc)
	today := now.Format(dateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(dateLayout)

	var streak int
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Profile
		if err := tx.First(&p, "id = ?", userID).Error; err != nil {
			return err
		}

		switch p.LastLoginDate {
		case today:
			streak = p.StreakDays
			if streak == 0 {
				streak = 1
			}
		case yesterday:
			streak = p.StreakDays + 1
		default:
			streak = 1
		}

		return tx.Model(&models.Profile{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"streak_days":     streak,
			"last_login_date": today,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, remote.ErrNotFound
		}
		return 0, fmt.Errorf("failed to update streak: %w", err)
	}
	return streak, nil
}

// EarnCoins grants up to req.BaseReward coins from the global pool. A key that
// was already used grants zero. An exhausted pool grants zero.
func (b *Backend) EarnCoins(ctx context.Context, req remote.EarnRequest) (int, error) {
	if req.BaseReward <= 0 || !req.SourceType.Valid() {
		return 0, fmt.Errorf("earn %s/%d: %w", req.SourceType, req.BaseReward, remote.ErrRejected)
	}

	var granted int
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IdempotencyKey != "" {
			var n int64
			if err := tx.Model(&models.CoinLedgerEntry{}).
				Where("idempotency_key = ?", req.IdempotencyKey).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}

		var p models.Profile
		if err := tx.Select("id").First(&p, "id = ?", req.UserID).Error; err != nil {
			return err
		}

		var pool models.CoinPool
		if err := tx.First(&pool, models.CoinPoolID).Error; err != nil {
			return err
		}
		amount := req.BaseReward
		if amount > pool.Remaining {
			amount = pool.Remaining
		}
		if amount <= 0 {
			return nil
		}

		res := tx.Model(&models.CoinPool{}).
			Where("id = ? AND remaining >= ?", models.CoinPoolID, amount).
			Update("remaining", gorm.Expr("remaining - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		entry := models.CoinLedgerEntry{
			ID:         uuid.NewString(),
			UserID:     req.UserID,
			SourceType: string(req.SourceType),
			Amount:     amount,
			PostID:     optional(req.ContentID),
		}
		if req.IdempotencyKey != "" {
			entry.IdempotencyKey = &req.IdempotencyKey
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Profile{}).Where("id = ?", req.UserID).
			Update("coins", gorm.Expr("coins + ?", amount)).Error; err != nil {
			return err
		}
		granted = amount
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, remote.ErrNotFound
		}
		// A concurrent earn with the same key won the unique index.
		if req.IdempotencyKey != "" && b.keyUsed(ctx, req.IdempotencyKey) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to earn coins: %w", err)
	}
	return granted, nil
}

func (b *Backend) keyUsed(ctx context.Context, key string) bool {
	var n int64
	err := b.db.WithContext(ctx).Model(&models.CoinLedgerEntry{}).
		Where("idempotency_key = ?", key).Count(&n).Error
	return err == nil && n > 0
}

// debit removes amount from userID's balance. It reports false when the
// balance is insufficient.
func debit(tx *gorm.DB, userID string, amount int) (bool, error) {
	res := tx.Model(&models.Profile{}).
		Where("id = ? AND coins >= ?", userID, amount).
		Update("coins", gorm.Expr("coins - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

var errInsufficient = errors.New("insufficient balance")

// TipAuthor moves coins from tipper to author atomically.
func (b *Backend) TipAuthor(ctx context.Context, req remote.TipRequest) (bool, error) {
	if req.Amount <= 0 || req.TipperID == req.AuthorID {
		return false, fmt.Errorf("tip of %d: %w", req.Amount, remote.ErrRejected)
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var author models.Profile
		if err := tx.Select("id").First(&author, "id = ?", req.AuthorID).Error; err != nil {
			return err
		}

		ok, err := debit(tx, req.TipperID, req.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return errInsufficient
		}

		if err := tx.Model(&models.Profile{}).Where("id = ?", req.AuthorID).
			Update("coins", gorm.Expr("coins + ?", req.Amount)).Error; err != nil {
			return err
		}

		tip := models.Tip{
			ID:       uuid.NewString(),
			TipperID: req.TipperID,
			AuthorID: req.AuthorID,
			Amount:   req.Amount,
			PostID:   optional(req.ContentID),
			Message:  optional(req.Message),
		}
		if err := tx.Create(&tip).Error; err != nil {
			return err
		}

		return tx.Create([]models.CoinLedgerEntry{
			{ID: uuid.NewString(), UserID: req.TipperID, SourceType: models.LedgerSpend, Amount: -req.Amount, PostID: optional(req.ContentID)},
			{ID: uuid.NewString(), UserID: req.AuthorID, SourceType: models.LedgerReceived, Amount: req.Amount, PostID: optional(req.ContentID)},
		}).Error
	})
	return transferResult(err, "tip")
}

// BoostPost debits the booster and records the boost atomically.
func (b *Backend) BoostPost(ctx context.Context, req remote.BoostRequest) (bool, error) {
	if req.Amount <= 0 || req.ContentID == "" {
		return false, fmt.Errorf("boost of %d: %w", req.Amount, remote.ErrRejected)
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := debit(tx, req.BoosterID, req.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return errInsufficient
		}

		boost := models.PostBoost{
			ID:        uuid.NewString(),
			BoosterID: req.BoosterID,
			PostID:    req.ContentID,
			Amount:    req.Amount,
		}
		if err := tx.Create(&boost).Error; err != nil {
			return err
		}

		return tx.Create(&models.CoinLedgerEntry{
			ID:         uuid.NewString(),
			UserID:     req.BoosterID,
			SourceType: models.LedgerSpend,
			Amount:     -req.Amount,
			PostID:     optional(req.ContentID),
		}).Error
	})
	return transferResult(err, "boost")
}

func transferResult(err error, kind string) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errInsufficient):
		return false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, remote.ErrNotFound
	default:
		return false, fmt.Errorf("failed to %s: %w", kind, err)
	}
}

// AddXP increments XP and recomputes the denormalized rank.
func (b *Backend) AddXP(ctx context.Context, userID string, amount int) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("add_xp %d: %w", amount, remote.ErrRejected)
	}

	var newRank rank.Rank
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Profile{}).Where("id = ?", userID).
			Update("xp_points", gorm.Expr("xp_points + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var p models.Profile
		if err := tx.Select("id", "xp_points").First(&p, "id = ?", userID).Error; err != nil {
			return err
		}
		newRank = rank.Of(p.XPPoints)
		return tx.Model(&models.Profile{}).Where("id = ?", userID).
			Update("current_rank", string(newRank)).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", remote.ErrNotFound
		}
		return "", fmt.Errorf("failed to add xp: %w", err)
	}
	return string(newRank), nil
}

// GetCoinPool reads the shared pool counters.
func (b *Backend) GetCoinPool(ctx context.Context) (*remote.CoinPool, error) {
	var pool models.CoinPool
	if err := b.db.WithContext(ctx).First(&pool, models.CoinPoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get coin pool: %w", err)
	}
	return &remote.CoinPool{Remaining: pool.Remaining, Total: pool.TotalSupply}, nil
}

// ReactToPost stores or replaces userID's reaction on contentID.
func (b *Backend) ReactToPost(ctx context.Context, contentID, userID, emoji string) (bool, error) {
	if contentID == "" || emoji == "" {
		return false, fmt.Errorf("react: %w", remote.ErrRejected)
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Reaction
		err := tx.Where("post_id = ? AND user_id = ?", contentID, userID).First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&existing).Update("emoji", emoji).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.Reaction{
				ID:     uuid.NewString(),
				PostID: contentID,
				UserID: userID,
				Emoji:  emoji,
			}).Error
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("failed to react: %w", err)
	}
	return true, nil
}

// AddComment stores a comment and returns its id.
func (b *Backend) AddComment(ctx context.Context, contentID, authorID, content string) (string, error) {
	if contentID == "" || content == "" {
		return "", fmt.Errorf("comment: %w", remote.ErrRejected)
	}
	c := models.Comment{
		ID:       uuid.NewString(),
		PostID:   contentID,
		AuthorID: authorID,
		Content:  content,
	}
	if err := b.db.WithContext(ctx).Create(&c).Error; err != nil {
		return "", fmt.Errorf("failed to add comment: %w", err)
	}
	return c.ID, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
