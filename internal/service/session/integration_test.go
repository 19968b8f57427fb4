package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jara-app/rewards-gateway/internal/identity"
	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/internal/repository"
	"github.com/jara-app/rewards-gateway/internal/service/coins"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// setupReferenceDeps wires sessions to the gorm reference backend on an
// in-memory SQLite database.
func setupReferenceDeps(t *testing.T) (Deps, *repository.Backend, *clockwork.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	wrapped := &repository.DB{DB: db}
	require.NoError(t, wrapped.AutoMigrate())
	t.Cleanup(func() { _ = wrapped.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := repository.NewBackend(wrapped, clock, time.UTC)
	require.NoError(t, backend.EnsureCoinPool(context.Background(), 1_000_000))

	return Deps{
		Auth:     repository.NewAccounts(wrapped, clock),
		Data:     backend,
		Store:    localstore.NewMemoryStore(),
		Config:   testConfig(),
		Clock:    clock,
		Location: time.UTC,
		Log:      logger.Nop(),
	}, backend, clock
}

func TestReferenceBackend_SignUpEarnAndTip(t *testing.T) {
	deps, backend, _ := setupReferenceDeps(t)
	ctx := context.Background()

	author := New("dev-author", deps)
	author.Start(ctx, "")
	t.Cleanup(author.Close)
	require.NoError(t, author.Identity.SignUp(ctx, "author@example.com", "secret1", "author"))
	authorID, ok := author.Identity.Cell().UserID()
	require.True(t, ok)

	reader := New("dev-reader", deps)
	reader.Start(ctx, "")
	t.Cleanup(reader.Close)
	require.NoError(t, reader.Identity.SignUp(ctx, "reader@example.com", "secret1", "reader"))
	assert.Equal(t, identity.StateAuthenticated, reader.Identity.State())
	assert.Equal(t, coins.ModeDelegate, reader.Coins.Mode())

	// The same share twice is granted once by the ledger.
	res, err := reader.Share(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Coins)
	res, err = reader.Share(ctx, "post-1")
	require.NoError(t, err)
	assert.Zero(t, res.Coins)

	claim, err := reader.ClaimMission(ctx, "daily_streak")
	require.NoError(t, err)
	assert.Equal(t, 8, claim.Coins)
	reader.XP.Wait()

	pool, err := backend.GetCoinPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000-10, pool.Remaining)

	require.NoError(t, reader.Tip(ctx, TipRequest{AuthorID: authorID, ContentID: "post-1", Amount: 4, Message: "great read"}))
	assert.Equal(t, 6, reader.Snapshot().Coins.UserCoins)

	author.Identity.RefreshProfile(ctx)
	assert.Equal(t, 4, author.Snapshot().Coins.UserCoins)

	// XP written in the background reached the profile table.
	p, err := backend.FetchProfile(ctx, readerIDOf(t, reader))
	require.NoError(t, err)
	assert.Equal(t, 55, p.XPPoints)
}

func TestReferenceBackend_RestoreAfterRestart(t *testing.T) {
	deps, _, _ := setupReferenceDeps(t)
	ctx := context.Background()

	first := New("dev-1", deps)
	first.Start(ctx, "")
	require.NoError(t, first.Identity.SignUp(ctx, "ada@example.com", "secret1", "ada"))
	token := first.Identity.Session().AccessToken
	_, err := first.Share(ctx, "post-1")
	require.NoError(t, err)
	first.Close()

	again := New("dev-1", deps)
	again.Start(ctx, token)
	t.Cleanup(again.Close)

	assert.Equal(t, identity.StateAuthenticated, again.Identity.State())
	assert.Equal(t, 2, again.Snapshot().Coins.UserCoins)
	cur, _ := missionProgress(again, "daily_share")
	assert.Equal(t, 1, cur, "missions persisted on the device")
}

func readerIDOf(t *testing.T, s *Session) string {
	t.Helper()
	id, ok := s.Identity.Cell().UserID()
	require.True(t, ok)
	return id
}
