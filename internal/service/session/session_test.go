package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/identity"
	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/coins"
	"github.com/jara-app/rewards-gateway/internal/service/device"
	"github.com/jara-app/rewards-gateway/internal/service/engagement"
	"github.com/jara-app/rewards-gateway/pkg/logger"
	"github.com/jara-app/rewards-gateway/test/mocks"
)

func testConfig() *config.Config {
	return &config.Config{
		Economy: config.EconomyConfig{
			TotalSupply:       1_000_000,
			GuestMinReward:    1,
			GuestMaxReward:    5,
			PoolCacheTTLSecs:  15,
			LowPoolThreshold:  100,
			RemoteTimeoutSecs: 5,
		},
		Engagement: config.EngagementConfig{
			DepthThreshold:   0.75,
			MinDwellSecs:     15,
			DwellRatio:       0.35,
			CheckIntervalMS:  1000,
			PremiumBlurDepth: 0.5,
		},
		Rewards:  config.RewardsConfig{QueueCap: 5, XPTTLMS: 3000, CoinTTLMS: 3500},
		Sessions: config.SessionsConfig{IdleTTLMinutes: 30},
	}
}

type fixture struct {
	deps    Deps
	backend *mocks.StubBackend
	clock   *clockwork.FakeClock
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := mocks.NewStubBackend(1_000_000)
	return &fixture{
		deps: Deps{
			Auth:     backend,
			Data:     backend,
			Store:    localstore.NewMemoryStore(),
			Config:   testConfig(),
			Clock:    clock,
			Location: time.UTC,
			Log:      logger.Nop(),
		},
		backend: backend,
		clock:   clock,
	}
}

func (f *fixture) guest(t *testing.T) *Session {
	t.Helper()
	s := New("dev-guest", f.deps)
	s.Start(context.Background(), "")
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) member(t *testing.T, coins int) *Session {
	t.Helper()
	sess := f.backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada", Coins: coins, StreakDays: 2})
	s := New("dev-member", f.deps)
	s.Start(context.Background(), sess.AccessToken)
	require.Equal(t, identity.StateAuthenticated, s.Identity.State())
	t.Cleanup(s.Close)
	return s
}

// deepRead opens contentID, scrolls to the end and dwells long enough.
func (f *fixture) deepRead(t *testing.T, s *Session, contentID string) {
	t.Helper()
	before, _ := missionProgress(s, "daily_read_3")
	s.OpenView(engagement.View{ContentID: contentID, ReadTimeMinutes: 1})
	_, err := s.Scroll(engagement.Geometry{ViewportHeight: 800, ElementTop: -400, ScrollHeight: 1000})
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	s.Reader.Check()
	// The loop may win the latch; wait for the last step of the read action.
	require.Eventually(t, func() bool {
		cur, _ := missionProgress(s, "daily_read_3")
		return cur == before+1
	}, time.Second, 5*time.Millisecond)
	s.XP.Wait()
}

func missionProgress(s *Session, id string) (int, bool) {
	for _, m := range s.Missions.Missions() {
		if m.ID == id {
			return m.Current, m.Claimed
		}
	}
	return -1, false
}

func TestSession_GuestDeepRead(t *testing.T) {
	f := setupFixture(t)
	s := f.guest(t)

	f.deepRead(t, s, "post-1")

	st := s.Snapshot()
	assert.Equal(t, identity.StateGuest, st.Auth)
	assert.Equal(t, 1, st.Gamification.PostsRead)
	assert.Equal(t, 5, st.Gamification.XPPoints)
	assert.Equal(t, 5, st.Gamification.ShadowWalletXP)
	assert.Equal(t, 1, st.Coins.UserCoins)
	assert.Equal(t, coins.ModeSimulate, st.Coins.Mode)
	cur, _ := missionProgress(s, "daily_read_3")
	assert.Equal(t, 1, cur)
	require.NotNil(t, st.View)
	assert.True(t, st.View.Tracked)
	assert.Zero(t, f.backend.Calls(mocks.OpEarnCoins))
}

func TestSession_MemberRereadDoesNotDoubleGrant(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 0)

	f.deepRead(t, s, "post-1")
	f.deepRead(t, s, "post-1")

	st := s.Snapshot()
	assert.Equal(t, 1, st.Coins.UserCoins, "same user, source and content grants once")
	assert.Equal(t, 2, st.Gamification.PostsRead)
	assert.Equal(t, 10, st.Gamification.XPPoints)
	assert.Equal(t, 2, f.backend.Calls(mocks.OpEarnCoins))
	assert.Equal(t, 1, f.backend.Profile("u1").Coins)
}

func TestSession_ReactRewardsFirstReactionOnly(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 0)
	ctx := context.Background()

	_, err := s.React(ctx, "🔥")
	assert.ErrorIs(t, err, ErrNoActiveView)

	s.OpenView(engagement.View{ContentID: "post-1"})
	res, err := s.React(ctx, "🔥")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Equal(t, "🔥", res.Active)
	assert.Equal(t, 1, res.Coins)

	res, err = s.React(ctx, "🔥")
	require.NoError(t, err)
	assert.Empty(t, res.Active, "same emoji toggles off")
	assert.False(t, res.Rewarded)

	res, err = s.React(ctx, "😂")
	require.NoError(t, err)
	assert.False(t, res.Rewarded)
	s.XP.Wait()

	assert.Equal(t, 2, s.Snapshot().Gamification.XPPoints)
	cur, _ := missionProgress(s, "daily_react")
	assert.Equal(t, 1, cur)
	assert.Equal(t, 3, f.backend.Calls(mocks.OpReactToPost))

	// A new view re-arms the reward latch.
	s.OpenView(engagement.View{ContentID: "post-2"})
	res, err = s.React(ctx, "🔥")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
}

func TestSession_GuestReactStaysLocal(t *testing.T) {
	f := setupFixture(t)
	s := f.guest(t)

	s.OpenView(engagement.View{ContentID: "post-1"})
	res, err := s.React(context.Background(), "👏")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Zero(t, f.backend.Calls(mocks.OpReactToPost))
}

func TestSession_Share(t *testing.T) {
	f := setupFixture(t)
	s := f.guest(t)

	res, err := s.Share(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, RewardResult{XP: 5, Coins: 2}, res)
	cur, _ := missionProgress(s, "daily_share")
	assert.Equal(t, 1, cur)

	_, err = s.Share(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSession_Comment(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	guest := f.guest(t)
	_, err := guest.Comment(ctx, "post-1", "great read, thanks a lot!")
	assert.ErrorIs(t, err, ErrAuthRequired)

	s := f.member(t, 0)
	_, err = s.Comment(ctx, "post-1", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Comment(ctx, "post-1", "k")
	assert.ErrorIs(t, err, ErrInvalidInput)

	short, err := s.Comment(ctx, "post-1", "nice one")
	require.NoError(t, err)
	assert.NotEmpty(t, short.CommentID)
	assert.Zero(t, short.Reward.XP, "short comments are not rewarded")

	long, err := s.Comment(ctx, "post-1", "This breakdown of fuel prices is spot on.")
	require.NoError(t, err)
	assert.Equal(t, 5, long.Reward.XP)
	assert.Equal(t, 2, long.Reward.Coins)
	cur, _ := missionProgress(s, "daily_comment")
	assert.Equal(t, 1, cur)
	assert.Len(t, f.backend.Comments, 2)
}

func TestSession_CommentFailureGrantsNothing(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 0)
	f.backend.Fail(mocks.OpAddComment, errors.New("offline"))

	_, err := s.Comment(context.Background(), "post-1", "This breakdown of fuel prices is spot on.")
	assert.ErrorIs(t, err, ErrActionFailed)
	s.XP.Wait()
	assert.Zero(t, s.Snapshot().Gamification.XPPoints)
}

func TestSession_Publish(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	body := "<p>" + strings.Repeat("a", 150) + "</p>"

	guest := f.guest(t)
	_, err := guest.Publish(ctx, PublishRequest{PostID: "p1", Title: "T", Body: body, Category: "Gist"})
	assert.ErrorIs(t, err, ErrAuthRequired)

	s := f.member(t, 0)
	_, err = s.SaveDraft(device.Draft{Title: "Draft title", Body: "..."})
	require.NoError(t, err)

	_, err = s.Publish(ctx, PublishRequest{PostID: "p1", Title: "T", Body: "<p>too short</p>", Category: "Gist"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotNil(t, s.Prefs.Draft(), "failed publish keeps the draft")

	res, err := s.Publish(ctx, PublishRequest{PostID: "p1", Title: "T", Body: body, Category: "Gist"})
	require.NoError(t, err)
	assert.Equal(t, RewardResult{XP: 20, Coins: 3}, res)
	assert.Nil(t, s.Prefs.Draft())
	cur, _ := missionProgress(s, "daily_share")
	assert.Equal(t, 1, cur)
}

func TestSession_ClaimMission(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 0)
	ctx := context.Background()

	res, err := s.ClaimMission(ctx, "daily_streak")
	require.NoError(t, err)
	assert.Equal(t, RewardResult{XP: 50, Coins: 8}, res)

	_, err = s.ClaimMission(ctx, "daily_streak")
	assert.ErrorIs(t, err, ErrNothingToClaim)
	_, err = s.ClaimMission(ctx, "daily_share")
	assert.ErrorIs(t, err, ErrNothingToClaim)

	s.XP.Wait()
	st := s.Snapshot()
	assert.Equal(t, 50, st.Gamification.XPPoints)
	assert.Equal(t, 8, st.Coins.UserCoins)
	assert.Equal(t, 1, st.Missions.Claimed)
	assert.Equal(t, 50, st.Missions.ClaimedXP)

	// Tomorrow's streak claim pays again.
	f.clock.Advance(24 * time.Hour)
	require.True(t, s.Missions.ResetIfNewDay())
	res, err = s.ClaimMission(ctx, "daily_streak")
	require.NoError(t, err)
	assert.Equal(t, 8, res.Coins)
}

func TestSession_GuestClaimIsClamped(t *testing.T) {
	f := setupFixture(t)
	s := f.guest(t)

	res, err := s.ClaimMission(context.Background(), "daily_streak")
	require.NoError(t, err)
	assert.Equal(t, 50, res.XP)
	assert.Equal(t, 5, res.Coins)
}

func TestSession_Tip(t *testing.T) {
	f := setupFixture(t)
	f.backend.AddUser("author", "author@example.com", "pw", remote.Profile{Username: "author"})
	s := f.member(t, 20)
	ctx := context.Background()

	assert.ErrorIs(t, s.Tip(ctx, TipRequest{AuthorID: "author", Amount: 0}), ErrInvalidInput)
	assert.ErrorIs(t, s.Tip(ctx, TipRequest{AuthorID: "u1", Amount: 5}), ErrInvalidInput)
	assert.ErrorIs(t, s.Tip(ctx, TipRequest{AuthorID: "author", Amount: 21}), ErrInsufficientFunds)
	assert.Zero(t, f.backend.Calls(mocks.OpTipAuthor), "validation never reaches the backend")

	msg := strings.Repeat("é", 250)
	require.NoError(t, s.Tip(ctx, TipRequest{AuthorID: "author", Amount: 15, ContentID: "post-1", Message: msg}))

	require.Len(t, f.backend.Tips, 1)
	assert.Equal(t, 200, len([]rune(f.backend.Tips[0].Message)))
	assert.Equal(t, 5, s.Snapshot().Coins.UserCoins, "balance pulled from the profile")
	assert.Equal(t, 15, f.backend.Profile("author").Coins)
	assert.GreaterOrEqual(t, f.backend.Calls(mocks.OpGetCoinPool), 2)
}

func TestSession_TipGuestAndRemoteFailure(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	guest := f.guest(t)
	assert.ErrorIs(t, guest.Tip(ctx, TipRequest{AuthorID: "author", Amount: 1}), ErrAuthRequired)

	s := f.member(t, 20)
	f.backend.Fail(mocks.OpTipAuthor, errors.New("timeout"))
	err := s.Tip(ctx, TipRequest{AuthorID: "author", Amount: 5})
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Equal(t, 20, s.Snapshot().Coins.UserCoins)
}

func TestSession_Boost(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 30)
	ctx := context.Background()

	assert.ErrorIs(t, s.Boost(ctx, "post-1", 15), ErrInvalidInput)
	assert.ErrorIs(t, s.Boost(ctx, "post-1", 50), ErrInsufficientFunds)
	require.NoError(t, s.Boost(ctx, "post-1", 25))

	assert.Equal(t, 5, s.Snapshot().Coins.UserCoins)
	require.Len(t, f.backend.Boosts, 1)
	assert.Equal(t, 25, f.backend.Boosts[0].Amount)
}

func TestSession_SignOutKeepsNumbersAndRestartsView(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 12)
	ctx := context.Background()

	s.OpenView(engagement.View{ContentID: "post-1"})
	_, err := s.Scroll(engagement.Geometry{ViewportHeight: 800, ElementTop: 0, ScrollHeight: 1000})
	require.NoError(t, err)
	require.InDelta(t, 0.8, s.Reader.Depth(), 1e-9)

	s.Identity.SignOut(ctx)

	st := s.Snapshot()
	assert.Equal(t, identity.StateGuest, st.Auth)
	assert.True(t, st.Gamification.IsGuest)
	assert.Equal(t, 2, st.Gamification.StreakDays)
	assert.Equal(t, 12, st.Coins.UserCoins)
	require.NotNil(t, st.View)
	assert.Equal(t, "post-1", st.View.ContentID)
	assert.Zero(t, st.View.Depth, "view restarted for the new identity")
}

func TestSession_StreakCelebration(t *testing.T) {
	f := setupFixture(t)
	s := f.member(t, 0)

	assert.True(t, s.StreakCelebration())
	assert.False(t, s.StreakCelebration())

	guest := New("dev-2", f.deps)
	guest.Start(context.Background(), "")
	t.Cleanup(guest.Close)
	assert.False(t, guest.StreakCelebration())
}

func TestSession_MissionsPersistAcrossSessions(t *testing.T) {
	f := setupFixture(t)
	s := f.guest(t)
	_, err := s.Share(context.Background(), "post-1")
	require.NoError(t, err)
	s.Close()

	again := New("dev-guest", f.deps)
	t.Cleanup(again.Close)
	cur, _ := missionProgress(again, "daily_share")
	assert.Equal(t, 1, cur)
}
