package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
	"github.com/jara-app/rewards-gateway/test/mocks"
)

func setupTestAdapter(t *testing.T) (*Adapter, *mocks.StubBackend, *[]*remote.Profile) {
	t.Helper()

	backend := mocks.NewStubBackend(1000)
	a := NewAdapter(backend, backend, NewCell(), time.Second, logger.Nop())

	var seen []*remote.Profile
	a.OnProfile(func(p *remote.Profile) { seen = append(seen, p) })
	return a, backend, &seen
}

func TestAdapter_RestoreWithoutTokenIsGuest(t *testing.T) {
	a, backend, seen := setupTestAdapter(t)

	a.Restore(context.Background(), "")

	assert.Equal(t, StateGuest, a.State())
	assert.Nil(t, a.Profile())
	assert.Equal(t, 0, backend.Calls(mocks.OpGetSession))
	require.Len(t, *seen, 1)
	assert.Nil(t, (*seen)[0])
}

func TestAdapter_RestoreLoadsProfileAndStreak(t *testing.T) {
	a, backend, seen := setupTestAdapter(t)
	sess := backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada", XPPoints: 120, StreakDays: 2})
	backend.Streak = 3

	a.Restore(context.Background(), sess.AccessToken)

	assert.Equal(t, StateAuthenticated, a.State())
	p := a.Profile()
	require.NotNil(t, p)
	assert.Equal(t, "ada", p.Username)
	assert.Equal(t, 3, p.StreakDays, "streak rollover result is applied")
	assert.Equal(t, 1, backend.Calls(mocks.OpUpdateStreak))
	require.Len(t, *seen, 1)
	assert.Equal(t, 120, (*seen)[0].XPPoints)

	userID, ok := a.Cell().UserID()
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
}

func TestAdapter_StreakFailureStillLoadsProfile(t *testing.T) {
	a, backend, _ := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada", StreakDays: 4})
	backend.Fail(mocks.OpUpdateStreak, errors.New("timeout"))

	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))

	p := a.Profile()
	require.NotNil(t, p)
	assert.Equal(t, 4, p.StreakDays)
}

func TestAdapter_ProfileFailureStaysAuthenticated(t *testing.T) {
	a, backend, seen := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada"})
	backend.Fail(mocks.OpFetchProfile, errors.New("boom"))

	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))

	assert.Equal(t, StateAuthenticated, a.State())
	assert.Nil(t, a.Profile())
	assert.Empty(t, *seen)
}

func TestAdapter_SignInBadCredentials(t *testing.T) {
	a, backend, _ := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{})

	err := a.SignIn(context.Background(), "ada@example.com", "nope")
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)
	assert.Equal(t, StateGuest, a.State())
}

func TestAdapter_SignOutClearsProfile(t *testing.T) {
	a, backend, seen := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada"})
	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))

	a.SignOut(context.Background())

	assert.Equal(t, StateGuest, a.State())
	assert.Nil(t, a.Profile())
	assert.Nil(t, a.Session())
	assert.Equal(t, 1, backend.Calls(mocks.OpSignOut))
	require.Len(t, *seen, 2)
	assert.Nil(t, (*seen)[1])
}

func TestAdapter_SignOutRemoteFailureStillSignsOut(t *testing.T) {
	a, backend, _ := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{})
	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))
	backend.Fail(mocks.OpSignOut, errors.New("offline"))

	a.SignOut(context.Background())
	assert.Equal(t, StateGuest, a.State())
}

func TestAdapter_SignUpCreatesMember(t *testing.T) {
	a, _, _ := setupTestAdapter(t)

	require.NoError(t, a.SignUp(context.Background(), "new@example.com", "secret", "newbie"))

	p := a.Profile()
	require.NotNil(t, p)
	assert.Equal(t, "newbie", p.Username)
	assert.Equal(t, "JJC", p.CurrentRank)
}

func TestAdapter_UpdateProfileRefetches(t *testing.T) {
	a, backend, seen := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada"})
	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))

	loc := "Lagos"
	ok := a.UpdateProfile(context.Background(), remote.ProfilePatch{LocationState: &loc})

	assert.True(t, ok)
	assert.Equal(t, "Lagos", a.Profile().LocationState)
	assert.Equal(t, 2, backend.Calls(mocks.OpFetchProfile))
	assert.Len(t, *seen, 2)
}

func TestAdapter_UpdateProfileGuestIsNoop(t *testing.T) {
	a, backend, _ := setupTestAdapter(t)

	loc := "Lagos"
	assert.False(t, a.UpdateProfile(context.Background(), remote.ProfilePatch{LocationState: &loc}))
	assert.Equal(t, 0, backend.Calls(mocks.OpUpdateProfile))
}

func TestAdapter_StaleProfileIsDiscarded(t *testing.T) {
	a, backend, _ := setupTestAdapter(t)
	backend.AddUser("u1", "ada@example.com", "pw", remote.Profile{Username: "ada"})

	// Sign out while the profile fetch is in flight.
	backend.OnCall(mocks.OpFetchProfile, func() {
		a.cell.Store(nil)
	})

	require.NoError(t, a.SignIn(context.Background(), "ada@example.com", "pw"))
	assert.Nil(t, a.Profile())
}

func TestCell_ContextCarriesToken(t *testing.T) {
	c := NewCell()
	assert.True(t, c.IsGuest())

	_, ok := remote.AccessToken(c.Context(context.Background()))
	assert.False(t, ok)

	c.Store(&Identity{UserID: "u1", AccessToken: "jwt"})
	tok, ok := remote.AccessToken(c.Context(context.Background()))
	assert.True(t, ok)
	assert.Equal(t, "jwt", tok)

	assert.Nil(t, FromSession(&remote.Session{}))
}
