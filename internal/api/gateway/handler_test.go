package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/session"
	"github.com/jara-app/rewards-gateway/pkg/logger"
	"github.com/jara-app/rewards-gateway/test/mocks"
)

func testConfig() *config.Config {
	return &config.Config{
		Economy: config.EconomyConfig{
			TotalSupply:       1_000_000,
			GuestMinReward:    1,
			GuestMaxReward:    5,
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
		Sessions: config.SessionsConfig{IdleTTLMinutes: 60},
	}
}

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	sessions *session.Manager
	backend  *mocks.StubBackend
	tokens   map[string]string // device id to access token
}

func setupTestEnv(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := mocks.NewStubBackend(1_000_000)
	sessions := session.NewManager(session.Deps{
		Auth:     backend,
		Data:     backend,
		Store:    localstore.NewMemoryStore(),
		Config:   testConfig(),
		Clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
		Location: time.UTC,
		Log:      logger.Nop(),
	})
	t.Cleanup(sessions.Close)

	h := NewHandler(sessions, checks, logger.Nop())
	router := gin.New()
	h.Register(router, "/metrics")
	return &testEnv{router: router, handler: h, sessions: sessions, backend: backend, tokens: map[string]string{}}
}

func (e *testEnv) do(t *testing.T, method, path, device string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set(HeaderDeviceID, device)
	}
	if tok := e.tokens[device]; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	e.trackToken(device, path, w)
	return w
}

// trackToken remembers the access token handed out by sign-in and sign-up so
// later requests of the device carry it, as the front-end does.
func (e *testEnv) trackToken(device, path string, w *httptest.ResponseRecorder) {
	if w.Code >= http.StatusMultipleChoices {
		return
	}
	if strings.HasSuffix(path, "/auth/signout") {
		delete(e.tokens, device)
		return
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if json.Unmarshal(w.Body.Bytes(), &out) == nil && out.AccessToken != "" {
		e.tokens[device] = out.AccessToken
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) signIn(t *testing.T, device string, coins int) {
	t.Helper()
	e.backend.AddUser("u1", "ada@example.com", "secret1", remote.Profile{Username: "ada", Coins: coins, StreakDays: 3})
	w := e.do(t, http.MethodPost, "/api/v1/auth/signin", device, gin.H{"email": "ada@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestState_AssignsDeviceID(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/state", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	device := w.Header().Get(HeaderDeviceID)
	assert.NotEmpty(t, device)

	body := decode(t, w)
	assert.Equal(t, "guest", body["auth"])
	assert.Equal(t, device, body["sessionId"])

	w = env.do(t, http.MethodGet, "/api/v1/state", device, nil)
	assert.Equal(t, device, w.Header().Get(HeaderDeviceID))
	assert.Equal(t, 1, env.sessions.Len())
}

func TestState_RestoresBearerToken(t *testing.T) {
	env := setupTestEnv(t, nil)
	sess := env.backend.AddUser("u1", "ada@example.com", "secret1", remote.Profile{Coins: 7})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", http.NoBody)
	req.Header.Set(HeaderDeviceID, "dev-1")
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "authenticated", body["auth"])
	assert.Equal(t, float64(7), body["coins"].(map[string]any)["userCoins"])
}

func TestAuth_SignInAndOut(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.backend.AddUser("u1", "ada@example.com", "secret1", remote.Profile{Username: "ada"})

	w := env.do(t, http.MethodPost, "/api/v1/auth/signin", "dev-1", gin.H{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/signin", "dev-1", gin.H{"email": "ada@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/signin", "dev-1", gin.H{"email": "ada@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["accessToken"])
	assert.Equal(t, "authenticated", body["state"].(map[string]any)["auth"])

	w = env.do(t, http.MethodPost, "/api/v1/auth/signout", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guest", decode(t, w)["auth"])
}

func TestAuth_SignUp(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/auth/signup", "dev-1", gin.H{"email": "new@example.com", "password": "123", "username": "nu"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "password too short")

	w = env.do(t, http.MethodPost, "/api/v1/auth/signup", "dev-1", gin.H{"email": "new@example.com", "password": "123456", "username": "nu"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "authenticated", decode(t, w)["state"].(map[string]any)["auth"])
}

func TestProfile_Update(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPatch, "/api/v1/profile", "dev-1", gin.H{"username": "ada"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.signIn(t, "dev-1", 0)
	w = env.do(t, http.MethodPatch, "/api/v1/profile", "dev-1", gin.H{"avatarUrl": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/profile", "dev-1", gin.H{"username": "lovelace"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lovelace", decode(t, w)["username"])
}

func TestViews_OpenScrollReact(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/views/react", "dev-1", gin.H{"emoji": "🔥"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/views/scroll", "dev-1", gin.H{"viewportHeight": 800, "elementTop": 0, "scrollHeight": 1000})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/views", "dev-1", gin.H{"readTimeMinutes": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code, "content id required")

	w = env.do(t, http.MethodPost, "/api/v1/views", "dev-1", gin.H{"contentId": "post-1", "readTimeMinutes": 3, "premium": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/views/scroll", "dev-1", gin.H{"viewportHeight": 800, "elementTop": 0, "scrollHeight": 1000})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 0.8, body["depth"], 1e-9)
	assert.Equal(t, true, body["obscured"], "guests hit the premium overlay")

	w = env.do(t, http.MethodPost, "/api/v1/views/react", "dev-1", gin.H{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["rewarded"])

	w = env.do(t, http.MethodDelete, "/api/v1/views", "dev-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/state", "dev-1", nil)
	assert.Nil(t, decode(t, w)["view"])
}

func TestPosts_ShareCommentSave(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/posts/post-1/share", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["xp"])

	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/comments", "dev-1", gin.H{"text": "really enjoyed this one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.signIn(t, "dev-1", 0)
	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/comments", "dev-1", gin.H{"text": "really enjoyed this one"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode(t, w)["commentId"])

	env.backend.Fail(mocks.OpAddComment, errors.New("offline"))
	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/comments", "dev-1", gin.H{"text": "really enjoyed this one"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/save", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["saved"])
}

func TestPosts_Publish(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.signIn(t, "dev-1", 0)

	w := env.do(t, http.MethodPost, "/api/v1/posts", "dev-1", gin.H{"postId": "p1", "title": "Fuel"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/posts", "dev-1", gin.H{
		"postId": "p1", "title": "Fuel", "category": "Gist", "body": "<p>" + strings.Repeat("word ", 40) + "</p>",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(20), decode(t, w)["xp"])
}

func TestCoins_TipBoostAndSpendCheck(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.backend.AddUser("author", "author@example.com", "pw", remote.Profile{})
	env.signIn(t, "dev-1", 30)

	w := env.do(t, http.MethodGet, "/api/v1/coins/can-spend?amount=20", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
	w = env.do(t, http.MethodGet, "/api/v1/coins/can-spend?amount=abc", "dev-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/boost", "dev-1", gin.H{"amount": 15})
	assert.Equal(t, http.StatusBadRequest, w.Code, "not a boost tier")
	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/boost", "dev-1", gin.H{"amount": 50})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/posts/post-1/boost", "dev-1", gin.H{"amount": 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), decode(t, w)["userCoins"])

	w = env.do(t, http.MethodPost, "/api/v1/coins/tip", "dev-1", gin.H{"authorId": "author", "amount": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(15), decode(t, w)["userCoins"])

	w = env.do(t, http.MethodPost, "/api/v1/coins/tip", "dev-1", gin.H{"authorId": "u1", "amount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code, "self tip")

	w = env.do(t, http.MethodPost, "/api/v1/coins/refresh", "dev-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissions_Claim(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/missions/daily_streak/claim", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), decode(t, w)["xp"])

	w = env.do(t, http.MethodPost, "/api/v1/missions/daily_streak/claim", "dev-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEvents_Dismiss(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/posts/post-1/share", "dev-1", nil)

	s, ok := env.sessions.Get("dev-1")
	require.True(t, ok)
	events := s.XP.Snapshot().Events
	require.Len(t, events, 1)

	w := env.do(t, http.MethodDelete, "/api/v1/events/xp/"+events[0].ID, "dev-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/events/xp/"+events[0].ID, "dev-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/events/badge/x", "dev-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevicePreferences(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/theme", "dev-1", nil)
	assert.Equal(t, "light", decode(t, w)["theme"])
	w = env.do(t, http.MethodPut, "/api/v1/theme", "dev-1", gin.H{"theme": "sepia"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPut, "/api/v1/theme", "dev-1", gin.H{"theme": "high-contrast"})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/theme", "dev-1", nil)
	assert.Equal(t, "high-contrast", decode(t, w)["theme"])

	w = env.do(t, http.MethodGet, "/api/v1/draft", "dev-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPut, "/api/v1/draft", "dev-1", gin.H{"title": "Lagos Traffic Diaries"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lagos-traffic-diaries", decode(t, w)["slug"])
	w = env.do(t, http.MethodDelete, "/api/v1/draft", "dev-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPut, "/api/v1/draft", "dev-1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreakCelebration(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.signIn(t, "dev-1", 0)

	w := env.do(t, http.MethodPost, "/api/v1/streak/celebrate", "dev-1", nil)
	body := decode(t, w)
	assert.Equal(t, true, body["show"])
	assert.Equal(t, float64(3), body["streakDays"])

	w = env.do(t, http.MethodPost, "/api/v1/streak/celebrate", "dev-1", nil)
	assert.Equal(t, false, decode(t, w)["show"])
}

func TestHealth(t *testing.T) {
	healthy := setupTestEnv(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	w := healthy.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["dependencies"].(map[string]any)["database"])

	broken := setupTestEnv(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = broken.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/posts/post-1/share", "dev-1", nil)

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "xp_granted_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(session.ErrAuthRequired))
	assert.Equal(t, http.StatusPaymentRequired, statusFor(session.ErrInsufficientFunds))
	assert.Equal(t, http.StatusConflict, statusFor(session.ErrNothingToClaim))
	assert.Equal(t, http.StatusUnauthorized, statusFor(session.ErrIdentityMismatch))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}

func TestSession_BindsAccessToken(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.signIn(t, "dev-1", 50)
	bob := env.backend.AddUser("u2", "bob@example.com", "secret2", remote.Profile{Username: "bob", Coins: 50})
	adaToken := env.tokens["dev-1"]
	require.NotEmpty(t, adaToken)

	tip := gin.H{"authorId": "u3", "contentId": "post-1", "amount": 20}

	t.Run("no token on a member session", func(t *testing.T) {
		delete(env.tokens, "dev-1")
		t.Cleanup(func() { env.tokens["dev-1"] = adaToken })

		w := env.do(t, http.MethodPost, "/api/v1/coins/tip", "dev-1", tip)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		w = env.do(t, http.MethodGet, "/api/v1/state", "dev-1", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("another member's token", func(t *testing.T) {
		env.tokens["dev-1"] = bob.AccessToken
		t.Cleanup(func() { env.tokens["dev-1"] = adaToken })

		w := env.do(t, http.MethodPost, "/api/v1/coins/tip", "dev-1", tip)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	assert.Zero(t, env.backend.Calls(mocks.OpTipAuthor))
	assert.Equal(t, 50, env.backend.Profile("u1").Coins)

	w := env.do(t, http.MethodGet, "/api/v1/state", "dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "authenticated", decode(t, w)["auth"])
}
