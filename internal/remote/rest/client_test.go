package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(&config.BackendConfig{
		URL:        srv.URL,
		AnonKey:    "anon",
		TimeoutMS:  2000,
		MaxRetries: 1,
	}, logger.Nop())
}

func TestEarnCoins_SendsKeyAndToken(t *testing.T) {
	var gotArgs map[string]interface{}
	var gotAuth, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/earn_coins", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotArgs))
		_, _ = w.Write([]byte("3"))
	})

	ctx := remote.WithAccessToken(context.Background(), "user-jwt")
	granted, err := c.EarnCoins(ctx, remote.EarnRequest{
		UserID:         "u1",
		SourceType:     remote.SourceRead,
		BaseReward:     1,
		IdempotencyKey: "u1_read_global",
	})

	require.NoError(t, err)
	assert.Equal(t, 3, granted)
	assert.Equal(t, "Bearer user-jwt", gotAuth)
	assert.Equal(t, "anon", gotKey)
	assert.Equal(t, "u1_read_global", gotArgs["p_idempotency_key"])
	assert.Nil(t, gotArgs["p_post_id"])
}

func TestEarnCoins_NullGrantIsZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	})

	granted, err := c.EarnCoins(context.Background(), remote.EarnRequest{UserID: "u1", SourceType: remote.SourceLike})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

func TestDo_MapsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, remote.ErrUnauthenticated},
		{"not found", http.StatusNotFound, remote.ErrNotFound},
		{"conflict", http.StatusConflict, remote.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})
			_, err := c.TipAuthor(context.Background(), remote.TipRequest{TipperID: "a", AuthorID: "b", Amount: 5})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"remaining": 990000, "total_supply": 1000000}]`))
	})

	pool, err := c.GetCoinPool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 990000, pool.Remaining)
	assert.Equal(t, 1000000, pool.Total)
}

func TestFetchProfile_EmptyIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u9", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.FetchProfile(context.Background(), "u9")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestGetSession_WithoutTokenIsGuest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignIn_BadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
	})

	_, err := c.SignIn(context.Background(), "a@b.c", "wrong")
	assert.ErrorIs(t, err, remote.ErrUnauthenticated)
}

func TestSignIn_ReturnsSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"jwt","refresh_token":"r","expires_in":3600,"user":{"id":"u1","email":"a@b.c"}}`))
	})

	s, err := c.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", s.AccessToken)
	assert.Equal(t, "u1", s.User.ID)
}

func TestDo_ValueBearingCallsAreNotReplayed(t *testing.T) {
	tests := []struct {
		name string
		path string
		call func(c *Client) error
	}{
		{"tip", "/rest/v1/rpc/tip_author", func(c *Client) error {
			_, err := c.TipAuthor(context.Background(), remote.TipRequest{TipperID: "u1", AuthorID: "u2", Amount: 5, ContentID: "post-1"})
			return err
		}},
		{"boost", "/rest/v1/rpc/boost_post", func(c *Client) error {
			_, err := c.BoostPost(context.Background(), remote.BoostRequest{BoosterID: "u1", ContentID: "post-1", Amount: 25})
			return err
		}},
		{"add xp", "/rest/v1/rpc/add_xp", func(c *Client) error {
			_, err := c.AddXP(context.Background(), "u1", 5)
			return err
		}},
		{"comment", "/rest/v1/rpc/add_comment", func(c *Client) error {
			_, err := c.AddComment(context.Background(), "post-1", "u1", "a thoughtful comment")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var gotArgs map[string]interface{}
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				calls++
				if calls == 1 {
					require.NoError(t, json.NewDecoder(r.Body).Decode(&gotArgs))
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				_, _ = w.Write([]byte("true"))
			})

			err := tt.call(c)
			assert.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.NotEmpty(t, gotArgs)
		})
	}
}

func TestTipAuthor_RequestShape(t *testing.T) {
	var gotArgs map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotArgs))
		_, _ = w.Write([]byte("true"))
	})

	ok, err := c.TipAuthor(context.Background(), remote.TipRequest{TipperID: "u1", AuthorID: "u2", Amount: 5, Message: "thanks"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", gotArgs["p_tipper_id"])
	assert.Equal(t, "u2", gotArgs["p_author_id"])
	assert.EqualValues(t, 5, gotArgs["p_amount"])
	assert.Nil(t, gotArgs["p_post_id"])
	assert.Equal(t, "thanks", gotArgs["p_message"])
}

func TestDo_RetriesKeyedEarn(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("1"))
	})

	granted, err := c.EarnCoins(context.Background(), remote.EarnRequest{
		UserID: "u1", SourceType: remote.SourceShare, BaseReward: 2, IdempotencyKey: "u1_share_post-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, granted)
	assert.Equal(t, 2, calls)
}
