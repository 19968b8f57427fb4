// Package rest talks to the hosted identity and data service over its REST
// surface: GoTrue-style auth endpoints and PostgREST tables and RPCs.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jara-app/rewards-gateway/internal/config"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Client implements remote.Auth and remote.Data against the hosted backend.
type Client struct {
	baseURL string
	anonKey string
	http    *retryablehttp.Client
	once    *retryablehttp.Client
	log     *logger.Logger
}

var (
	_ remote.Auth = (*Client)(nil)
	_ remote.Data = (*Client)(nil)
)

// NewClient creates a new backend client.
func NewClient(cfg *config.BackendConfig, log *logger.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	rc.Logger = nil
	rc.CheckRetry = checkRetry

	once := retryablehttp.NewClient()
	once.RetryMax = 0
	once.HTTPClient.Timeout = rc.HTTPClient.Timeout
	once.Logger = nil
	once.CheckRetry = checkRetry

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		http:    rc,
		once:    once,
		log:     log.Component("rest"),
	}
}

// replayable reports whether op may be sent again after an ambiguous failure.
// Reads and partial updates are, and so are procedures that deduplicate on
// their own. Tips, boosts, XP, reactions and comments are sent exactly once.
func replayable(op, method string) bool {
	switch method {
	case http.MethodGet, http.MethodPatch:
		return true
	}
	switch op {
	case "earn_coins", "update_streak", "sign_in":
		return true
	}
	return false
}

// clientFor picks the retrying client only for replayable calls.
func (c *Client) clientFor(op, method string) *retryablehttp.Client {
	if replayable(op, method) {
		return c.http
	}
	return c.once
}

// checkRetry retries transport errors and 5xx, never 4xx.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	return false, nil
}

// apiError is the error envelope returned by both GoTrue and PostgREST.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Error   string `json:"error_description"`
}

func (e *apiError) message() string {
	for _, s := range []string{e.Message, e.Msg, e.Error} {
		if s != "" {
			return s
		}
	}
	return http.StatusText(e.Status)
}

// do sends a request and decodes a JSON response into out (which may be nil).
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, extra http.Header) error {
	start := time.Now()
	status := "ok"
	defer func() {
		prommetrics.ObserveRemoteCall(op, status, time.Since(start).Seconds())
	}()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			status = "error"
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		status = "error"
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	bearer := c.anonKey
	if tok, ok := remote.AccessToken(ctx); ok {
		bearer = tok
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.clientFor(op, method).Do(req)
	if err != nil {
		status = "error"
		return fmt.Errorf("failed to call %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "error"
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode >= 300 {
		status = "error"
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %s: %w", op, apiErr.message(), remote.ErrUnauthenticated)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %s: %w", op, apiErr.message(), remote.ErrNotFound)
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: %s: %w", op, apiErr.message(), remote.ErrRejected)
		default:
			return fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, apiErr.message())
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		status = "error"
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// rpc invokes a stored procedure.
func (c *Client) rpc(ctx context.Context, fn string, args, out interface{}) error {
	return c.do(ctx, fn, http.MethodPost, "/rest/v1/rpc/"+fn, nil, args, out, nil)
}

// Auth

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         remote.User `json:"user"`
}

func (t *tokenResponse) session() *remote.Session {
	if t.AccessToken == "" {
		return nil
	}
	return &remote.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(t.ExpiresIn) * time.Second),
		User:         t.User,
	}
}

// GetSession validates the access token carried by ctx. Without a token there
// is no session and the caller is a guest.
func (c *Client) GetSession(ctx context.Context) (*remote.Session, error) {
	tok, ok := remote.AccessToken(ctx)
	if !ok {
		return nil, nil
	}
	var user remote.User
	if err := c.do(ctx, "get_user", http.MethodGet, "/auth/v1/user", nil, nil, &user, nil); err != nil {
		if errors.Is(err, remote.ErrUnauthenticated) {
			return nil, nil
		}
		return nil, err
	}
	return &remote.Session{AccessToken: tok, User: user}, nil
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	var out tokenResponse
	q := url.Values{"grant_type": []string{"password"}}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token", q, body, &out, nil); err != nil {
		if errors.Is(err, remote.ErrRejected) {
			return nil, fmt.Errorf("invalid credentials: %w", remote.ErrUnauthenticated)
		}
		return nil, err
	}
	s := out.session()
	if s == nil {
		return nil, fmt.Errorf("sign_in returned no session: %w", remote.ErrUnauthenticated)
	}
	return s, nil
}

// SignUp registers a new account. When the provider requires email confirmation
// no session is returned and the caller stays a guest.
func (c *Client) SignUp(ctx context.Context, email, password, username string) (*remote.Session, error) {
	var out tokenResponse
	body := map[string]interface{}{
		"email":    email,
		"password": password,
		"data":     map[string]string{"username": username},
	}
	if err := c.do(ctx, "sign_up", http.MethodPost, "/auth/v1/signup", nil, body, &out, nil); err != nil {
		return nil, err
	}
	return out.session(), nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	ctx = remote.WithAccessToken(ctx, accessToken)
	return c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, nil, nil, nil)
}

// Data

// FetchProfile reads one profile row.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*remote.Profile, error) {
	var rows []remote.Profile
	q := url.Values{"id": []string{"eq." + userID}, "select": []string{"*"}}
	if err := c.do(ctx, "fetch_profile", http.MethodGet, "/rest/v1/profiles", q, nil, &rows, nil); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}

// UpdateProfile applies a partial update to a profile row.
func (c *Client) UpdateProfile(ctx context.Context, userID string, patch remote.ProfilePatch) error {
	q := url.Values{"id": []string{"eq." + userID}}
	h := http.Header{"Prefer": []string{"return=minimal"}}
	return c.do(ctx, "update_profile", http.MethodPatch, "/rest/v1/profiles", q, patch, nil, h)
}

// UpdateStreak runs the remote streak rollover.
func (c *Client) UpdateStreak(ctx context.Context, userID string) (int, error) {
	var streak int
	err := c.rpc(ctx, "update_streak", map[string]string{"p_user_id": userID}, &streak)
	return streak, err
}

// EarnCoins proposes a grant; the procedure returns what it actually granted.
func (c *Client) EarnCoins(ctx context.Context, req remote.EarnRequest) (int, error) {
	args := map[string]interface{}{
		"p_user_id":         req.UserID,
		"p_source_type":     string(req.SourceType),
		"p_base_reward":     req.BaseReward,
		"p_post_id":         nullable(req.ContentID),
		"p_idempotency_key": req.IdempotencyKey,
	}
	var granted *int
	if err := c.rpc(ctx, "earn_coins", args, &granted); err != nil {
		return 0, err
	}
	if granted == nil {
		return 0, nil
	}
	return *granted, nil
}

// TipAuthor atomically moves coins from tipper to author.
func (c *Client) TipAuthor(ctx context.Context, req remote.TipRequest) (bool, error) {
	args := map[string]interface{}{
		"p_tipper_id": req.TipperID,
		"p_author_id": req.AuthorID,
		"p_amount":    req.Amount,
		"p_post_id":   nullable(req.ContentID),
		"p_message":   req.Message,
	}
	var ok bool
	err := c.rpc(ctx, "tip_author", args, &ok)
	return ok, err
}

// BoostPost atomically debits the booster.
func (c *Client) BoostPost(ctx context.Context, req remote.BoostRequest) (bool, error) {
	args := map[string]interface{}{
		"p_booster_id": req.BoosterID,
		"p_post_id":    req.ContentID,
		"p_amount":     req.Amount,
	}
	var ok bool
	err := c.rpc(ctx, "boost_post", args, &ok)
	return ok, err
}

// AddXP increments XP remotely and returns the recomputed rank.
func (c *Client) AddXP(ctx context.Context, userID string, amount int) (string, error) {
	var rank string
	err := c.rpc(ctx, "add_xp", map[string]interface{}{"p_user_id": userID, "p_amount": amount}, &rank)
	return rank, err
}

// GetCoinPool reads the shared pool counters.
func (c *Client) GetCoinPool(ctx context.Context) (*remote.CoinPool, error) {
	var rows []remote.CoinPool
	q := url.Values{"id": []string{"eq.1"}, "select": []string{"remaining,total_supply"}}
	if err := c.do(ctx, "get_coin_pool", http.MethodGet, "/rest/v1/coin_pool", q, nil, &rows, nil); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}

// ReactToPost records a reaction.
func (c *Client) ReactToPost(ctx context.Context, contentID, userID, emoji string) (bool, error) {
	var ok bool
	args := map[string]string{"p_post_id": contentID, "p_user_id": userID, "p_emoji": emoji}
	err := c.rpc(ctx, "react_to_post", args, &ok)
	return ok, err
}

// AddComment stores a comment and returns its id.
func (c *Client) AddComment(ctx context.Context, contentID, authorID, content string) (string, error) {
	var id string
	args := map[string]string{"p_post_id": contentID, "p_author_id": authorID, "p_content": content}
	err := c.rpc(ctx, "add_comment", args, &id)
	return id, err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
