// Package mocks provides in-memory test doubles for the backend contracts.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/rank"
)

// Operation names used by StubBackend call counts and failure injection.
const (
	OpGetSession    = "get_session"
	OpSignIn        = "sign_in"
	OpSignUp        = "sign_up"
	OpSignOut       = "sign_out"
	OpFetchProfile  = "fetch_profile"
	OpUpdateProfile = "update_profile"
	OpUpdateStreak  = "update_streak"
	OpEarnCoins     = "earn_coins"
	OpTipAuthor     = "tip_author"
	OpBoostPost     = "boost_post"
	OpAddXP         = "add_xp"
	OpGetCoinPool   = "get_coin_pool"
	OpReactToPost   = "react_to_post"
	OpAddComment    = "add_comment"
)

// StubBackend is an in-memory remote.Auth and remote.Data. The earn procedure
// grants at most once per idempotency key, like the real ledger.
type StubBackend struct {
	mu sync.Mutex

	profiles map[string]*remote.Profile
	accounts map[string]stubAccount // email -> account
	sessions map[string]*remote.Session
	pool     remote.CoinPool
	usedKeys map[string]bool
	calls    map[string]int
	failures map[string]error
	hooks    map[string]func()

	// GrantFunc decides how many coins an earn grants before pool capping.
	// Nil grants the base reward.
	GrantFunc func(req remote.EarnRequest) int
	// Streak is what UpdateStreak returns for every user. Zero leaves the
	// profile's streak unchanged.
	Streak int

	EarnRequests   []remote.EarnRequest
	Tips           []remote.TipRequest
	Boosts         []remote.BoostRequest
	XPAdds         []int
	ProfilePatches []remote.ProfilePatch
	Reactions      []string
	Comments       []string
}

type stubAccount struct {
	password string
	userID   string
}

var (
	_ remote.Auth = (*StubBackend)(nil)
	_ remote.Data = (*StubBackend)(nil)
)

// NewStubBackend creates a backend with a pool of totalSupply coins.
func NewStubBackend(totalSupply int) *StubBackend {
	return &StubBackend{
		profiles: make(map[string]*remote.Profile),
		accounts: make(map[string]stubAccount),
		sessions: make(map[string]*remote.Session),
		pool:     remote.CoinPool{Remaining: totalSupply, Total: totalSupply},
		usedKeys: make(map[string]bool),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
	}
}

// AddUser registers an account with a profile and returns a session for it.
func (s *StubBackend) AddUser(id, email, password string, profile remote.Profile) *remote.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile.ID = id
	if profile.CurrentRank == "" {
		profile.CurrentRank = string(rank.Of(profile.XPPoints))
	}
	if profile.SavedPosts == nil {
		profile.SavedPosts = []string{}
	}
	s.profiles[id] = &profile
	s.accounts[email] = stubAccount{password: password, userID: id}
	return s.newSessionLocked(id, email)
}

func (s *StubBackend) newSessionLocked(userID, email string) *remote.Session {
	tok := fmt.Sprintf("tok-%s-%d", userID, len(s.sessions)+1)
	sess := &remote.Session{AccessToken: tok, User: remote.User{ID: userID, Email: email}}
	s.sessions[tok] = sess
	return sess
}

// Fail makes op return err until cleared with Fail(op, nil).
func (s *StubBackend) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// OnCall registers fn to run (without the stub lock held) whenever op is invoked.
func (s *StubBackend) OnCall(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = fn
}

// Calls returns how many times op was invoked.
func (s *StubBackend) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Profile returns a copy of the stored profile.
func (s *StubBackend) Profile(id string) *remote.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil
	}
	return copyProfile(p)
}

// SetCoins overwrites a profile's balance.
func (s *StubBackend) SetCoins(id string, coins int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		p.Coins = coins
	}
}

// SetPool overwrites the pool counters.
func (s *StubBackend) SetPool(remaining, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = remote.CoinPool{Remaining: remaining, Total: total}
}

// enter records the call, runs its hook and returns any injected failure.
func (s *StubBackend) enter(op string) error {
	s.mu.Lock()
	s.calls[op]++
	hook := s.hooks[op]
	err := s.failures[op]
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func copyProfile(p *remote.Profile) *remote.Profile {
	cp := *p
	cp.SavedPosts = append([]string(nil), p.SavedPosts...)
	return &cp
}

// GetSession resolves the token in ctx.
func (s *StubBackend) GetSession(ctx context.Context) (*remote.Session, error) {
	if err := s.enter(OpGetSession); err != nil {
		return nil, err
	}
	tok, ok := remote.AccessToken(ctx)
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tok]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// SignIn checks the registered password.
func (s *StubBackend) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	if err := s.enter(OpSignIn); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok || acct.password != password {
		return nil, fmt.Errorf("invalid credentials: %w", remote.ErrUnauthenticated)
	}
	return s.newSessionLocked(acct.userID, email), nil
}

// SignUp creates an account and a fresh profile.
func (s *StubBackend) SignUp(ctx context.Context, email, password, username string) (*remote.Session, error) {
	if err := s.enter(OpSignUp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		return nil, fmt.Errorf("email taken: %w", remote.ErrRejected)
	}
	id := fmt.Sprintf("user-%d", len(s.accounts)+1)
	s.accounts[email] = stubAccount{password: password, userID: id}
	s.profiles[id] = &remote.Profile{
		ID:          id,
		Username:    username,
		CurrentRank: string(rank.JJC),
		SavedPosts:  []string{},
		Role:        remote.RoleUser,
	}
	return s.newSessionLocked(id, email), nil
}

// SignOut drops the session.
func (s *StubBackend) SignOut(ctx context.Context, accessToken string) error {
	if err := s.enter(OpSignOut); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, accessToken)
	return nil
}

// FetchProfile returns a copy of the profile.
func (s *StubBackend) FetchProfile(ctx context.Context, userID string) (*remote.Profile, error) {
	if err := s.enter(OpFetchProfile); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return copyProfile(p), nil
}

// UpdateProfile applies a patch.
func (s *StubBackend) UpdateProfile(ctx context.Context, userID string, patch remote.ProfilePatch) error {
	if err := s.enter(OpUpdateProfile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProfilePatches = append(s.ProfilePatches, patch)
	p, ok := s.profiles[userID]
	if !ok {
		return remote.ErrNotFound
	}
	if patch.Username != nil {
		p.Username = *patch.Username
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = *patch.AvatarURL
	}
	if patch.LocationState != nil {
		p.LocationState = *patch.LocationState
	}
	if patch.PostsRead != nil {
		p.PostsRead = *patch.PostsRead
	}
	if patch.SavedPosts != nil {
		p.SavedPosts = append([]string(nil), (*patch.SavedPosts)...)
	}
	return nil
}

// UpdateStreak returns Streak (or the stored streak when Streak is zero).
func (s *StubBackend) UpdateStreak(ctx context.Context, userID string) (int, error) {
	if err := s.enter(OpUpdateStreak); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, remote.ErrNotFound
	}
	if s.Streak > 0 {
		p.StreakDays = s.Streak
	}
	return p.StreakDays, nil
}

// EarnCoins grants once per idempotency key, capped by the pool.
func (s *StubBackend) EarnCoins(ctx context.Context, req remote.EarnRequest) (int, error) {
	if err := s.enter(OpEarnCoins); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EarnRequests = append(s.EarnRequests, req)

	if req.IdempotencyKey != "" && s.usedKeys[req.IdempotencyKey] {
		return 0, nil
	}
	p, ok := s.profiles[req.UserID]
	if !ok {
		return 0, remote.ErrNotFound
	}

	amount := req.BaseReward
	if s.GrantFunc != nil {
		amount = s.GrantFunc(req)
	}
	if amount > s.pool.Remaining {
		amount = s.pool.Remaining
	}
	if amount <= 0 {
		return 0, nil
	}
	if req.IdempotencyKey != "" {
		s.usedKeys[req.IdempotencyKey] = true
	}
	s.pool.Remaining -= amount
	p.Coins += amount
	return amount, nil
}

// TipAuthor moves coins if the tipper can afford it.
func (s *StubBackend) TipAuthor(ctx context.Context, req remote.TipRequest) (bool, error) {
	if err := s.enter(OpTipAuthor); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tips = append(s.Tips, req)

	tipper, ok := s.profiles[req.TipperID]
	if !ok || tipper.Coins < req.Amount {
		return false, nil
	}
	tipper.Coins -= req.Amount
	if author, ok := s.profiles[req.AuthorID]; ok {
		author.Coins += req.Amount
	}
	return true, nil
}

// BoostPost debits the booster if it can afford it.
func (s *StubBackend) BoostPost(ctx context.Context, req remote.BoostRequest) (bool, error) {
	if err := s.enter(OpBoostPost); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Boosts = append(s.Boosts, req)

	booster, ok := s.profiles[req.BoosterID]
	if !ok || booster.Coins < req.Amount {
		return false, nil
	}
	booster.Coins -= req.Amount
	return true, nil
}

// AddXP increments XP and returns the new rank.
func (s *StubBackend) AddXP(ctx context.Context, userID string, amount int) (string, error) {
	if err := s.enter(OpAddXP); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.XPAdds = append(s.XPAdds, amount)
	p, ok := s.profiles[userID]
	if !ok {
		return "", remote.ErrNotFound
	}
	p.XPPoints += amount
	p.CurrentRank = string(rank.Of(p.XPPoints))
	return p.CurrentRank, nil
}

// GetCoinPool returns the pool counters.
func (s *StubBackend) GetCoinPool(ctx context.Context) (*remote.CoinPool, error) {
	if err := s.enter(OpGetCoinPool); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.pool
	return &pool, nil
}

// ReactToPost records the reaction as "post:user:emoji".
func (s *StubBackend) ReactToPost(ctx context.Context, contentID, userID, emoji string) (bool, error) {
	if err := s.enter(OpReactToPost); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reactions = append(s.Reactions, contentID+":"+userID+":"+emoji)
	return true, nil
}

// AddComment records the comment body.
func (s *StubBackend) AddComment(ctx context.Context, contentID, authorID, content string) (string, error) {
	if err := s.enter(OpAddComment); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Comments = append(s.Comments, content)
	return fmt.Sprintf("comment-%d", len(s.Comments)), nil
}

// UsedKeys returns the idempotency keys that produced a grant, sorted.
func (s *StubBackend) UsedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.usedKeys))
	for k := range s.usedKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
