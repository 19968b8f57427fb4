package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/device"
	"github.com/jara-app/rewards-gateway/internal/service/engagement"
	"github.com/jara-app/rewards-gateway/internal/service/missions"
)

// Action outcomes the front-end turns into notices. None of them changed any
// balance.
var (
	ErrAuthRequired      = errors.New("sign in required")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoActiveView      = errors.New("no active view")
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrActionFailed      = errors.New("action failed")
)

// Action constants.
const (
	MinCommentLen        = 2
	InsightfulCommentLen = 20
	MinPostBodyLen       = 150
	MaxTipMessageLen     = 200
)

// BoostTiers are the only accepted boost amounts.
var BoostTiers = []int{10, 25, 50, 100}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// OpenView starts a content view and resets its reaction latch.
func (s *Session) OpenView(v engagement.View) {
	s.mu.Lock()
	s.reaction = reactionState{contentID: v.ContentID}
	s.mu.Unlock()
	s.Reader.Begin(v)
}

// Scroll folds a scroll sample into the active view.
func (s *Session) Scroll(g engagement.Geometry) (ViewState, error) {
	v := s.Reader.Current()
	if v == nil {
		return ViewState{}, ErrNoActiveView
	}
	depth := s.Reader.OnScroll(g)
	return ViewState{
		ContentID: v.ContentID,
		Depth:     depth,
		Obscured:  s.Reader.Obscured(),
		Tracked:   s.Reader.Tracked(),
	}, nil
}

// CloseView ends the active view.
func (s *Session) CloseView() {
	s.Reader.Leave()
	s.mu.Lock()
	s.reaction = reactionState{}
	s.mu.Unlock()
}

// ReactResult is the reaction toggle outcome.
type ReactResult struct {
	Active   string `json:"active"`
	Rewarded bool   `json:"rewarded"`
	Coins    int    `json:"coins"`
}

// React toggles emoji on the active view. Only the first reaction of a view is
// rewarded.
func (s *Session) React(ctx context.Context, emoji string) (ReactResult, error) {
	if strings.TrimSpace(emoji) == "" {
		return ReactResult{}, ErrInvalidInput
	}
	v := s.Reader.Current()
	if v == nil {
		return ReactResult{}, ErrNoActiveView
	}

	s.mu.Lock()
	if s.reaction.contentID != v.ContentID {
		s.reaction = reactionState{contentID: v.ContentID}
	}
	next := emoji
	if s.reaction.active == emoji {
		next = ""
	}
	s.reaction.active = next
	reward := next != "" && !s.reaction.rewarded
	if reward {
		s.reaction.rewarded = true
	}
	s.mu.Unlock()

	res := ReactResult{Active: next, Rewarded: reward}
	if reward {
		reason := "Reacted " + emoji
		s.XP.AddXP(2, reason)
		res.Coins = s.Coins.Earn(ctx, 1, remote.SourceLike, reason, v.ContentID)
		s.Missions.Increment(missions.TypeReact, 1)
	}

	if id := s.Identity.Cell().Load(); id != nil {
		callCtx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, id.AccessToken), s.timeout)
		defer cancel()
		if _, err := s.data.ReactToPost(callCtx, v.ContentID, id.UserID, emoji); err != nil {
			prommetrics.RecordBestEffortFailure("react_to_post")
			s.log.Warn().Err(err).Str("content_id", v.ContentID).Msg("Failed to record reaction")
		}
	}
	return res, nil
}

// RewardResult reports what an action granted.
type RewardResult struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}

// Share rewards sharing contentID.
func (s *Session) Share(ctx context.Context, contentID string) (RewardResult, error) {
	if contentID == "" {
		return RewardResult{}, ErrInvalidInput
	}
	s.XP.AddXP(5, "Shared a post")
	got := s.Coins.Earn(ctx, 2, remote.SourceShare, "Shared", contentID)
	s.Missions.Increment(missions.TypeShare, 1)
	return RewardResult{XP: 5, Coins: got}, nil
}

// CommentResult is the outcome of a submitted comment.
type CommentResult struct {
	CommentID string       `json:"commentId"`
	Reward    RewardResult `json:"reward"`
}

// Comment posts text on contentID. Insightful comments are rewarded after the
// backend accepted them.
func (s *Session) Comment(ctx context.Context, contentID, text string) (CommentResult, error) {
	text = strings.TrimSpace(text)
	if contentID == "" || text == "" {
		return CommentResult{}, ErrInvalidInput
	}
	id := s.Identity.Cell().Load()
	if id == nil {
		return CommentResult{}, ErrAuthRequired
	}
	if utf8.RuneCountInString(text) < MinCommentLen {
		return CommentResult{}, ErrInvalidInput
	}

	callCtx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, id.AccessToken), s.timeout)
	commentID, err := s.data.AddComment(callCtx, contentID, id.UserID, text)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("content_id", contentID).Msg("Comment failed")
		return CommentResult{}, fmt.Errorf("%w: %v", ErrActionFailed, err)
	}

	res := CommentResult{CommentID: commentID}
	if utf8.RuneCountInString(text) >= InsightfulCommentLen {
		s.XP.AddXP(5, "Insightful comment")
		res.Reward = RewardResult{XP: 5, Coins: s.Coins.Earn(ctx, 2, remote.SourceComment, "Comment", contentID)}
		s.Missions.Increment(missions.TypeComment, 1)
	}
	return res, nil
}

// PublishRequest reports a post the member just created.
type PublishRequest struct {
	PostID   string `json:"postId" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Category string `json:"category" binding:"required"`
}

// Publish rewards a published post and drops the local draft.
func (s *Session) Publish(ctx context.Context, req PublishRequest) (RewardResult, error) {
	if s.Identity.Cell().IsGuest() {
		return RewardResult{}, ErrAuthRequired
	}
	plain := strings.TrimSpace(tagPattern.ReplaceAllString(req.Body, ""))
	if strings.TrimSpace(req.Title) == "" || plain == "" || req.Category == "" || req.PostID == "" {
		return RewardResult{}, ErrInvalidInput
	}
	if utf8.RuneCountInString(plain) < MinPostBodyLen {
		return RewardResult{}, fmt.Errorf("%w: body needs at least %d characters", ErrInvalidInput, MinPostBodyLen)
	}

	s.XP.AddXP(20, "Published an article")
	got := s.Coins.Earn(ctx, 3, remote.SourcePost, "Published a post", req.PostID)
	s.Missions.Increment(missions.TypeShare, 1)
	s.Prefs.ClearDraft()
	return RewardResult{XP: 20, Coins: got}, nil
}

// ClaimMission claims a completed mission and grants its reward.
func (s *Session) ClaimMission(ctx context.Context, missionID string) (RewardResult, error) {
	date := s.Missions.Date()
	reward := s.Missions.Claim(missionID)
	if reward == nil {
		return RewardResult{}, ErrNothingToClaim
	}
	prommetrics.RecordMissionClaimed(missionID)

	s.XP.AddXP(reward.XP, "Daily mission completed! 🎯")
	// Scoped per mission and day so members are paid again tomorrow.
	got := s.Coins.Earn(ctx, reward.Coins, remote.SourceBonus, "Mission reward", "mission:"+missionID+":"+date)
	return RewardResult{XP: reward.XP, Coins: got}, nil
}

// TipRequest tips the author of a post.
type TipRequest struct {
	AuthorID  string `json:"authorId" binding:"required"`
	ContentID string `json:"contentId"`
	Amount    int    `json:"amount" binding:"required"`
	Message   string `json:"message"`
}

// Tip moves coins to an author through the atomic tip procedure.
func (s *Session) Tip(ctx context.Context, req TipRequest) error {
	id := s.Identity.Cell().Load()
	if id == nil {
		return ErrAuthRequired
	}
	if req.Amount <= 0 || req.AuthorID == "" || req.AuthorID == id.UserID {
		return ErrInvalidInput
	}
	if !s.Coins.Spend(req.Amount, "tip") {
		return ErrInsufficientFunds
	}

	msg := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(msg) > MaxTipMessageLen {
		msg = string([]rune(msg)[:MaxTipMessageLen])
	}
	return s.transfer(ctx, "tip", func(callCtx context.Context) (bool, error) {
		return s.data.TipAuthor(callCtx, remote.TipRequest{
			TipperID:  id.UserID,
			AuthorID:  req.AuthorID,
			Amount:    req.Amount,
			ContentID: req.ContentID,
			Message:   msg,
		})
	})
}

// Boost promotes contentID with one of the fixed tiers.
func (s *Session) Boost(ctx context.Context, contentID string, amount int) error {
	id := s.Identity.Cell().Load()
	if id == nil {
		return ErrAuthRequired
	}
	if contentID == "" || !validBoost(amount) {
		return ErrInvalidInput
	}
	if !s.Coins.Spend(amount, "boost") {
		return ErrInsufficientFunds
	}
	return s.transfer(ctx, "boost", func(callCtx context.Context) (bool, error) {
		return s.data.BoostPost(callCtx, remote.BoostRequest{BoosterID: id.UserID, ContentID: contentID, Amount: amount})
	})
}

func validBoost(amount int) bool {
	for _, t := range BoostTiers {
		if t == amount {
			return true
		}
	}
	return false
}

// transfer runs a value-bearing procedure and then pulls canonical balances.
func (s *Session) transfer(ctx context.Context, kind string, call func(ctx context.Context) (bool, error)) error {
	callCtx, cancel := context.WithTimeout(s.Identity.Cell().Context(ctx), s.timeout)
	ok, err := call(callCtx)
	cancel()

	switch {
	case err != nil:
		prommetrics.RecordCoinTransfer(kind, "error")
		s.log.Warn().Err(err).Str("kind", kind).Msg("Coin transfer failed")
		return fmt.Errorf("%w: %v", ErrActionFailed, err)
	case !ok:
		prommetrics.RecordCoinTransfer(kind, "rejected")
		return ErrActionFailed
	}
	prommetrics.RecordCoinTransfer(kind, "ok")

	s.Coins.Refresh(ctx)
	s.Identity.RefreshProfile(ctx)
	return nil
}

// SaveDraft stores the unpublished post on the device.
func (s *Session) SaveDraft(d device.Draft) (device.Draft, error) {
	saved, ok := s.Prefs.SaveDraft(d)
	if !ok {
		return device.Draft{}, ErrInvalidInput
	}
	return saved, nil
}

// StreakCelebration reports whether to show today's streak celebration.
func (s *Session) StreakCelebration() bool {
	return s.Prefs.ClaimStreakCelebration(!s.Identity.Cell().IsGuest(), s.XP.Snapshot().StreakDays)
}
