package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/device"
	"github.com/jara-app/rewards-gateway/internal/service/engagement"
	"github.com/jara-app/rewards-gateway/internal/service/rewards"
	"github.com/jara-app/rewards-gateway/internal/service/session"
)

type signInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username" binding:"required,min=2,max=32"`
}

type profileRequest struct {
	Username      *string `json:"username" binding:"omitempty,min=2,max=32"`
	AvatarURL     *string `json:"avatarUrl" binding:"omitempty,url"`
	LocationState *string `json:"locationState" binding:"omitempty,max=64"`
}

type reactRequest struct {
	Emoji string `json:"emoji" binding:"required,max=16"`
}

type commentRequest struct {
	Text string `json:"text" binding:"required,max=2000"`
}

type boostRequest struct {
	Amount int `json:"amount" binding:"required,boost_tier"`
}

type themeRequest struct {
	Theme device.Theme `json:"theme" binding:"required,theme"`
}

// authResponse carries the token the front-end keeps to restore the session.
func authResponse(s *session.Session) gin.H {
	token := ""
	if rs := s.Identity.Session(); rs != nil {
		token = rs.AccessToken
	}
	return gin.H{"accessToken": token, "state": s.Snapshot()}
}

// SignIn authenticates the device.
// POST /api/v1/auth/signin.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	if err := s.Identity.SignIn(c.Request.Context(), req.Email, req.Password); err != nil {
		h.log.Info().Err(err).Str("session_id", s.ID).Msg("Sign-in refused")
		h.errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	c.JSON(http.StatusOK, authResponse(s))
}

// SignUp registers an account. The device stays a guest while the email
// confirmation is pending.
// POST /api/v1/auth/signup.
func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	if err := s.Identity.SignUp(c.Request.Context(), req.Email, req.Password, req.Username); err != nil {
		h.log.Info().Err(err).Str("session_id", s.ID).Msg("Sign-up refused")
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, authResponse(s))
}

// SignOut returns the device to guest.
// POST /api/v1/auth/signout.
func (h *Handler) SignOut(c *gin.Context) {
	s := current(c)
	s.Identity.SignOut(c.Request.Context())
	c.JSON(http.StatusOK, s.Snapshot())
}

// UpdateProfile patches the member's editable profile fields.
// PATCH /api/v1/profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	if s.Identity.Cell().IsGuest() {
		h.actionError(c, session.ErrAuthRequired)
		return
	}
	patch := remote.ProfilePatch{Username: req.Username, AvatarURL: req.AvatarURL, LocationState: req.LocationState}
	if !s.Identity.UpdateProfile(c.Request.Context(), patch) {
		h.actionError(c, session.ErrActionFailed)
		return
	}
	c.JSON(http.StatusOK, s.Identity.Profile())
}

// OpenView starts tracking a content view.
// POST /api/v1/views.
func (h *Handler) OpenView(c *gin.Context) {
	var v engagement.View
	if err := c.ShouldBindJSON(&v); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	s.OpenView(v)
	c.JSON(http.StatusOK, s.Snapshot().View)
}

// Scroll reports a scroll sample for the active view.
// POST /api/v1/views/scroll.
func (h *Handler) Scroll(c *gin.Context) {
	var g engagement.Geometry
	if err := c.ShouldBindJSON(&g); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	st, err := current(c).Scroll(g)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// CloseView ends the active view.
// DELETE /api/v1/views.
func (h *Handler) CloseView(c *gin.Context) {
	current(c).CloseView()
	c.Status(http.StatusNoContent)
}

// React toggles a reaction on the active view.
// POST /api/v1/views/react.
func (h *Handler) React(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := current(c).React(c.Request.Context(), req.Emoji)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Share rewards sharing a post.
// POST /api/v1/posts/:id/share.
func (h *Handler) Share(c *gin.Context) {
	res, err := current(c).Share(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Comment posts a comment on a post.
// POST /api/v1/posts/:id/comments.
func (h *Handler) Comment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := current(c).Comment(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ToggleSave bookmarks or un-bookmarks a post.
// POST /api/v1/posts/:id/save.
func (h *Handler) ToggleSave(c *gin.Context) {
	saved := current(c).XP.ToggleSavePost(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

// Boost promotes a post with one of the fixed tiers.
// POST /api/v1/posts/:id/boost.
func (h *Handler) Boost(c *gin.Context) {
	var req boostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	if err := s.Boost(c.Request.Context(), c.Param("id"), req.Amount); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot().Coins)
}

// Publish rewards a post the member just created.
// POST /api/v1/posts.
func (h *Handler) Publish(c *gin.Context) {
	var req session.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := current(c).Publish(c.Request.Context(), req)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ClaimMission claims a completed daily mission.
// POST /api/v1/missions/:id/claim.
func (h *Handler) ClaimMission(c *gin.Context) {
	res, err := current(c).ClaimMission(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CanSpend runs the local spend check without moving coins.
// GET /api/v1/coins/can-spend?amount=25.
func (h *Handler) CanSpend(c *gin.Context) {
	amount, err := strconv.Atoi(c.Query("amount"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid amount parameter")
		return
	}
	s := current(c)
	c.JSON(http.StatusOK, gin.H{"ok": s.Coins.Spend(amount, "check"), "balance": s.Coins.Balance()})
}

// Tip tips the author of a post.
// POST /api/v1/coins/tip.
func (h *Handler) Tip(c *gin.Context) {
	var req session.TipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s := current(c)
	if err := s.Tip(c.Request.Context(), req); err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot().Coins)
}

// RefreshCoins re-reads the shared pool.
// POST /api/v1/coins/refresh.
func (h *Handler) RefreshCoins(c *gin.Context) {
	s := current(c)
	s.Coins.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, s.Snapshot().Coins)
}

// DismissEvent removes a reward notification before it expires.
// DELETE /api/v1/events/:kind/:id.
func (h *Handler) DismissEvent(c *gin.Context) {
	s := current(c)
	var ok bool
	switch rewards.Kind(c.Param("kind")) {
	case rewards.KindXP:
		ok = s.XP.DismissXPEvent(c.Param("id"))
	case rewards.KindCoin:
		ok = s.Coins.DismissCoinEvent(c.Param("id"))
	default:
		h.errorResponse(c, http.StatusBadRequest, "kind must be xp or coin")
		return
	}
	if !ok {
		h.errorResponse(c, http.StatusNotFound, "event not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDraft returns the saved draft.
// GET /api/v1/draft.
func (h *Handler) GetDraft(c *gin.Context) {
	d := current(c).Prefs.Draft()
	if d == nil {
		h.errorResponse(c, http.StatusNotFound, "no draft")
		return
	}
	c.JSON(http.StatusOK, d)
}

// SaveDraft stores the unpublished post on the device.
// PUT /api/v1/draft.
func (h *Handler) SaveDraft(c *gin.Context) {
	var d device.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := current(c).SaveDraft(d)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// ClearDraft drops the saved draft.
// DELETE /api/v1/draft.
func (h *Handler) ClearDraft(c *gin.Context) {
	current(c).Prefs.ClearDraft()
	c.Status(http.StatusNoContent)
}

// GetTheme returns the display theme.
// GET /api/v1/theme.
func (h *Handler) GetTheme(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"theme": current(c).Prefs.Theme()})
}

// SetTheme stores the display theme.
// PUT /api/v1/theme.
func (h *Handler) SetTheme(c *gin.Context) {
	var req themeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !current(c).Prefs.SetTheme(req.Theme) {
		h.errorResponse(c, http.StatusInternalServerError, "failed to store theme")
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": req.Theme})
}

// StreakCelebration reports whether to show today's streak celebration and
// marks it shown.
// POST /api/v1/streak/celebrate.
func (h *Handler) StreakCelebration(c *gin.Context) {
	s := current(c)
	c.JSON(http.StatusOK, gin.H{
		"show":       s.StreakCelebration(),
		"streakDays": s.XP.Snapshot().StreakDays,
	})
}
