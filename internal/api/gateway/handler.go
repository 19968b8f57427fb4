// Package gateway exposes device sessions over HTTP: the state snapshot, the
// user actions that drive the rewards engines and a websocket stream of reward
// events.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jara-app/rewards-gateway/internal/service/session"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Header names.
const (
	HeaderDeviceID = "X-Device-ID"
	headerAuth     = "Authorization"
	sessionKey     = "session"

	// Browsers cannot set headers on a websocket handshake, so the stream
	// also takes its credentials from the query string.
	queryDeviceID    = "device_id"
	queryAccessToken = "access_token"
)

// Sessions is the session manager surface the handlers need.
type Sessions interface {
	Open(ctx context.Context, deviceID, accessToken string) (*session.Session, error)
	Len() int
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler handles gateway API requests.
type Handler struct {
	sessions Sessions
	checks   map[string]HealthCheck
	log      *logger.Logger
}

// NewHandler creates a new gateway handler. checks may be nil.
func NewHandler(sessions Sessions, checks map[string]HealthCheck, log *logger.Logger) *Handler {
	registerValidators()
	return &Handler{
		sessions: sessions,
		checks:   checks,
		log:      log.Component("gateway"),
	}
}

// Register mounts every route on r. An empty metricsPath disables /metrics.
func (h *Handler) Register(r *gin.Engine, metricsPath string) {
	r.GET("/health", h.Health)
	if metricsPath != "" {
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1", h.withSession)
	api.GET("/state", h.GetState)

	api.POST("/auth/signin", h.SignIn)
	api.POST("/auth/signup", h.SignUp)
	api.POST("/auth/signout", h.SignOut)
	api.PATCH("/profile", h.UpdateProfile)

	api.POST("/views", h.OpenView)
	api.POST("/views/scroll", h.Scroll)
	api.POST("/views/react", h.React)
	api.DELETE("/views", h.CloseView)

	api.POST("/posts/:id/share", h.Share)
	api.POST("/posts/:id/comments", h.Comment)
	api.POST("/posts/:id/save", h.ToggleSave)
	api.POST("/posts/:id/boost", h.Boost)
	api.POST("/posts", h.Publish)

	api.POST("/missions/:id/claim", h.ClaimMission)

	api.GET("/coins/can-spend", h.CanSpend)
	api.POST("/coins/tip", h.Tip)
	api.POST("/coins/refresh", h.RefreshCoins)

	api.DELETE("/events/:kind/:id", h.DismissEvent)
	api.GET("/events/ws", h.Stream)

	api.GET("/draft", h.GetDraft)
	api.PUT("/draft", h.SaveDraft)
	api.DELETE("/draft", h.ClearDraft)
	api.GET("/theme", h.GetTheme)
	api.PUT("/theme", h.SetTheme)
	api.POST("/streak/celebrate", h.StreakCelebration)
}

// withSession resolves the device session, binds the caller's access token to
// it and echoes the device id back.
func (h *Handler) withSession(c *gin.Context) {
	deviceID, token := credentials(c)

	s, err := h.sessions.Open(c.Request.Context(), deviceID, token)
	if err != nil {
		h.errorResponse(c, statusFor(err), err.Error())
		c.Abort()
		return
	}
	c.Header(HeaderDeviceID, s.ID)
	c.Set(sessionKey, s)
	c.Next()
}

// credentials reads the device id and bearer token of a request.
func credentials(c *gin.Context) (deviceID, token string) {
	deviceID = c.GetHeader(HeaderDeviceID)
	auth := c.GetHeader(headerAuth)
	if t := strings.TrimPrefix(auth, "Bearer "); t != auth {
		token = t
	}

	if websocket.IsWebSocketUpgrade(c.Request) {
		if deviceID == "" {
			deviceID = c.Query(queryDeviceID)
		}
		if token == "" {
			token = c.Query(queryAccessToken)
		}
	}
	return deviceID, token
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// Health reports process and dependency health.
// GET /health.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":       http.StatusText(status),
		"sessions":     h.sessions.Len(),
		"dependencies": deps,
	})
}

// GetState returns the full session snapshot.
// GET /api/v1/state.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Snapshot())
}

// statusFor maps session action errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAuthRequired), errors.Is(err, session.ErrIdentityMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, session.ErrNoActiveView), errors.Is(err, session.ErrNothingToClaim):
		return http.StatusConflict
	case errors.Is(err, session.ErrActionFailed):
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// actionError sends the notice for a failed action.
func (h *Handler) actionError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Action failed")
	}
	h.errorResponse(c, status, err.Error())
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
