package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jara-app/rewards-gateway/internal/service/rewards"
	"github.com/jara-app/rewards-gateway/internal/service/session"
)

const (
	streamBuffer = 16
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Device sessions are not cookie-authenticated, so any origin may read
	// its own device's events.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is one frame of the event stream.
type streamMessage struct {
	Type   string          `json:"type"` // state or change
	State  *session.State  `json:"state,omitempty"`
	Change *rewards.Change `json:"change,omitempty"`
}

// Stream pushes the initial state and then every reward event change of the
// session until either side goes away.
// GET /api/v1/events/ws.
func (h *Handler) Stream(c *gin.Context) {
	s := current(c)

	// Subscribe before the snapshot so no change falls between them.
	changes, cancel := s.Bus.Subscribe(streamBuffer)
	defer cancel()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to upgrade event stream")
		return
	}
	defer ws.Close()

	log := h.log.WithSession(s.ID)
	log.Debug().Msg("Event stream connected")

	state := s.Snapshot()
	if err := write(ws, streamMessage{Type: "state", State: &state}); err != nil {
		return
	}

	// The client never sends; reading only surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := write(ws, streamMessage{Type: "change", Change: &ch}); err != nil {
				log.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			log.Debug().Msg("Event stream disconnected")
			return
		}
	}
}

func write(ws *websocket.Conn, msg streamMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(msg)
}
