package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dialer-platform/internal/bridge"
	"dialer-platform/pkg/logger"
)

// upgrader accepts the carrier's media-stream connections and the operator
// console. The carrier does not send an Origin header; the console is
// expected to sit behind the same deployment, so origin checking is off.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandlers terminates the websocket endpoints.
type StreamHandlers struct {
	Bridge *bridge.Manager
}

// CallStream accepts a carrier media stream and runs its bridge until the
// call ends. Outbound calls carry their session id as a query parameter
// baked into the stream URL at dial time; a stream without one is
// identified from its start frame's stream parameters instead, falling
// back to a minted inbound session.
func (h StreamHandlers) CallStream(c *gin.Context) {
	callSessionID := c.Query("callSessionId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Error("media stream upgrade failed", "err", err)
		return
	}

	if callSessionID == "" {
		id, err := h.Bridge.AttachPendingCall(c.Request.Context(), conn)
		if err != nil {
			logger.FromGin(c).Error("unidentified stream rejected", "err", err)
			return
		}
		logger.FromGin(c).Info("stream finished", "call_session_id", id)
		return
	}

	if err := h.Bridge.AttachCall(c.Request.Context(), conn, callSessionID); err != nil {
		logger.FromGin(c).Error("media stream rejected",
			"call_session_id", callSessionID, "err", err)
	}
}

// ObserverStream accepts the operator console connection.
func (h StreamHandlers) ObserverStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Error("observer upgrade failed", "err", err)
		return
	}
	h.Bridge.AttachObserver(c.Request.Context(), conn)
}
