package ws

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
)

// AckMessage reports what a bridge message did.
type AckMessage struct {
	Type    string         `json:"type"`
	Outcome bridge.Outcome `json:"outcome"`
}

// Bridge feeds every text frame into the session's bridge dispatcher, the
// same path messages from built-in frames take.
func (h *Handler) Bridge(c *gin.Context) {
	s, conn, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.metrics.DecWSConnections()
	defer conn.Close()

	logger := h.logger.With(zap.String("session", s.ID().String()))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Bridge socket closed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		out := s.HandleBridge(raw)
		h.metrics.RecordWSMessage("in", "bridge")

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(AckMessage{Type: "ack", Outcome: out}); err != nil {
			return
		}
		if s.Closed() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
			return
		}
	}
}
