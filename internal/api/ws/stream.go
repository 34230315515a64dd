package ws

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
)

// Stream pushes the board on connect and after every session change.
func (h *Handler) Stream(c *gin.Context) {
	s, conn, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.metrics.DecWSConnections()
	defer conn.Close()

	logger := h.logger.With(zap.String("session", s.ID().String()))
	logger.Debug("Stream connected")

	// dirty holds at most one pending push; reason is the latest cause.
	dirty := make(chan string, 1)
	mark := func(reason string) {
		select {
		case dirty <- reason:
		default:
		}
	}
	unsubscribe := s.Subscribe(func(u session.Update) { mark(u.Reason) })
	defer unsubscribe()

	replies := make(chan any, 8)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go h.readLoop(conn, replies, mark, done, quit)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any, kind string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug("Stream write failed", zap.Error(err))
			return false
		}
		h.metrics.RecordWSMessage("out", kind)
		return true
	}

	if !write(boardMessage(s, "connect"), "board") {
		return
	}
	for {
		select {
		case reason := <-dirty:
			if s.Closed() {
				write(errorMessage("session closed"), "error")
				return
			}
			if !write(boardMessage(s, reason), "board") {
				return
			}
		case msg := <-replies:
			if !write(msg, "reply") {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			logger.Debug("Stream disconnected")
			return
		}
	}
}

// readLoop handles client messages until the connection drops. Writes go
// through replies so only Stream touches the writer.
func (h *Handler) readLoop(conn *websocket.Conn, replies chan<- any, refresh func(string), done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)
	reply := func(v any) bool {
		select {
		case replies <- v:
			return true
		case <-quit:
			return false
		}
	}
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)
		switch msg.Type {
		case "ping":
			if !reply(map[string]any{"type": "pong", "timestamp": time.Now().UnixMilli()}) {
				return
			}
		case "refresh":
			refresh("refresh")
		default:
			if !reply(errorMessage("unknown message type")) {
				return
			}
		}
	}
}
