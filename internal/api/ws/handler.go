package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Lab UI runs on arbitrary local origins
	},
}

// Recorder receives connection and message counts. monitoring.Metrics
// implements it.
type Recorder interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

type nopRecorder struct{}

func (nopRecorder) IncWSConnections()              {}
func (nopRecorder) DecWSConnections()              {}
func (nopRecorder) RecordWSMessage(string, string) {}

// Handler manages WebSocket connections
type Handler struct {
	sessions *session.Manager
	metrics  Recorder
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *session.Manager, metrics Recorder, logger *zap.Logger) *Handler {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, metrics: metrics, logger: logger.Named("ws")}
}

// Register mounts both endpoints on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/sessions/:id/stream", h.Stream)
	r.GET("/sessions/:id/bridge/ws", h.Bridge)
}

// ClientMessage is what clients send on the stream.
type ClientMessage struct {
	Type string `json:"type"`
}

// BoardMessage is pushed on every session change.
type BoardMessage struct {
	Type       string                  `json:"type"`
	Reason     string                  `json:"reason,omitempty"`
	Session    string                  `json:"session"`
	Challenge  string                  `json:"challenge,omitempty"`
	Events     []capture.CapturedEvent `json:"events"`
	Objectives []objective.Result      `json:"objectives"`
	Met        int                     `json:"met"`
	Total      int                     `json:"total"`
	Complete   bool                    `json:"complete"`
	Tag        tagmanager.State        `json:"tag"`
	Timestamp  int64                   `json:"timestamp"`
}

func boardMessage(s *session.Session, reason string) BoardMessage {
	snap := s.Snapshot()
	objectives := snap.Board.Objectives
	if objectives == nil {
		objectives = []objective.Result{}
	}
	return BoardMessage{
		Type:       "board",
		Reason:     reason,
		Session:    snap.ID.String(),
		Challenge:  snap.ChallengeID,
		Events:     snap.Events,
		Objectives: objectives,
		Met:        snap.Board.Met,
		Total:      snap.Board.Total,
		Complete:   snap.ChallengeID != "" && snap.Board.Complete,
		Tag:        snap.Tag,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func (h *Handler) upgrade(c *gin.Context) (*session.Session, *websocket.Conn, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return nil, nil, false
	}
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	h.metrics.IncWSConnections()
	return s, conn, true
}

func errorMessage(msg string) map[string]any {
	return map[string]any{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().UnixMilli(),
	}
}
