package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/monitoring"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *session.Manager
	catalog  *challenge.Catalog
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		catalog:  sessions.Catalog(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/challenges", h.ListChallenges)
	r.GET("/challenges/:id", h.GetChallenge)

	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.POST("/sessions/:id/open", h.OpenChallenge)
	r.POST("/sessions/:id/leave", h.LeaveChallenge)
	r.POST("/sessions/:id/reload", h.ReloadSession)

	r.GET("/sessions/:id/events", h.ListEvents)
	r.DELETE("/sessions/:id/events", h.ClearEvents)
	r.GET("/sessions/:id/events/export", h.ExportEvents)
	r.GET("/sessions/:id/objectives", h.GetObjectives)

	r.GET("/sessions/:id/document", h.GetDocument)
	r.GET("/sessions/:id/host", h.GetHostDocument)
	r.GET("/sessions/:id/console", h.GetConsole)
	r.POST("/sessions/:id/content", h.SetContent)
	r.POST("/sessions/:id/click", h.Click)
	r.POST("/sessions/:id/egress", h.Egress)
	r.POST("/sessions/:id/datalayer", h.PushDataLayer)

	r.GET("/sessions/:id/tag", h.GetTag)
	r.PUT("/sessions/:id/tag", h.SubmitTag)
	r.POST("/sessions/:id/tag/confirm", h.ConfirmTag)
	r.DELETE("/sessions/:id/tag", h.ResetTag)

	r.POST("/sessions/:id/bridge", h.Bridge)
	r.GET("/sessions/:id/state/:key", h.GetState)
	r.PUT("/sessions/:id/state/:key", h.SetState)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(monitoring.Handler(h.metrics)))
		r.GET("/metrics/summary", h.MetricsSummary)
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "tracklab",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Stats(),
		"catalog":  h.catalog.Stats(),
	})
}

// ListChallenges lists catalog entries, optionally by category
func (h *Handlers) ListChallenges(c *gin.Context) {
	var category *string
	if cat := c.Query("category"); cat != "" {
		category = &cat
	}
	c.JSON(http.StatusOK, gin.H{
		"challenges": h.catalog.ListMetadata(category),
		"stats":      h.catalog.Stats(),
	})
}

// GetChallenge returns one full challenge definition
func (h *Handlers) GetChallenge(c *gin.Context) {
	ch, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// MetricsSummary returns running totals as JSON
func (h *Handlers) MetricsSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
