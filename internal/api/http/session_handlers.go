package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/validate"
)

// settleTimeout bounds how long a mutating request waits for in-flight
// loads and messages before answering.
const settleTimeout = 3 * time.Second

// maxBridgeBody caps a posted bridge message.
const maxBridgeBody = validate.MaxJSONSize

func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

// settle lets async work finish so the response reflects it. A timeout is
// not an error: the stream endpoint delivers whatever lands later.
func (h *Handlers) settle(c *gin.Context, s *session.Session) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), settleTimeout)
	defer cancel()
	if err := s.Settle(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		h.logger.Debug("Settle interrupted", zap.String("session", s.ID().String()), zap.Error(err))
	}
}

// ListSessions lists live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.List(),
		"stats":    h.sessions.Stats(),
	})
}

// CreateSession starts a session, optionally resuming persisted state
func (h *Handlers) CreateSession(c *gin.Context) {
	var opts session.CreateOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	s, err := h.sessions.Create(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusCreated, s.Snapshot())
}

// GetSession returns the full session snapshot
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// CloseSession tears a session down; ?purge=true also drops its state
func (h *Handlers) CloseSession(c *gin.Context) {
	purge, _ := strconv.ParseBool(c.Query("purge"))
	if err := h.sessions.Close(c.Request.Context(), c.Param("id"), purge); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": c.Param("id"), "purged": purge})
}

// OpenChallenge makes a challenge the active one
func (h *Handlers) OpenChallenge(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		ChallengeID string `json:"challenge_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "challenge_id is required")
		return
	}
	if err := s.Open(c.Request.Context(), req.ChallengeID); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, s.Snapshot())
}

// LeaveChallenge closes the active challenge
func (h *Handlers) LeaveChallenge(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Leave(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ReloadSession rebuilds the host context from persisted state
func (h *Handlers) ReloadSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Reload(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, s.Snapshot())
}

// ListEvents returns the Observation Log, most recent first. ?type filters
// by kind; ?preview=true returns sanitized one-line previews instead.
func (h *Handlers) ListEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	events := filterKind(s.Events(), c.Query("type"))
	if preview, _ := strconv.ParseBool(c.Query("preview")); preview {
		c.JSON(http.StatusOK, gin.H{"events": previews(events), "count": len(events)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func filterKind(events []capture.CapturedEvent, kind string) []capture.CapturedEvent {
	if kind == "" {
		return events
	}
	out := make([]capture.CapturedEvent, 0, len(events))
	for _, e := range events {
		if string(e.Kind) == kind {
			out = append(out, e)
		}
	}
	return out
}

// ClearEvents empties the Observation Log
func (h *Handlers) ClearEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetObjectives grades the active challenge
func (h *Handlers) GetObjectives(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	board, err := s.Board()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// GetDocument serializes the isolated frame's live document
func (h *Handlers) GetDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	doc, err := s.Document(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

// GetHostDocument serializes the host page
func (h *Handlers) GetHostDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(s.HostDocument()))
}

// GetConsole returns the frame's console output as plain text
func (h *Handlers) GetConsole(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	entries := s.Console()
	out := make([]sandbox.LogEntry, len(entries))
	for i, e := range entries {
		e.Message = plainText(e.Message, maxConsoleText)
		out[i] = e
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// SetContent replaces the learner's page and re-renders it
func (h *Handlers) SetContent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var content sandbox.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		badRequest(c, "invalid content: "+err.Error())
		return
	}
	if err := s.SetContent(content); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, s.Snapshot())
}

// Click dispatches a click on the first element matching selector
func (h *Handlers) Click(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Selector string `json:"selector" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "selector is required")
		return
	}
	if err := s.Click(c.Request.Context(), req.Selector); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, s.Snapshot())
}

// Egress performs a tracking call from the host page
func (h *Handlers) Egress(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var call session.EgressCall
	if err := c.ShouldBindJSON(&call); err != nil {
		badRequest(c, "invalid egress call: "+err.Error())
		return
	}
	res, err := s.Egress(c.Request.Context(), call)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, gin.H{"result": res, "events": s.Log().Len()})
}

// PushDataLayer pushes one entry or a list of entries onto the host data
// layer
func (h *Handlers) PushDataLayer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, validate.MaxJSONSize+1))
	if err != nil {
		badRequest(c, "read body: "+err.Error())
		return
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	n := s.PushDataLayer(entries...)
	h.settle(c, s)
	c.JSON(http.StatusOK, gin.H{"length": n, "active": s.Tags().DataLayer().Active()})
}

// GetTag returns the tag lifecycle state
func (h *Handlers) GetTag(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Tags().State())
}

type tagRequest struct {
	ID string `json:"id" binding:"required"`
}

// SubmitTag injects a container id. Changing an existing id outside custom
// challenges answers 409 until confirmed.
func (h *Handlers) SubmitTag(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "id is required")
		return
	}
	current := s.Tags().ID()
	out, err := s.SubmitTag(c.Request.Context(), req.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == tagmanager.OutcomeNeedsConfirmation {
		c.JSON(http.StatusConflict, gin.H{
			"outcome":   out,
			"current":   current,
			"requested": tagmanager.NormalizeID(req.ID),
		})
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, gin.H{"outcome": out, "tag": s.Tags().State()})
}

// ConfirmTag persists a changed id and reloads the host context
func (h *Handlers) ConfirmTag(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "id is required")
		return
	}
	if err := s.ConfirmTag(c.Request.Context(), req.ID); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, gin.H{"tag": s.Tags().State()})
}

// ResetTag removes the container and reloads the host context
func (h *Handlers) ResetTag(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ResetTag(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.settle(c, s)
	c.JSON(http.StatusOK, gin.H{"tag": s.Tags().State()})
}

// Bridge applies a message posted by an external isolated page
func (h *Handlers) Bridge(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBridgeBody+1))
	if err != nil {
		badRequest(c, "read body: "+err.Error())
		return
	}
	if len(raw) > maxBridgeBody {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "message too large"})
		return
	}
	out := s.HandleBridge(bytes.TrimSpace(raw))
	c.JSON(http.StatusOK, gin.H{"outcome": out})
}

// GetState reads a persisted UI state key
func (h *Handlers) GetState(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	key := c.Param("key")
	value, found, err := s.State(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value, "found": found})
}

// SetState writes a persisted UI state key; an empty value deletes it
func (h *Handlers) SetState(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	key := c.Param("key")
	if err := s.SetState(c.Request.Context(), key, req.Value); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
