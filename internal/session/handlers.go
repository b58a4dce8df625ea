package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/livewatch/livewatch/internal/scoring"
	"github.com/livewatch/livewatch/internal/validation"
)

// Handler provides HTTP endpoints for session tracking.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new session handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes sets up session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.StartSession)
	r.GET("/sessions", h.ListActiveSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/sessions/:id/chunks", h.AppendChunk)
	r.GET("/sessions/:id/chunks", h.ListChunks)
	r.POST("/sessions/:id/end", h.EndSession)
	r.GET("/watchlist/:handle/sessions", h.ListByHandle)
}

// StartRequest is the payload for starting a session.
type StartRequest struct {
	Handle    string `json:"handle" binding:"required"`
	SessionID string `json:"sessionId"` // upstream token; generated when omitted
}

// StartSession handles POST /v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidHandle("handle", req.Handle),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	session, err := h.tracker.Start(c.Request.Context(), req.Handle, req.SessionID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "start_failed"
		switch {
		case errors.Is(err, ErrNotWatched):
			status = http.StatusNotFound
			code = "not_watched"
		case errors.Is(err, ErrSessionAlreadyActive):
			status = http.StatusConflict
			code = "session_already_active"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// GetSession handles GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "Session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

// ListActiveSessions handles GET /v1/sessions
func (h *Handler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.tracker.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// AppendChunk handles POST /v1/sessions/:id/chunks
func (h *Handler) AppendChunk(c *gin.Context) {
	var input ChunkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	chunk, session, err := h.tracker.AppendChunk(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		status := http.StatusInternalServerError
		code := "chunk_failed"
		switch {
		case errors.Is(err, ErrSessionNotActive):
			status = http.StatusConflict
			code = "session_not_active"
		case errors.Is(err, scoring.ErrInvalidTier):
			status = http.StatusBadRequest
			code = "invalid_tier"
		case errors.Is(err, scoring.ErrInvalidInput):
			status = http.StatusBadRequest
			code = "invalid_engagement"
		case errors.Is(err, scoring.ErrDivisionByZero):
			status = http.StatusBadRequest
			code = "zero_video_count"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"chunk":   chunk,
		"session": session,
	})
}

// ListChunks handles GET /v1/sessions/:id/chunks
func (h *Handler) ListChunks(c *gin.Context) {
	limit := 500
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 2000 {
				limit = 2000
			}
		}
	}

	chunks, err := h.tracker.ListChunks(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

// EndRequest is the optional payload for ending a session.
type EndRequest struct {
	FullVideoURL string `json:"fullVideoUrl"`
}

// EndSession handles POST /v1/sessions/:id/end
func (h *Handler) EndSession(c *gin.Context) {
	var req EndRequest
	// Allow empty body
	_ = c.ShouldBindJSON(&req)

	session, err := h.tracker.End(c.Request.Context(), c.Param("id"), req.FullVideoURL)
	if err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_not_active",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

// ListByHandle handles GET /v1/watchlist/:handle/sessions
func (h *Handler) ListByHandle(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	sessions, err := h.tracker.ListByHandle(c.Request.Context(), c.Param("handle"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
