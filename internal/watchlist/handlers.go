package watchlist

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/livewatch/livewatch/internal/validation"
)

// Handler provides HTTP endpoints for watchlist management.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new watchlist handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up watchlist routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/watchlist", h.AddAccount)
	r.GET("/watchlist", h.ListAccounts)
	r.GET("/watchlist/:handle", h.GetAccount)
	r.DELETE("/watchlist/:handle", h.RemoveAccount)
	r.PUT("/watchlist/:handle/live", h.SetLiveStatus)
	r.PUT("/watchlist/:handle/recording", h.SetRecording)
	r.POST("/watchlist/:handle/stats", h.RefreshStats)
}

// AddRequest is the payload for adding an account.
type AddRequest struct {
	Handle      string `json:"handle" binding:"required"`
	DisplayName string `json:"displayName"`
}

// AddAccount handles POST /v1/watchlist
func (h *Handler) AddAccount(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidHandle("handle", req.Handle),
		validation.MaxLength("displayName", req.DisplayName, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	account, err := h.registry.Add(c.Request.Context(), req.Handle, req.DisplayName)
	if err != nil {
		status := http.StatusInternalServerError
		code := "add_failed"
		switch {
		case errors.Is(err, ErrAlreadyWatched):
			status = http.StatusConflict
			code = "already_watched"
		case errors.Is(err, ErrInvalidHandle):
			status = http.StatusBadRequest
			code = "invalid_handle"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": account})
}

// GetAccount handles GET /v1/watchlist/:handle
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.registry.Get(c.Request.Context(), c.Param("handle"))
	if err != nil {
		if errors.Is(err, ErrNotWatched) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_watched",
				"message": "Account is not on the watchlist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}

// ListAccounts handles GET /v1/watchlist
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// RemoveAccount handles DELETE /v1/watchlist/:handle
func (h *Handler) RemoveAccount(c *gin.Context) {
	err := h.registry.Remove(c.Request.Context(), c.Param("handle"))
	if err != nil {
		if errors.Is(err, ErrNotWatched) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_watched",
				"message": "Account is not on the watchlist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// LiveStatusRequest is the payload for flipping the live flag.
type LiveStatusRequest struct {
	IsLive *bool `json:"isLive" binding:"required"`
}

// SetLiveStatus handles PUT /v1/watchlist/:handle/live
func (h *Handler) SetLiveStatus(c *gin.Context) {
	var req LiveStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsLive == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include isLive",
		})
		return
	}

	account, err := h.registry.SetLiveStatus(c.Request.Context(), c.Param("handle"), *req.IsLive)
	if err != nil {
		if errors.Is(err, ErrNotWatched) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_watched", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}

// RecordingRequest is the payload for flipping the recording flag.
type RecordingRequest struct {
	IsRecording *bool `json:"isRecording" binding:"required"`
}

// SetRecording handles PUT /v1/watchlist/:handle/recording
func (h *Handler) SetRecording(c *gin.Context) {
	var req RecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsRecording == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include isRecording",
		})
		return
	}

	account, err := h.registry.SetRecording(c.Request.Context(), c.Param("handle"), *req.IsRecording)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNotWatched):
			status = http.StatusNotFound
			code = "not_watched"
		case errors.Is(err, ErrNotLive):
			status = http.StatusConflict
			code = "not_live"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}

// RefreshStats handles POST /v1/watchlist/:handle/stats
func (h *Handler) RefreshStats(c *gin.Context) {
	var stats Stats
	if err := c.ShouldBindJSON(&stats); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	account, err := h.registry.RefreshStats(c.Request.Context(), c.Param("handle"), stats)
	if err != nil {
		if errors.Is(err, ErrInvalidHandle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_handle", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}
