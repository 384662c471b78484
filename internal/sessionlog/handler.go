package sessionlog

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister returns recent sessions.
type Lister interface {
	ListRecent(ctx context.Context, limit int) ([]models.HapticSession, error)
}

// Handler handles GET /sessions.
type Handler struct {
	repo Lister
}

// NewHandler creates a session log handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /sessions?limit=N (newest first).
func (h *Handler) List(c *gin.Context) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxLimit)
	}
	list, err := h.repo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	if list == nil {
		list = []models.HapticSession{}
	}
	response.OK(c, gin.H{"sessions": list})
}
