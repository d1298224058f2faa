package playback

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-vibe/queue-sync/internal/auth"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
)

type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions/:code")
	{
		sessions.POST("/next", auth.RequireUser(), h.next)
		sessions.GET("/playback", h.getPlayback)
	}
}

func (h *Handler) next(c *gin.Context) {
	played, queue, err := h.coordinator.Next(c.Request.Context(), c.Param("code"), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"played": played, "queue": queue})
}

func (h *Handler) getPlayback(c *gin.Context) {
	snap, err := h.coordinator.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
