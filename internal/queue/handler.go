package queue

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aura-vibe/queue-sync/internal/auth"
	"github.com/aura-vibe/queue-sync/internal/session"
	"github.com/aura-vibe/queue-sync/internal/vote"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

type Handler struct {
	service  *Service
	ledger   *vote.Ledger
	sessions *session.Registry
}

func NewHandler(service *Service, ledger *vote.Ledger, sessions *session.Registry) *Handler {
	return &Handler{
		service:  service,
		ledger:   ledger,
		sessions: sessions,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	queue := r.Group("/sessions/:code/queue")
	{
		queue.GET("", h.getQueue)
		queue.POST("", auth.RequireUser(), h.addToQueue)
		queue.POST("/reorder", auth.RequireUser(), h.reorder)
		queue.POST("/:id/vote", auth.RequireUser(), h.vote)
		queue.POST("/:id/played", auth.RequireUser(), h.markPlayed)
		queue.DELETE("/:id", auth.RequireUser(), h.remove)
	}
}

func (h *Handler) addToQueue(c *gin.Context) {
	var song models.Song
	if err := c.ShouldBindJSON(&song); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.service.AddItem(c.Request.Context(), c.Param("code"), song, auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (h *Handler) getQueue(c *gin.Context) {
	queue, err := h.service.ListActive(c.Request.Context(), c.Param("code"), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, queue)
}

type VoteRequest struct {
	Vote models.VoteType `json:"vote" binding:"required,oneof=up down"`
}

func (h *Handler) vote(c *gin.Context) {
	itemID, ok := itemParam(c)
	if !ok {
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// the item must belong to the session in the path
	if _, err := h.service.Get(c.Request.Context(), c.Param("code"), itemID); err != nil {
		apperr.Respond(c, err)
		return
	}

	result, err := h.ledger.CastVote(c.Request.Context(), auth.UserID(c), itemID, req.Vote)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type ReorderRequest struct {
	Order []int64 `json:"order" binding:"required"`
}

func (h *Handler) reorder(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.AssertHost(c.Request.Context(), c.Param("code"), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	queue, err := h.service.Reorder(c.Request.Context(), sess.Code, req.Order)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": req.Order, "queue": queue})
}

func (h *Handler) markPlayed(c *gin.Context) {
	itemID, ok := itemParam(c)
	if !ok {
		return
	}

	sess, err := h.sessions.AssertHost(c.Request.Context(), c.Param("code"), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	item, err := h.service.MarkPlayed(c.Request.Context(), sess.Code, itemID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) remove(c *gin.Context) {
	itemID, ok := itemParam(c)
	if !ok {
		return
	}

	if err := h.service.Remove(c.Request.Context(), c.Param("code"), itemID, auth.UserID(c)); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func itemParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
		return 0, false
	}
	return id, true
}
