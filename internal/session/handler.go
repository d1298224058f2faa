package session

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-vibe/queue-sync/internal/auth"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

// Connections is the part of the connection hub session routes need.
type Connections interface {
	Count(code string) int
	CloseSession(code string)
}

type Handler struct {
	registry *Registry
	conns    Connections
}

func NewHandler(registry *Registry, conns Connections) *Handler {
	return &Handler{registry: registry, conns: conns}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("/:code", h.getSession)
		sessions.POST("/:code/join", auth.RequireUser(), h.joinSession)
		sessions.DELETE("/:code", auth.RequireUser(), h.endSession)
	}
}

type CreateSessionRequest struct {
	HostID string `json:"host_id"`
	Name   string `json:"name"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	hostID := req.HostID
	if hostID == "" {
		hostID = auth.UserID(c)
	}

	session, err := h.registry.Create(c.Request.Context(), hostID, req.Name)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

type SessionInfo struct {
	*models.Session
	Participants []*models.Participant `json:"participants"`
	Connected    int                   `json:"connected"`
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.registry.Resolve(c.Request.Context(), c.Param("code"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	participants, err := h.registry.Participants(c.Request.Context(), session.Code)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionInfo{
		Session:      session,
		Participants: participants,
		Connected:    h.conns.Count(session.Code),
	})
}

type JoinRequest struct {
	Username string `json:"username" binding:"max=64"`
}

type JoinResponse struct {
	Code         string `json:"code"`
	HostID       string `json:"host_id"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	IsHost       bool   `json:"is_host"`
	Participants int    `json:"participants"`
}

func (h *Handler) joinSession(c *gin.Context) {
	var req JoinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	session, participant, err := h.registry.Join(c.Request.Context(), c.Param("code"), auth.UserID(c), req.Username)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, JoinResponse{
		Code:         session.Code,
		HostID:       session.HostID,
		UserID:       participant.UserID,
		Username:     participant.Username,
		IsHost:       participant.IsHost,
		Participants: h.conns.Count(session.Code),
	})
}

func (h *Handler) endSession(c *gin.Context) {
	code := NormalizeCode(c.Param("code"))
	if err := h.registry.End(c.Request.Context(), code, auth.UserID(c), h.conns.CloseSession); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
