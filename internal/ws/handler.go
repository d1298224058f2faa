// Package ws serves the per-session websocket: one socket per participant,
// path-scoped by session code.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aura-vibe/queue-sync/internal/auth"
	"github.com/aura-vibe/queue-sync/internal/hub"
	"github.com/aura-vibe/queue-sync/internal/message"
	"github.com/aura-vibe/queue-sync/internal/playback"
	"github.com/aura-vibe/queue-sync/internal/session"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/logger"
)

type Handler struct {
	sessions    *session.Registry
	hub         *hub.Hub
	coordinator *playback.Coordinator
	upgrader    websocket.Upgrader
	opts        Options
}

// NewHandler accepts upgrades from allowedOrigins; an empty list or "*"
// accepts any origin.
func NewHandler(sessions *session.Registry, h *hub.Hub, coordinator *playback.Coordinator, allowedOrigins []string, opts Options) *Handler {
	return &Handler{
		sessions:    sessions,
		hub:         h,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		opts: opts.withDefaults(),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws/:code", h.HandleWebSocket)
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	sess, err := h.sessions.Resolve(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Error("failed to resolve session", logger.ErrorField(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade connection", logger.ErrorField(err), logger.String("session", sess.Code))
		return
	}

	client := NewClient(uuid.NewString(), auth.UserID(c), sess.Code, conn, h.opts)
	go client.WritePump()

	h.hub.Join(sess.Code, client)
	defer h.hub.Leave(sess.Code, client)

	client.ReadPump(c.Request.Context(), func(ctx context.Context, data []byte) {
		h.dispatch(ctx, sess.Code, client, data)
	})
}

func (h *Handler) dispatch(ctx context.Context, code string, client hub.Conn, data []byte) {
	var err error
	switch m := message.Decode(data).(type) {
	case message.PlaybackControl:
		err = h.coordinator.HandleControl(ctx, code, client, m)
	case message.PlaybackSync:
		err = h.coordinator.HandleSync(ctx, code, client, m)
	case message.Ping:
		err = h.hub.Unicast(client, message.NewPong())
	case message.Passthrough:
		logger.Debug("relaying client frame",
			logger.String("session", code),
			logger.String("type", m.Type))
		h.hub.BroadcastRaw(code, m.Raw, "")
	case message.PlainText:
		h.hub.Broadcast(code, message.NewText(m.Text))
	case message.Invalid:
		err = h.hub.Unicast(client, message.NewError(apperr.Code(apperr.ErrInvalidInput), m.Err.Error()))
	}
	if err == nil {
		return
	}

	logger.Debug("websocket message rejected",
		logger.ErrorField(err),
		logger.String("session", code),
		logger.String("conn", client.ID()),
		logger.String("user", client.UserID()))

	if errors.Is(err, hub.ErrSendBufferFull) || errors.Is(err, hub.ErrConnClosed) {
		return
	}
	msg := err.Error()
	if apperr.Code(err) == "internal" {
		logger.Error("failed to handle websocket message", logger.ErrorField(err), logger.String("session", code))
		msg = "internal server error"
	}
	h.hub.Unicast(client, message.NewError(apperr.Code(err), msg))
}
