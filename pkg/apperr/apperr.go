// Package apperr holds the error values shared by the queue engine and its
// transports. Wrap them with fmt.Errorf("...: %w") and match with errors.Is.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-vibe/queue-sync/pkg/logger"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("only the session host can do that")
	ErrInvalidOrder    = errors.New("order must be a permutation of the unplayed queue")
	ErrAlreadyPlayed   = errors.New("song already played")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEndOfQueue      = errors.New("end of queue")
	ErrSessionFull     = errors.New("session is full")
)

// Code is the short machine-readable name sent to websocket clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrAlreadyPlayed):
		return "already_played"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrEndOfQueue):
		return "end_of_queue"
	case errors.Is(err, ErrSessionFull):
		return "session_full"
	}
	return "internal"
}

// HTTPStatus maps an error onto the status the API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotFound), errors.Is(err, ErrEndOfQueue):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyPlayed), errors.Is(err, ErrSessionFull):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Respond writes err as a JSON error body. Internal errors are logged and
// their text is not exposed.
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			logger.ErrorField(err),
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
