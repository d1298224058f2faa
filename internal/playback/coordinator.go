// Package playback applies host transport commands to a session.
package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/aura-vibe/queue-sync/internal/hub"
	"github.com/aura-vibe/queue-sync/internal/message"
	"github.com/aura-vibe/queue-sync/internal/queue"
	"github.com/aura-vibe/queue-sync/internal/session"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/locker"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

const endOfQueueMessage = "end of queue"

type Hub interface {
	Unicast(c hub.Conn, msg message.Outbound) error
	BroadcastRaw(code string, data []byte, excludeID string)
	SetSnapshot(code string, snap hub.Snapshot)
	Snapshot(code string) (hub.Snapshot, bool)
}

type Coordinator struct {
	sessions *session.Registry
	queue    *queue.Service
	hub      Hub
	locks    *locker.Keyed
}

func NewCoordinator(sessions *session.Registry, queue *queue.Service, hub Hub, locks *locker.Keyed) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		queue:    queue,
		hub:      hub,
		locks:    locks,
	}
}

// Next plays the top of the queue. Only the host may call it; an empty queue
// yields apperr.ErrEndOfQueue.
func (c *Coordinator) Next(ctx context.Context, code, callerID string) (*models.QueueItem, []*models.QueueItem, error) {
	sess, err := c.sessions.AssertHost(ctx, code, callerID)
	if err != nil {
		return nil, nil, err
	}
	return c.queue.Advance(ctx, sess.Code)
}

// HandleControl runs a playback_control frame from conn. Errors are for the
// sender only; end of queue is answered with an info frame.
func (c *Coordinator) HandleControl(ctx context.Context, code string, conn hub.Conn, ctl message.PlaybackControl) error {
	switch ctl.Action {
	case message.ActionNext:
		played, _, err := c.Next(ctx, code, conn.UserID())
		if errors.Is(err, apperr.ErrEndOfQueue) {
			return c.hub.Unicast(conn, message.NewInfo(endOfQueueMessage))
		}
		if err != nil {
			return err
		}
		logger.Info("playback advanced",
			logger.String("session", code),
			logger.Int64("item", played.ID))
		return nil
	case message.ActionPrevious:
		if _, err := c.sessions.AssertHost(ctx, code, conn.UserID()); err != nil {
			return err
		}
		// no history is kept, so there is nothing to go back to
		logger.Debug("ignoring previous", logger.String("session", code))
		return nil
	}
	return fmt.Errorf("%w: unknown action %q", apperr.ErrInvalidInput, ctl.Action)
}

// HandleSync stores the host's playback state and relays the frame, as sent,
// to everyone else in the session.
func (c *Coordinator) HandleSync(ctx context.Context, code string, conn hub.Conn, sync message.PlaybackSync) error {
	sess, err := c.sessions.AssertHost(ctx, code, conn.UserID())
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(sess.Code)
	defer unlock()

	raw := append([]byte(nil), sync.Raw...)
	c.hub.SetSnapshot(sess.Code, hub.Snapshot{State: sync.State, Raw: raw})
	c.hub.BroadcastRaw(sess.Code, raw, conn.ID())
	return nil
}

// Snapshot returns the last playback state the host reported.
func (c *Coordinator) Snapshot(ctx context.Context, code string) (models.PlaybackSnapshot, error) {
	sess, err := c.sessions.Resolve(ctx, code)
	if err != nil {
		return models.PlaybackSnapshot{}, err
	}
	snap, ok := c.hub.Snapshot(sess.Code)
	if !ok {
		return models.PlaybackSnapshot{}, fmt.Errorf("playback snapshot: %w", apperr.ErrNotFound)
	}
	return snap.State, nil
}
