package events

import (
	"context"
	"sync"
	"time"

	"github.com/aura-vibe/queue-sync/pkg/logger"
)

// Emitter decouples publishing from the request path: Emit never blocks and
// a single worker drains the buffer into the Publisher, preserving order.
// A nil *Emitter discards everything.
type Emitter struct {
	pub     Publisher
	ch      chan Event
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewEmitter(pub Publisher, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		pub:     pub,
		ch:      make(chan Event, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.ch {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		if err := e.pub.Publish(ctx, ev); err != nil {
			logger.Warn("failed to publish event",
				logger.ErrorField(err),
				logger.String("type", string(ev.Type)),
				logger.String("session", ev.SessionCode))
		}
		cancel()
	}
}

// Emit queues an event. When the buffer is full the event is dropped.
func (e *Emitter) Emit(eventType EventType, sessionCode, userID string, payload interface{}) {
	if e == nil {
		return
	}
	ev, err := NewEvent(eventType, sessionCode, userID, payload)
	if err != nil {
		logger.Warn("failed to build event", logger.ErrorField(err), logger.String("type", string(eventType)))
		return
	}

	select {
	case e.ch <- ev:
	default:
		logger.Warn("event buffer full, dropping event",
			logger.String("type", string(eventType)),
			logger.String("session", sessionCode))
	}
}

// Close flushes queued events and closes the publisher. Emit must not be
// called after Close.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		close(e.ch)
	})
	<-e.done
	return e.pub.Close()
}
