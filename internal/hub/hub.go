// Package hub tracks the live participant connections of every session and
// fans messages out to them.
//
// Each session has its own room lock. Fan-out runs under that lock and every
// Conn.Send is a non-blocking enqueue, so messages triggered in sequence reach
// every connection of the session in the same relative order.
package hub

import (
	"errors"
	"sync"

	"github.com/aura-vibe/queue-sync/internal/message"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrConnClosed     = errors.New("connection closed")
)

// Conn is one participant socket. Send must not block; Close must be safe to
// call more than once.
type Conn interface {
	ID() string
	UserID() string
	Send(data []byte) error
	Close()
}

// Snapshot is the last playback state a host reported, kept both parsed and
// as the bytes the host sent.
type Snapshot struct {
	State models.PlaybackSnapshot
	Raw   []byte
}

type room struct {
	mu    sync.Mutex
	conns map[string]Conn
	// order keeps join order so fan-out is deterministic.
	order []string
	dead  bool
}

func (r *room) remove(id string) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

type Hub struct {
	mu        sync.Mutex
	rooms     map[string]*room
	snapshots map[string]Snapshot
}

func New() *Hub {
	return &Hub{
		rooms:     make(map[string]*room),
		snapshots: make(map[string]Snapshot),
	}
}

// lockRoom returns the live room for code, locked. With create unset it
// returns nil when the session has no connections.
func (h *Hub) lockRoom(code string, create bool) *room {
	for {
		h.mu.Lock()
		r, ok := h.rooms[code]
		if !ok {
			if !create {
				h.mu.Unlock()
				return nil
			}
			r = &room{conns: make(map[string]Conn)}
			h.rooms[code] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

// Join registers c under code, tells everyone the new participant count and
// replays the playback snapshot, if any, to c alone.
func (h *Hub) Join(code string, c Conn) int {
	r := h.lockRoom(code, true)
	if _, exists := r.conns[c.ID()]; !exists {
		r.order = append(r.order, c.ID())
	}
	r.conns[c.ID()] = c
	count := len(r.conns)

	failed := h.fanOut(code, r, encode(message.NewParticipantCount(count)), "")

	h.mu.Lock()
	snap, hasSnap := h.snapshots[code]
	h.mu.Unlock()
	if hasSnap {
		if err := c.Send(snap.Raw); err != nil {
			failed = appendConn(failed, c)
		}
	}
	r.mu.Unlock()

	logger.Info("connection joined session",
		logger.String("session", code),
		logger.String("conn", c.ID()),
		logger.String("user", c.UserID()),
		logger.Int("participants", count))

	h.reap(code, failed)
	return count
}

// Leave deregisters c. It is idempotent and reports whether c was present.
func (h *Hub) Leave(code string, c Conn) bool {
	r := h.lockRoom(code, false)
	if r == nil {
		return false
	}
	if !r.remove(c.ID()) {
		r.mu.Unlock()
		return false
	}

	count := len(r.conns)
	var failed []Conn
	if count == 0 {
		r.dead = true
		h.mu.Lock()
		if h.rooms[code] == r {
			delete(h.rooms, code)
		}
		h.mu.Unlock()
	} else {
		failed = h.fanOut(code, r, encode(message.NewParticipantCount(count)), "")
	}
	r.mu.Unlock()

	c.Close()
	logger.Info("connection left session",
		logger.String("session", code),
		logger.String("conn", c.ID()),
		logger.Int("participants", count))

	h.reap(code, failed)
	return true
}

// Broadcast delivers msg to every connection of the session.
func (h *Hub) Broadcast(code string, msg message.Outbound) {
	h.BroadcastExcept(code, msg, "")
}

// BroadcastExcept delivers msg to every connection but the one with
// excludeID.
func (h *Hub) BroadcastExcept(code string, msg message.Outbound, excludeID string) {
	data := encode(msg)
	if data == nil {
		return
	}
	h.BroadcastRaw(code, data, excludeID)
}

func (h *Hub) BroadcastRaw(code string, data []byte, excludeID string) {
	r := h.lockRoom(code, false)
	if r == nil {
		return
	}
	failed := h.fanOut(code, r, data, excludeID)
	r.mu.Unlock()

	h.reap(code, failed)
}

// Unicast sends msg to a single connection.
func (h *Hub) Unicast(c Conn, msg message.Outbound) error {
	data := encode(msg)
	if data == nil {
		return errors.New("failed to encode message")
	}
	return c.Send(data)
}

// fanOut must be called with r.mu held. It returns the connections whose
// send failed so the caller can reap them after unlocking.
func (h *Hub) fanOut(code string, r *room, data []byte, excludeID string) []Conn {
	if data == nil {
		return nil
	}
	var failed []Conn
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		c := r.conns[id]
		if err := c.Send(data); err != nil {
			logger.Warn("failed to send message",
				logger.ErrorField(err),
				logger.String("session", code),
				logger.String("conn", id))
			failed = append(failed, c)
		}
	}
	return failed
}

func (h *Hub) reap(code string, failed []Conn) {
	for _, c := range failed {
		h.Leave(code, c)
	}
}

func appendConn(list []Conn, c Conn) []Conn {
	for _, v := range list {
		if v.ID() == c.ID() {
			return list
		}
	}
	return append(list, c)
}

// Count returns the number of live connections in the session.
func (h *Hub) Count(code string) int {
	r := h.lockRoom(code, false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sessions returns the number of sessions with at least one connection.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// SetSnapshot replaces the session's playback snapshot.
func (h *Hub) SetSnapshot(code string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[code] = snap
}

func (h *Hub) Snapshot(code string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.snapshots[code]
	return snap, ok
}

// CloseSession tells the session it is over, disconnects everyone and forgets
// its snapshot.
func (h *Hub) CloseSession(code string) {
	h.mu.Lock()
	delete(h.snapshots, code)
	h.mu.Unlock()

	r := h.lockRoom(code, false)
	if r == nil {
		return
	}
	h.fanOut(code, r, encode(message.NewSessionEnded(code)), "")
	conns := make([]Conn, 0, len(r.order))
	for _, id := range r.order {
		conns = append(conns, r.conns[id])
	}
	r.conns = make(map[string]Conn)
	r.order = nil
	r.dead = true
	h.mu.Lock()
	if h.rooms[code] == r {
		delete(h.rooms, code)
	}
	h.mu.Unlock()
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	logger.Info("session connections closed",
		logger.String("session", code),
		logger.Int("connections", len(conns)))
}

// Shutdown closes every connection of every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	h.mu.Unlock()

	for _, code := range codes {
		r := h.lockRoom(code, false)
		if r == nil {
			continue
		}
		conns := make([]Conn, 0, len(r.conns))
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.conns = make(map[string]Conn)
		r.order = nil
		r.dead = true
		h.mu.Lock()
		if h.rooms[code] == r {
			delete(h.rooms, code)
		}
		h.mu.Unlock()
		r.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
	}
}

func encode(msg message.Outbound) []byte {
	data, err := message.Encode(msg)
	if err != nil {
		logger.Error("failed to marshal message", logger.ErrorField(err), logger.String("type", string(msg.Kind())))
		return nil
	}
	return data
}
