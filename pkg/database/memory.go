package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

type voteKey struct {
	userID string
	itemID int64
}

// MemoryStore keeps everything in process memory. Sessions live as long as
// the process does, which is all the durability a party queue needs.
type MemoryStore struct {
	mu              sync.RWMutex
	sessions        map[string]*models.Session
	participants    map[string][]*models.Participant
	nextParticipant int64
	nextSession     int64
	items           map[int64]*models.QueueItem
	nextItem        int64
	votes           map[voteKey]*models.Vote
	nextVote        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*models.Session),
		participants: make(map[string][]*models.Participant),
		items:        make(map[int64]*models.QueueItem),
		votes:        make(map[voteKey]*models.Vote),
	}
}

// Session operations
func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.Code]; ok {
		return fmt.Errorf("session code %s already exists", session.Code)
	}
	m.nextSession++
	now := time.Now()
	session.ID = m.nextSession
	session.CreatedAt = now
	session.UpdatedAt = now

	cp := *session
	m.sessions[session.Code] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, code string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[code]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SessionCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessions[code]
	return ok, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[session.Code]
	if !ok || s.ID != session.ID {
		return apperr.ErrNotFound
	}
	session.UpdatedAt = time.Now()
	cp := *session
	m.sessions[session.Code] = &cp
	return nil
}

// Participant operations
func (m *MemoryStore) AddParticipant(_ context.Context, p *models.Participant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.participants[p.SessionCode] {
		if existing.UserID == p.UserID {
			*p = *existing
			return false, nil
		}
	}
	m.nextParticipant++
	p.ID = m.nextParticipant
	p.JoinedAt = time.Now()

	cp := *p
	m.participants[p.SessionCode] = append(m.participants[p.SessionCode], &cp)
	return true, nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, sessionCode string) ([]*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Participant, 0, len(m.participants[sessionCode]))
	for _, p := range m.participants[sessionCode] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// Queue operations
func (m *MemoryStore) AddQueueItem(_ context.Context, item *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextItem++
	now := time.Now()
	item.ID = m.nextItem
	item.CreatedAt = now
	item.UpdatedAt = now

	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) GetQueueItem(_ context.Context, id int64) (*models.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) ListUnplayed(_ context.Context, sessionCode string) ([]*models.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.QueueItem, 0)
	for _, item := range m.items {
		if item.SessionCode == sessionCode && !item.Played {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CountQueueItems(_ context.Context, sessionCode string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, item := range m.items {
		if item.SessionCode == sessionCode {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateQueueItem(_ context.Context, item *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; !ok {
		return apperr.ErrNotFound
	}
	item.UpdatedAt = time.Now()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) SetPositions(_ context.Context, sessionCode string, positions map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range positions {
		item, ok := m.items[id]
		if !ok || item.SessionCode != sessionCode {
			return fmt.Errorf("queue item %d: %w", id, apperr.ErrNotFound)
		}
	}
	now := time.Now()
	for id, pos := range positions {
		m.items[id].Position = pos
		m.items[id].UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) DeleteQueueItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.items, id)
	for k := range m.votes {
		if k.itemID == id {
			delete(m.votes, k)
		}
	}
	return nil
}

// Vote operations
func (m *MemoryStore) GetVote(_ context.Context, userID string, queueItemID int64) (*models.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.votes[voteKey{userID, queueItemID}]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListUserVotes(_ context.Context, sessionCode, userID string) (map[int64]models.VoteType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]models.VoteType)
	for k, v := range m.votes {
		if k.userID != userID {
			continue
		}
		if item, ok := m.items[k.itemID]; ok && item.SessionCode == sessionCode {
			out[k.itemID] = v.VoteType
		}
	}
	return out, nil
}

func (m *MemoryStore) ApplyVote(_ context.Context, change VoteChange) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[change.Vote.QueueItemID]
	if !ok {
		return 0, apperr.ErrNotFound
	}

	key := voteKey{change.Vote.UserID, change.Vote.QueueItemID}
	existing, exists := m.votes[key]
	now := time.Now()

	switch change.Op {
	case VoteInsert:
		if exists {
			return 0, fmt.Errorf("vote for user %s on item %d already exists", key.userID, key.itemID)
		}
		m.nextVote++
		v := change.Vote
		v.ID = m.nextVote
		v.CreatedAt = now
		v.UpdatedAt = now
		m.votes[key] = &v
	case VoteUpdate:
		if !exists {
			return 0, apperr.ErrNotFound
		}
		existing.VoteType = change.Vote.VoteType
		existing.UpdatedAt = now
	case VoteDelete:
		if !exists {
			return 0, apperr.ErrNotFound
		}
		delete(m.votes, key)
	default:
		return 0, fmt.Errorf("unknown vote op %d", change.Op)
	}

	item.Votes += change.Delta
	item.UpdatedAt = now
	return item.Votes, nil
}

func (m *MemoryStore) SumVotes(_ context.Context, queueItemID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for k, v := range m.votes {
		if k.itemID == queueItemID {
			total += v.VoteType.Value()
		}
	}
	return total, nil
}

func (m *MemoryStore) SetVoteCount(_ context.Context, queueItemID int64, votes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[queueItemID]
	if !ok {
		return apperr.ErrNotFound
	}
	item.Votes = votes
	item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
