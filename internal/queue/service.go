package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aura-vibe/queue-sync/internal/message"
	"github.com/aura-vibe/queue-sync/internal/session"
	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/database"
	"github.com/aura-vibe/queue-sync/pkg/events"
	"github.com/aura-vibe/queue-sync/pkg/locker"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

type Broadcaster interface {
	Broadcast(code string, msg message.Outbound)
}

// Service is the per-session song queue. Every mutation holds the session's
// lock from the first read to the broadcast it triggers.
type Service struct {
	store    database.Store
	sessions *session.Registry
	hub      Broadcaster
	locks    *locker.Keyed
	events   *events.Emitter
}

func NewService(store database.Store, sessions *session.Registry, hub Broadcaster, locks *locker.Keyed, emitter *events.Emitter) *Service {
	return &Service{
		store:    store,
		sessions: sessions,
		hub:      hub,
		locks:    locks,
		events:   emitter,
	}
}

// AddItem appends a catalog song to the session queue.
func (s *Service) AddItem(ctx context.Context, code string, song models.Song, addedBy string) (*models.QueueItem, error) {
	if missing := song.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", apperr.ErrInvalidInput, strings.Join(missing, ", "))
	}

	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	code = sess.Code

	unlock := s.locks.Lock(code)
	defer unlock()

	n, err := s.store.CountQueueItems(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}

	item := &models.QueueItem{
		SessionCode: code,
		SongID:      song.ID,
		Title:       song.Name,
		Artist:      song.ArtistName,
		MediaURL:    song.Audio,
		ImageURL:    song.Image,
		AddedBy:     addedBy,
		Position:    int(n) + 1,
	}
	if err := s.store.AddQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add to queue: %w", err)
	}

	queue, err := s.store.ListUnplayed(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	s.hub.Broadcast(code, message.NewQueueUpdated(queue, item))
	s.events.Emit(events.EventTypeSongAdded, code, addedBy, events.SongAddedPayload{
		QueueItemID: item.ID,
		SongID:      item.SongID,
		Title:       item.Title,
		Artist:      item.Artist,
	})

	logger.Info("song added",
		logger.String("session", code),
		logger.Int64("item", item.ID),
		logger.String("song", item.SongID))
	return item, nil
}

// ListActive returns the unplayed queue, most votes first and insertion
// order among ties, annotated with userID's own votes.
func (s *Service) ListActive(ctx context.Context, code, userID string) ([]models.QueueEntry, error) {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListUnplayed(ctx, sess.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	var mine map[int64]models.VoteType
	if userID != "" {
		mine, err = s.store.ListUserVotes(ctx, sess.Code, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get votes: %w", err)
		}
	}

	entries := make([]models.QueueEntry, 0, len(items))
	for _, item := range items {
		entry := models.QueueEntry{QueueItem: *item}
		if vt, ok := mine[item.ID]; ok {
			vt := vt
			entry.UserVoteType = &vt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns an item of the session, played or not.
func (s *Service) Get(ctx context.Context, code string, itemID int64) (*models.QueueItem, error) {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.itemInSession(ctx, sess.Code, itemID)
}

func (s *Service) itemInSession(ctx context.Context, code string, itemID int64) (*models.QueueItem, error) {
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("queue item %d: %w", itemID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	if item.SessionCode != code {
		return nil, fmt.Errorf("queue item %d: %w", itemID, apperr.ErrNotFound)
	}
	return item, nil
}

// MarkPlayed flips an item to played. A second call fails with
// apperr.ErrAlreadyPlayed and broadcasts nothing.
func (s *Service) MarkPlayed(ctx context.Context, code string, itemID int64) (*models.QueueItem, error) {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sess.Code)
	defer unlock()

	return s.markPlayedLocked(ctx, sess.Code, itemID)
}

func (s *Service) markPlayedLocked(ctx context.Context, code string, itemID int64) (*models.QueueItem, error) {
	item, err := s.itemInSession(ctx, code, itemID)
	if err != nil {
		return nil, err
	}
	if item.Played {
		return nil, fmt.Errorf("queue item %d: %w", itemID, apperr.ErrAlreadyPlayed)
	}

	item.Played = true
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to mark played: %w", err)
	}

	s.hub.Broadcast(code, message.NewSongPlayed(item))
	s.events.Emit(events.EventTypeSongPlayed, code, "", events.SongPlayedPayload{QueueItemID: item.ID, SongID: item.SongID})

	logger.Info("song played",
		logger.String("session", code),
		logger.Int64("item", item.ID))
	return item, nil
}

// Advance plays the top of the queue and broadcasts the queue that remains.
// It returns apperr.ErrEndOfQueue when nothing is left.
func (s *Service) Advance(ctx context.Context, code string) (*models.QueueItem, []*models.QueueItem, error) {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	code = sess.Code

	unlock := s.locks.Lock(code)
	defer unlock()

	queue, err := s.store.ListUnplayed(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get queue: %w", err)
	}
	if len(queue) == 0 {
		return nil, nil, apperr.ErrEndOfQueue
	}

	played, err := s.markPlayedLocked(ctx, code, queue[0].ID)
	if err != nil {
		return nil, nil, err
	}

	queue, err = s.store.ListUnplayed(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get queue: %w", err)
	}
	s.hub.Broadcast(code, message.NewQueueUpdated(queue, nil))
	return played, queue, nil
}

// Reorder assigns 1-based positions in the order given. order must list
// every unplayed item of the session exactly once.
func (s *Service) Reorder(ctx context.Context, code string, order []int64) ([]*models.QueueItem, error) {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	code = sess.Code

	unlock := s.locks.Lock(code)
	defer unlock()

	current, err := s.store.ListUnplayed(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	if err := checkPermutation(current, order); err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.QueueItem, len(current))
	for _, item := range current {
		byID[item.ID] = item
	}
	positions := make(map[int64]int, len(order))
	ordered := make([]*models.QueueItem, 0, len(order))
	for i, id := range order {
		positions[id] = i + 1
		item := byID[id]
		item.Position = i + 1
		ordered = append(ordered, item)
	}

	if len(positions) > 0 {
		if err := s.store.SetPositions(ctx, code, positions); err != nil {
			return nil, fmt.Errorf("failed to reorder queue: %w", err)
		}
	}

	s.hub.Broadcast(code, message.NewQueueReordered(order, ordered))
	s.events.Emit(events.EventTypeQueueReordered, code, sess.HostID, events.QueueReorderedPayload{Order: order})

	logger.Info("queue reordered",
		logger.String("session", code),
		logger.Int("items", len(order)))
	return ordered, nil
}

func checkPermutation(current []*models.QueueItem, order []int64) error {
	if len(order) != len(current) {
		return fmt.Errorf("%w: got %d ids for %d queued songs", apperr.ErrInvalidOrder, len(order), len(current))
	}
	want := make(map[int64]bool, len(current))
	for _, item := range current {
		want[item.ID] = true
	}
	seen := make(map[int64]bool, len(order))
	for _, id := range order {
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %d", apperr.ErrInvalidOrder, id)
		}
		if !want[id] {
			return fmt.Errorf("%w: id %d is not queued", apperr.ErrInvalidOrder, id)
		}
		seen[id] = true
	}
	return nil
}

// Remove deletes an item and its votes. The host may remove anything; other
// participants only what they added themselves.
func (s *Service) Remove(ctx context.Context, code string, itemID int64, callerID string) error {
	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return err
	}
	code = sess.Code

	unlock := s.locks.Lock(code)
	defer unlock()

	item, err := s.itemInSession(ctx, code, itemID)
	if err != nil {
		return err
	}
	if callerID == "" || (callerID != sess.HostID && callerID != item.AddedBy) {
		return apperr.ErrForbidden
	}

	if err := s.store.DeleteQueueItem(ctx, itemID); err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}

	queue, err := s.store.ListUnplayed(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to get queue: %w", err)
	}
	s.hub.Broadcast(code, message.NewSongRemoved(itemID))
	s.hub.Broadcast(code, message.NewQueueUpdated(queue, nil))
	s.events.Emit(events.EventTypeSongRemoved, code, callerID, events.SongRemovedPayload{QueueItemID: item.ID, SongID: item.SongID})

	logger.Info("song removed",
		logger.String("session", code),
		logger.Int64("item", itemID),
		logger.String("by", callerID))
	return nil
}
