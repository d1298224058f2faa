// Package vote keeps the per-user vote rows of queue items and the vote
// counter denormalised onto each item.
package vote

import (
	"context"
	"errors"
	"fmt"

	"github.com/aura-vibe/queue-sync/internal/message"
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

// Result is the outcome of a vote as seen by the voter. VoteType is nil when
// the vote was revoked.
type Result struct {
	Votes    int              `json:"votes"`
	VoteType *models.VoteType `json:"user_vote_type"`
}

type Ledger struct {
	store  database.Store
	hub    Broadcaster
	locks  *locker.Keyed
	events *events.Emitter
}

// NewLedger shares locks with the queue so votes serialise with every other
// mutation of the same session.
func NewLedger(store database.Store, hub Broadcaster, locks *locker.Keyed, emitter *events.Emitter) *Ledger {
	return &Ledger{
		store:  store,
		hub:    hub,
		locks:  locks,
		events: emitter,
	}
}

// CastVote records userID's vote on an item. Voting the same way twice
// revokes the vote; voting the other way switches it.
func (l *Ledger) CastVote(ctx context.Context, userID string, itemID int64, voteType models.VoteType) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("%w: user id required", apperr.ErrInvalidInput)
	}
	if !voteType.Valid() {
		return Result{}, fmt.Errorf("%w: vote must be up or down", apperr.ErrInvalidInput)
	}

	item, err := l.getItem(ctx, itemID)
	if err != nil {
		return Result{}, err
	}

	unlock := l.locks.Lock(item.SessionCode)
	defer unlock()

	// the item may have been played or removed while we waited
	item, err = l.getItem(ctx, itemID)
	if err != nil {
		return Result{}, err
	}
	if item.Played {
		return Result{}, fmt.Errorf("queue item %d: %w", itemID, apperr.ErrAlreadyPlayed)
	}

	existing, err := l.store.GetVote(ctx, userID, itemID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Result{}, fmt.Errorf("failed to get vote: %w", err)
	}

	change, result := transition(existing, userID, itemID, voteType)
	votes, err := l.store.ApplyVote(ctx, change)
	if err != nil {
		return Result{}, fmt.Errorf("failed to %s vote: %w", change.Op, err)
	}
	result.Votes = votes

	l.hub.Broadcast(item.SessionCode, message.NewVoteUpdated(itemID, votes))

	var voted *string
	if result.VoteType != nil {
		s := string(*result.VoteType)
		voted = &s
	}
	l.events.Emit(events.EventTypeSongVoted, item.SessionCode, userID, events.SongVotedPayload{
		QueueItemID: itemID,
		VoteType:    voted,
		TotalVotes:  votes,
	})

	logger.Debug("vote cast",
		logger.String("session", item.SessionCode),
		logger.Int64("item", itemID),
		logger.String("user", userID),
		logger.String("op", change.Op.String()),
		logger.Int("votes", votes))
	return result, nil
}

// transition picks the ledger change for a new vote given the voter's
// existing one, if any.
func transition(existing *models.Vote, userID string, itemID int64, voteType models.VoteType) (database.VoteChange, Result) {
	if existing == nil {
		vt := voteType
		return database.VoteChange{
			Op:    database.VoteInsert,
			Vote:  models.Vote{UserID: userID, QueueItemID: itemID, VoteType: voteType},
			Delta: voteType.Value(),
		}, Result{VoteType: &vt}
	}

	if existing.VoteType == voteType {
		return database.VoteChange{
			Op:    database.VoteDelete,
			Vote:  *existing,
			Delta: -voteType.Value(),
		}, Result{}
	}

	vt := voteType
	updated := *existing
	updated.VoteType = voteType
	return database.VoteChange{
		Op:    database.VoteUpdate,
		Vote:  updated,
		Delta: 2 * voteType.Value(),
	}, Result{VoteType: &vt}
}

func (l *Ledger) getItem(ctx context.Context, itemID int64) (*models.QueueItem, error) {
	item, err := l.store.GetQueueItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("queue item %d: %w", itemID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// Tally returns the signed sum of the item's vote rows.
func (l *Ledger) Tally(ctx context.Context, itemID int64) (int, error) {
	if _, err := l.getItem(ctx, itemID); err != nil {
		return 0, err
	}
	sum, err := l.store.SumVotes(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum votes: %w", err)
	}
	return sum, nil
}

// Reconcile rewrites the item's counter from its vote rows and broadcasts the
// result if it had drifted.
func (l *Ledger) Reconcile(ctx context.Context, itemID int64) (int, error) {
	item, err := l.getItem(ctx, itemID)
	if err != nil {
		return 0, err
	}

	unlock := l.locks.Lock(item.SessionCode)
	defer unlock()

	item, err = l.getItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	sum, err := l.store.SumVotes(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum votes: %w", err)
	}
	if sum == item.Votes {
		return sum, nil
	}

	if err := l.store.SetVoteCount(ctx, itemID, sum); err != nil {
		return 0, fmt.Errorf("failed to set vote count: %w", err)
	}
	logger.Warn("vote counter drifted",
		logger.String("session", item.SessionCode),
		logger.Int64("item", itemID),
		logger.Int("counter", item.Votes),
		logger.Int("ledger", sum))

	l.hub.Broadcast(item.SessionCode, message.NewVoteUpdated(itemID, sum))
	return sum, nil
}
