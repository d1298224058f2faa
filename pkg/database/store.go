package database

import (
	"context"

	"github.com/aura-vibe/queue-sync/pkg/models"
)

// Store is the persistence the queue engine needs. Lookups that find nothing
// return apperr.ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, code string) (*models.Session, error)
	// SessionCodeExists reports whether code was ever issued, ended or not.
	SessionCodeExists(ctx context.Context, code string) (bool, error)
	UpdateSession(ctx context.Context, session *models.Session) error

	// AddParticipant records p once per session and user. When the user is
	// already on the roster p is filled from the stored row and created is
	// false.
	AddParticipant(ctx context.Context, p *models.Participant) (created bool, err error)
	// ListParticipants returns the roster in join order.
	ListParticipants(ctx context.Context, sessionCode string) ([]*models.Participant, error)

	AddQueueItem(ctx context.Context, item *models.QueueItem) error
	GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error)
	// ListUnplayed orders by votes descending, then id ascending.
	ListUnplayed(ctx context.Context, sessionCode string) ([]*models.QueueItem, error)
	CountQueueItems(ctx context.Context, sessionCode string) (int64, error)
	UpdateQueueItem(ctx context.Context, item *models.QueueItem) error
	// SetPositions writes every position or none.
	SetPositions(ctx context.Context, sessionCode string, positions map[int64]int) error
	// DeleteQueueItem removes the item together with its votes.
	DeleteQueueItem(ctx context.Context, id int64) error

	GetVote(ctx context.Context, userID string, queueItemID int64) (*models.Vote, error)
	ListUserVotes(ctx context.Context, sessionCode, userID string) (map[int64]models.VoteType, error)
	// ApplyVote changes the vote row and the item's counter in one unit and
	// returns the item's new counter.
	ApplyVote(ctx context.Context, change VoteChange) (int, error)
	SumVotes(ctx context.Context, queueItemID int64) (int, error)
	SetVoteCount(ctx context.Context, queueItemID int64, votes int) error

	Close() error
}

type VoteOp int

const (
	VoteInsert VoteOp = iota + 1
	VoteUpdate
	VoteDelete
)

func (op VoteOp) String() string {
	switch op {
	case VoteInsert:
		return "insert"
	case VoteUpdate:
		return "update"
	case VoteDelete:
		return "delete"
	}
	return "unknown"
}

// VoteChange is one ledger transition: the row operation plus the delta it
// implies for the item's counter.
type VoteChange struct {
	Op    VoteOp
	Vote  models.Vote
	Delta int
}
