package models

import (
	"strings"
	"time"
)

type Session struct {
	ID        int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	Code      string    `json:"code" gorm:"size:16;uniqueIndex;not null"`
	HostID    string    `json:"host_id" gorm:"size:64;not null"`
	Name      string    `json:"name"`
	Active    bool      `json:"active" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is a user who joined a session. The host is recorded on create.
type Participant struct {
	ID          int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	SessionCode string    `json:"-" gorm:"size:16;uniqueIndex:idx_participant_session_user;not null"`
	UserID      string    `json:"user_id" gorm:"size:64;uniqueIndex:idx_participant_session_user;not null"`
	Username    string    `json:"username" gorm:"size:64"`
	IsHost      bool      `json:"is_host" gorm:"not null;default:false"`
	JoinedAt    time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

type QueueItem struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionCode string    `json:"session_code" gorm:"size:16;index;not null"`
	SongID      string    `json:"song_id" gorm:"size:128;not null"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	MediaURL    string    `json:"media_url"`
	ImageURL    string    `json:"image_url"`
	AddedBy     string    `json:"added_by" gorm:"size:64"`
	Votes       int       `json:"votes" gorm:"not null;default:0"`
	Played      bool      `json:"played" gorm:"index;not null;default:false"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

func (t VoteType) Valid() bool {
	return t == VoteUp || t == VoteDown
}

// Value is the signed contribution of a single vote to an item's score.
func (t VoteType) Value() int {
	switch t {
	case VoteUp:
		return 1
	case VoteDown:
		return -1
	}
	return 0
}

type Vote struct {
	ID          int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID      string    `json:"user_id" gorm:"size:64;uniqueIndex:idx_vote_user_item;not null"`
	QueueItemID int64     `json:"queue_item_id" gorm:"uniqueIndex:idx_vote_user_item;index;not null"`
	VoteType    VoteType  `json:"vote_type" gorm:"size:8;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Song is the catalog tuple a search collaborator hands over when a
// participant picks a track.
type Song struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ArtistName string `json:"artist_name"`
	Audio      string `json:"audio"`
	Image      string `json:"image"`
}

// Missing returns the names of required fields left empty.
func (s Song) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(s.Name) == "" {
		missing = append(missing, "name")
	}
	return missing
}

// QueueEntry is a queue item as seen by one participant.
type QueueEntry struct {
	QueueItem
	UserVoteType *VoteType `json:"user_vote_type"`
}

// PlaybackSnapshot is the last playback state reported by a session host.
type PlaybackSnapshot struct {
	Track    string  `json:"track"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}
