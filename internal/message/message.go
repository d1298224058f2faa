// Package message defines the websocket protocol. Inbound frames decode into
// a closed set of variants; anything unrecognised becomes Passthrough (valid
// JSON) or PlainText (not JSON).
package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aura-vibe/queue-sync/pkg/models"
)

type Type string

const (
	TypePlaybackControl Type = "playback_control"
	TypePlaybackSync    Type = "playback_sync"
	TypePing            Type = "ping"
	TypePong            Type = "pong"

	TypeQueueUpdated     Type = "queue_updated"
	TypeVoteUpdated      Type = "vote_updated"
	TypeSongPlayed       Type = "song_played"
	TypeSongRemoved      Type = "song_removed"
	TypeQueueReordered   Type = "queue_reordered"
	TypeParticipantCount Type = "participant_count_updated"
	TypeSessionEnded     Type = "session_ended"
	TypeInfo             Type = "info"
	TypeError            Type = "error"
	TypeText             Type = "text"
)

type Action string

const (
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
)

// Inbound is a decoded client frame.
type Inbound interface {
	inbound()
}

type PlaybackControl struct {
	Action Action `json:"action"`
}

// PlaybackSync keeps the frame as sent so it can be relayed byte for byte.
type PlaybackSync struct {
	State models.PlaybackSnapshot
	Raw   json.RawMessage
}

type Ping struct{}

// Passthrough is any JSON frame whose type is not handled by the server. Type
// is empty when the frame has no string "type" field.
type Passthrough struct {
	Type string
	Raw  json.RawMessage
}

// PlainText is a frame that is not JSON at all.
type PlainText struct {
	Text string
}

// Invalid is a known type whose body does not fit its schema.
type Invalid struct {
	Type Type
	Err  error
}

func (PlaybackControl) inbound() {}
func (PlaybackSync) inbound()    {}
func (Ping) inbound()            {}
func (Passthrough) inbound()     {}
func (PlainText) inbound()       {}
func (Invalid) inbound()         {}

// Decode never fails: every frame maps to some variant.
func Decode(data []byte) Inbound {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return PlainText{Text: string(data)}
	}

	var head struct {
		Type string `json:"type"`
	}
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &head) != nil {
		return Passthrough{Raw: json.RawMessage(trimmed)}
	}

	switch Type(head.Type) {
	case TypePlaybackControl:
		var pc PlaybackControl
		if err := json.Unmarshal(trimmed, &pc); err != nil {
			return Invalid{Type: TypePlaybackControl, Err: err}
		}
		if pc.Action != ActionNext && pc.Action != ActionPrevious {
			return Invalid{Type: TypePlaybackControl, Err: fmt.Errorf("unknown action %q", pc.Action)}
		}
		return pc
	case TypePlaybackSync:
		var s models.PlaybackSnapshot
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Invalid{Type: TypePlaybackSync, Err: err}
		}
		return PlaybackSync{State: s, Raw: json.RawMessage(trimmed)}
	case TypePing:
		return Ping{}
	}
	return Passthrough{Type: head.Type, Raw: json.RawMessage(trimmed)}
}

// Outbound is a server frame. Encode with json.Marshal.
type Outbound interface {
	Kind() Type
}

type QueueUpdated struct {
	Type  Type                `json:"type"`
	Queue []*models.QueueItem `json:"queue"`
	Item  *models.QueueItem   `json:"queue_item,omitempty"`
}

type VoteUpdated struct {
	Type        Type  `json:"type"`
	QueueItemID int64 `json:"queue_item_id"`
	Votes       int   `json:"new_votes"`
}

type SongPlayed struct {
	Type        Type              `json:"type"`
	QueueItemID int64             `json:"queue_item_id"`
	Item        *models.QueueItem `json:"queue_item"`
}

type SongRemoved struct {
	Type        Type  `json:"type"`
	QueueItemID int64 `json:"queue_item_id"`
}

type QueueReordered struct {
	Type  Type                `json:"type"`
	Order []int64             `json:"order"`
	Queue []*models.QueueItem `json:"queue"`
}

type ParticipantCount struct {
	Type  Type `json:"type"`
	Count int  `json:"count"`
}

type SessionEnded struct {
	Type Type   `json:"type"`
	Code string `json:"session_code"`
}

type Info struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct {
	Type Type `json:"type"`
}

type Text struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func (QueueUpdated) Kind() Type     { return TypeQueueUpdated }
func (VoteUpdated) Kind() Type      { return TypeVoteUpdated }
func (SongPlayed) Kind() Type       { return TypeSongPlayed }
func (SongRemoved) Kind() Type      { return TypeSongRemoved }
func (QueueReordered) Kind() Type   { return TypeQueueReordered }
func (ParticipantCount) Kind() Type { return TypeParticipantCount }
func (SessionEnded) Kind() Type     { return TypeSessionEnded }
func (Info) Kind() Type             { return TypeInfo }
func (Error) Kind() Type            { return TypeError }
func (Pong) Kind() Type             { return TypePong }
func (Text) Kind() Type             { return TypeText }

func NewQueueUpdated(queue []*models.QueueItem, item *models.QueueItem) QueueUpdated {
	if queue == nil {
		queue = []*models.QueueItem{}
	}
	return QueueUpdated{Type: TypeQueueUpdated, Queue: queue, Item: item}
}

func NewVoteUpdated(itemID int64, votes int) VoteUpdated {
	return VoteUpdated{Type: TypeVoteUpdated, QueueItemID: itemID, Votes: votes}
}

func NewSongPlayed(item *models.QueueItem) SongPlayed {
	return SongPlayed{Type: TypeSongPlayed, QueueItemID: item.ID, Item: item}
}

func NewSongRemoved(itemID int64) SongRemoved {
	return SongRemoved{Type: TypeSongRemoved, QueueItemID: itemID}
}

func NewQueueReordered(order []int64, queue []*models.QueueItem) QueueReordered {
	if queue == nil {
		queue = []*models.QueueItem{}
	}
	return QueueReordered{Type: TypeQueueReordered, Order: order, Queue: queue}
}

func NewParticipantCount(n int) ParticipantCount {
	return ParticipantCount{Type: TypeParticipantCount, Count: n}
}

func NewSessionEnded(code string) SessionEnded {
	return SessionEnded{Type: TypeSessionEnded, Code: code}
}

func NewInfo(msg string) Info {
	return Info{Type: TypeInfo, Message: msg}
}

func NewError(code, msg string) Error {
	return Error{Type: TypeError, Code: code, Message: msg}
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

func NewText(text string) Text {
	return Text{Type: TypeText, Message: text}
}

func Encode(m Outbound) ([]byte, error) {
	return json.Marshal(m)
}
