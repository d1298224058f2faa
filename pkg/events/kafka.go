package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeSessionCreated EventType = "session_created"
	EventTypeSessionEnded   EventType = "session_ended"
	EventTypeSongAdded      EventType = "song_added"
	EventTypeSongVoted      EventType = "song_voted"
	EventTypeSongPlayed     EventType = "song_played"
	EventTypeSongRemoved    EventType = "song_removed"
	EventTypeQueueReordered EventType = "queue_reordered"
)

// Event is one entry of the session activity stream. It is an audit trail
// for downstream consumers, not a delivery path to participants.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	SessionCode string          `json:"session_code"`
	UserID      string          `json:"user_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewEvent stamps an event and marshals its payload.
func NewEvent(eventType EventType, sessionCode, userID string, payload interface{}) (Event, error) {
	ev := Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		SessionCode: sessionCode,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		ev.Payload = data
	}
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: writer}
}

// Publish keys messages by session code so one session's events stay in
// order on a single partition.
func (k *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	messageJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionCode),
		Value: messageJSON,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (k *KafkaPublisher) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

// Payload types
type SongAddedPayload struct {
	QueueItemID int64  `json:"queue_item_id"`
	SongID      string `json:"song_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
}

type SongVotedPayload struct {
	QueueItemID int64   `json:"queue_item_id"`
	VoteType    *string `json:"vote_type"`
	TotalVotes  int     `json:"total_votes"`
}

type SongPlayedPayload struct {
	QueueItemID int64  `json:"queue_item_id"`
	SongID      string `json:"song_id"`
}

type QueueReorderedPayload struct {
	Order []int64 `json:"order"`
}

type SessionPayload struct {
	HostID string `json:"host_id"`
	Name   string `json:"name,omitempty"`
}

type SongRemovedPayload struct {
	QueueItemID int64  `json:"queue_item_id"`
	SongID      string `json:"song_id"`
}
