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
	EventTypeSongAdded     EventType = "song_added"
	EventTypeSongVoted     EventType = "song_voted"
	EventTypeSongStarted   EventType = "song_started"
	EventTypeSongCompleted EventType = "song_completed"
	EventTypeQueueRemoved  EventType = "queue_removed"
)

type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type KafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaClient(brokers []string, topic string, groupID string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})

	return &KafkaClient{
		writer: writer,
		reader: reader,
	}
}

func (k *KafkaClient) PublishEvent(ctx context.Context, eventType EventType, sessionID string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payloadJSON,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(uuid.New().String()),
		Value: eventJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (k *KafkaClient) PublishVoteUpdate(ctx context.Context, sessionID, itemID string, totalVotes int) error {
	payload := VoteUpdatePayload{
		QueueItemID: itemID,
		TotalVotes:  totalVotes,
	}

	return k.PublishEvent(ctx, EventTypeSongVoted, sessionID, payload)
}

func (k *KafkaClient) ConsumeEvents(ctx context.Context, handler func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}

			var event Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}

			if err := handler(event); err != nil {
				return fmt.Errorf("failed to handle event: %w", err)
			}
		}
	}
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}

// Event payload types
type SongAddedPayload struct {
	QueueItemID string `json:"queue_item_id"`
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Votes       int    `json:"votes"`
}

type VoteUpdatePayload struct {
	QueueItemID string `json:"queue_item_id"`
	TotalVotes  int    `json:"total_votes"`
}

type SongStartedPayload struct {
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	URI     string `json:"uri"`
}

type SongCompletedPayload struct {
	QueueItemID string `json:"queue_item_id"`
	TrackID     string `json:"track_id"`
}

type QueueRemovedPayload struct {
	QueueItemID string `json:"queue_item_id"`
}
