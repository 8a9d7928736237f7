// Package events publishes accepted items to a Kafka topic for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

const eventType = "item.accepted"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ItemEvent is the JSON payload of one accepted item.
type ItemEvent struct {
	ID          string     `json:"id"`
	SourceURL   string     `json:"source_url,omitempty"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Score       float64    `json:"score"`
	Topics      []string   `json:"topics"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IngestedAt  time.Time  `json:"ingested_at"`
}

// KafkaNotifier writes one message per accepted item, keyed by item ID.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

var _ ports.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier builds a writer bound to cfg.Topic.
func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireAll,
	})
}

func newKafkaNotifier(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

// Notify publishes the batch in a single write.
func (n *KafkaNotifier) Notify(ctx context.Context, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(items))
	for _, item := range items {
		value, err := json.Marshal(newItemEvent(item))
		if err != nil {
			return fmt.Errorf("%w: marshal item %s: %v", domain.ErrNotification, item.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(item.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(eventType)},
				{Key: "source", Value: []byte(item.SourceName)},
			},
			Time: n.now(),
		})
	}

	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: kafka: %v", domain.ErrNotification, err)
	}
	return nil
}

// Close flushes and releases the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func newItemEvent(item domain.Item) ItemEvent {
	topics := item.Topics.Values()
	return ItemEvent{
		ID:          item.ID,
		SourceURL:   item.SourceURL,
		SourceName:  item.SourceName,
		Title:       item.Title,
		Summary:     item.Summary(),
		Score:       score(item),
		Topics:      topics,
		PublishedAt: item.PublishedAt,
		IngestedAt:  item.IngestedAt,
	}
}

func score(item domain.Item) float64 {
	if item.Relevance == nil {
		return 0
	}
	return item.Relevance.Score
}
