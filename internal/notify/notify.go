// Package notify delivers domain events to the notification collaborator.
// Delivery happens after commit and never affects transactional outcomes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/segmentio/kafka-go"
)

var sent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by event type and result",
	},
	[]string{"type", "result"},
)

type Gateway interface {
	Notify(ctx context.Context, e domain.Event) error
}

// Send delivers e through g and logs any failure instead of returning it.
func Send(ctx context.Context, g Gateway, e domain.Event) {
	if g == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := g.Notify(ctx, e); err != nil {
		sent.WithLabelValues(string(e.Type), "error").Inc()
		slog.ErrorContext(ctx, "notification failed",
			"event_id", e.ID, "type", e.Type, "entity", e.ContextEntityID, "error", err)
		return
	}
	sent.WithLabelValues(string(e.Type), "ok").Inc()
}

// KafkaGateway writes events as JSON to a Kafka topic keyed by the entity
// id so all events for one booking land on one partition.
type KafkaGateway struct {
	writer *kafka.Writer
}

func NewKafkaGateway(brokers []string, topic string) *KafkaGateway {
	return &KafkaGateway{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (g *KafkaGateway) Notify(ctx context.Context, e domain.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ContextEntityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
}

func (g *KafkaGateway) Close() error {
	return g.writer.Close()
}

// LogGateway writes events to the structured log. It is used when no
// broker is configured.
type LogGateway struct {
	Logger *slog.Logger
}

func (g LogGateway) Notify(ctx context.Context, e domain.Event) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"event_id", e.ID,
		"type", e.Type,
		"context", e.Context,
		"entity", e.ContextEntityID,
		"creator", e.CreatorProfileID,
		"receivers", e.ReceiverProfileIDs,
		"title", e.Title,
	)
	return nil
}
