package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/mq"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Matcher interface {
	Match(ctx context.Context, bookingID string, force bool) (*domain.Booking, error)
}

// MatchConsumer runs the match coordinator for every match request
// delivered by the broker.
type MatchConsumer struct {
	matcher Matcher
	cons    *mq.Consumer
}

func NewMatchConsumer(matcher Matcher, cons *mq.Consumer) *MatchConsumer {
	return &MatchConsumer{matcher: matcher, cons: cons}
}

func (mc *MatchConsumer) Run(ctx context.Context) error {
	msgs, err := mc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			mc.handle(ctx, d)
		}
		slog.Info("match consumer stopped")
	}()
	return nil
}

// handle acks a delivery once the booking is matched. A booking that is
// already matched counts as handled, so redelivery is harmless.
func (mc *MatchConsumer) handle(ctx context.Context, d amqp.Delivery) {
	if d.RoutingKey != domain.TopicMatchRequested {
		_ = d.Ack(false)
		return
	}

	var req mq.MatchRequest
	if err := json.Unmarshal(d.Body, &req); err != nil || req.BookingID == "" {
		slog.ErrorContext(ctx, "bad match request", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	log := slog.With("booking_id", req.BookingID, "key", req.Key)
	_, err := mc.matcher.Match(ctx, req.BookingID, false)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, domain.ErrConflict):
		log.InfoContext(ctx, "match request already handled", "reason", err)
		_ = d.Ack(false)
	case errors.Is(err, domain.ErrFatalConfiguration), errors.Is(err, domain.ErrNotFound):
		log.ErrorContext(ctx, "match request dropped", "error", err)
		_ = d.Nack(false, false)
	default:
		log.WarnContext(ctx, "match failed, requeueing", "error", err)
		_ = d.Nack(false, true)
	}
}
