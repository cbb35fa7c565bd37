package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/aidmatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MatchRequest is the body of a booking.match.requested message.
type MatchRequest struct {
	Event     string `json:"event"`
	Version   int    `json:"version"`
	Key       string `json:"key"`
	BookingID string `json:"booking_id"`
}

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key, messageID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         b,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked %s", key)
	}
	return nil
}

// Dispatch publishes an outbox row, routed by its topic. The broker has
// confirmed the message by the time it returns nil.
func (p *Publisher) Dispatch(ctx context.Context, m domain.OutboxMessage) error {
	return p.PublishJSON(ctx, m.Topic, m.Key, MatchRequest{
		Event:     m.Topic,
		Version:   1,
		Key:       m.Key,
		BookingID: m.BookingID,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
