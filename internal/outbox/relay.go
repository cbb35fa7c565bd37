// Package outbox delivers side effects that were committed as outbox rows.
// A row is marked dispatched only after its dispatcher succeeds, so every
// message is delivered at least once and consumers must be idempotent.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/aidmatch/internal/domain"
)

var dispatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbox_dispatch_total",
		Help: "Outbox dispatch attempts by topic and result",
	},
	[]string{"topic", "result"},
)

// Store is the outbox part of the persistence layer.
type Store interface {
	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxDispatched(ctx context.Context, id string) error
	RecordOutboxFailure(ctx context.Context, id string) error
	ParkOutbox(ctx context.Context, id string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, m domain.OutboxMessage) error
}

const DefaultBatch = 50

type Relay struct {
	mu         sync.Mutex
	store      Store
	dispatcher Dispatcher
	batch      int
}

func NewRelay(store Store, dispatcher Dispatcher, batch int) *Relay {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Relay{store: store, dispatcher: dispatcher, batch: batch}
}

// Flush dispatches one batch of pending rows and returns how many were
// delivered. Rows that fail transiently stay pending for the next pass;
// rows that can never succeed are parked. Concurrent calls are serialized.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.store.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range pending {
		if err := r.dispatcher.Dispatch(ctx, m); err != nil {
			if permanent(err) {
				r.park(ctx, m, err)
				continue
			}
			dispatched.WithLabelValues(m.Topic, "error").Inc()
			slog.WarnContext(ctx, "outbox dispatch failed",
				"id", m.ID, "key", m.Key, "topic", m.Topic, "attempts", m.Attempts+1, "error", err)
			if err := r.store.RecordOutboxFailure(ctx, m.ID); err != nil {
				slog.ErrorContext(ctx, "outbox failure not recorded", "id", m.ID, "error", err)
			}
			continue
		}
		if err := r.store.MarkOutboxDispatched(ctx, m.ID); err != nil {
			// delivered but not marked; the consumer sees it again
			slog.ErrorContext(ctx, "outbox row not marked", "id", m.ID, "error", err)
			continue
		}
		dispatched.WithLabelValues(m.Topic, "ok").Inc()
		delivered++
	}
	return delivered, nil
}

// permanent reports whether redelivering would fail the same way until an
// operator steps in.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrFatalConfiguration) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument)
}

func (r *Relay) park(ctx context.Context, m domain.OutboxMessage, cause error) {
	dispatched.WithLabelValues(m.Topic, "parked").Inc()
	slog.ErrorContext(ctx, "outbox row parked, operator action required",
		"id", m.ID, "key", m.Key, "topic", m.Topic, "booking_id", m.BookingID, "error", cause)
	if err := r.store.ParkOutbox(ctx, m.ID); err != nil {
		slog.ErrorContext(ctx, "outbox row not parked", "id", m.ID, "error", err)
	}
}

// Kick flushes in the background. It is the post-commit hook called by
// writers that just enqueued a row.
func (r *Relay) Kick(ctx context.Context) {
	go func() {
		if _, err := r.Flush(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "outbox flush failed", "error", err)
		}
	}()
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	slog.InfoContext(ctx, "outbox relay started", "interval", interval, "batch", r.batch)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				slog.ErrorContext(ctx, "outbox flush failed", "error", err)
			}
		}
	}
}
