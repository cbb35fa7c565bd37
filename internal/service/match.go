package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/aidmatch/internal/availability"
	"github.com/punchamoorthee/aidmatch/internal/directory"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/notify"
	"github.com/punchamoorthee/aidmatch/internal/scoring"
	"github.com/punchamoorthee/aidmatch/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/punchamoorthee/aidmatch/internal/service")

var assignments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "match_assignments_total",
		Help: "Provider assignments by strategy",
	},
	[]string{"strategy"},
)

const (
	strategyScored   = "scored"
	strategyFallback = "fallback"
)

// Coordinator assigns providers to paid bookings.
type Coordinator struct {
	store    store.Store
	notifier notify.Gateway
	dir      *directory.Directory
}

// NewCoordinator returns a coordinator that falls back to the directory's
// platform provider whenever no provider is free.
func NewCoordinator(st store.Store, notifier notify.Gateway, dir *directory.Directory) *Coordinator {
	return &Coordinator{store: st, notifier: notifier, dir: dir}
}

// Match assigns the best free provider to the booking, or the fallback
// provider when none is free. The booking row stays locked for the whole
// operation so concurrent triggers for one booking assign once.
func (c *Coordinator) Match(ctx context.Context, bookingID string, force bool) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Match")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.Bool("match.force", force))

	var (
		booking  *domain.Booking
		chosen   domain.Candidate
		strategy string
		score    int
	)
	err := c.store.RunInTx(ctx, func(tx store.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := matchable(b, force); err != nil {
			return err
		}

		eligible, err := availability.FindEligible(ctx, tx, b.Window(), b.ServiceID, b.ID)
		if err != nil {
			return err
		}

		if best, s, ok := scoring.Best(eligible, b); ok {
			chosen, score, strategy = best, s, strategyScored
		} else {
			fb, err := c.dir.Fallback(ctx, tx)
			if err != nil {
				return err
			}
			chosen, score, strategy = *fb, 0, strategyFallback
		}

		b.AssignedProviderID = chosen.Provider.ID
		b.IsMatched = true
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	assignments.WithLabelValues(strategy).Inc()
	span.SetAttributes(
		attribute.String("provider.id", chosen.Provider.ID),
		attribute.String("match.strategy", strategy),
		attribute.Int("match.score", score),
	)
	slog.InfoContext(ctx, "booking matched",
		"booking_id", booking.ID, "provider_id", chosen.Provider.ID, "strategy", strategy, "score", score)

	notify.Send(ctx, c.notifier, domain.Event{
		Type:               domain.EventBookingProviderMatch,
		Context:            domain.ContextServiceBooking,
		ContextEntityID:    booking.ID,
		CreatorProfileID:   booking.PayerProfileID,
		ReceiverProfileIDs: []string{booking.PayerProfileID, chosen.Profile.ID},
		Title:              string(domain.EventBookingProviderMatch),
		Description:        "The booking has been matched with a provider",
		Data:               map[string]string{"provider_id": chosen.Provider.ID, "strategy": strategy},
	})
	return booking, nil
}

func matchable(b *domain.Booking, force bool) error {
	switch {
	case b.BookingStatus.Terminal():
		return fmt.Errorf("booking %s is %s: %w", b.ID, b.BookingStatus, domain.ErrConflict)
	case b.IsMatched && !force:
		return fmt.Errorf("booking %s already matched to %s: %w", b.ID, b.AssignedProviderID, domain.ErrConflict)
	case force && (b.ConfirmedByProvider || b.ConfirmedByUser):
		return fmt.Errorf("booking %s already confirmed, cannot rematch: %w", b.ID, domain.ErrConflict)
	}
	return nil
}
