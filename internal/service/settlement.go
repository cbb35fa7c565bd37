package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/ledger"
	"github.com/punchamoorthee/aidmatch/internal/notify"
	"github.com/punchamoorthee/aidmatch/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var transitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_transitions_total",
		Help: "Settlement operations by kind and outcome",
	},
	[]string{"operation", "outcome"},
)

// Kicker is told when new outbox rows have been committed.
type Kicker interface {
	Kick(ctx context.Context)
}

// Settlement drives bookings through payment and completion and is the
// only caller of the ledger.
type Settlement struct {
	store    store.Store
	notifier notify.Gateway
	outbox   Kicker
}

func NewSettlement(st store.Store, notifier notify.Gateway, outbox Kicker) *Settlement {
	return &Settlement{store: st, notifier: notifier, outbox: outbox}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	}
	return "error"
}

// OnPaymentConfirmed applies a status reported by the payment gateway.
// Reporting the status a transaction already has is a Conflict and changes
// nothing, so duplicate webhooks cannot credit twice.
func (s *Settlement) OnPaymentConfirmed(ctx context.Context, transactionID string, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	ctx, span := tracer.Start(ctx, "Settlement.OnPaymentConfirmed")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID), attribute.String("payment.status", string(status)))

	var (
		result   *domain.PaymentTransaction
		booking  *domain.Booking
		enqueued bool
	)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		booking, enqueued = nil, false

		tr, err := tx.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tr.Status == status {
			return fmt.Errorf("transaction %s already %s: %w", tr.ID, status, domain.ErrConflict)
		}
		if status == domain.PaymentRefund {
			return fmt.Errorf("transaction %s: refunds are not supported: %w", tr.ID, domain.ErrConflict)
		}

		switch tr.Purpose {
		case domain.PurposeServicePayment:
			booking, enqueued, err = s.applyServicePayment(ctx, tx, tr, status)
		case domain.PurposeFundDeposit:
			err = s.applyDeposit(ctx, tx, tr, status)
		case domain.PurposeFundWithdrawal:
			// settled by the payout provider; only the status is kept
		default:
			err = fmt.Errorf("transaction %s purpose %q: %w", tr.ID, tr.Purpose, domain.ErrInvalidArgument)
		}
		if err != nil {
			return err
		}

		tr.Status = status
		if err := tx.SaveTransaction(ctx, tr); err != nil {
			return err
		}
		result = tr
		return nil
	})
	transitions.WithLabelValues("payment", outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	slog.InfoContext(ctx, "payment status applied",
		"transaction_id", result.ID, "purpose", result.Purpose, "status", result.Status, "match_enqueued", enqueued)

	if enqueued && s.outbox != nil {
		s.outbox.Kick(ctx)
	}
	if status == domain.PaymentPaid {
		notify.Send(ctx, s.notifier, domain.Event{
			Type:               domain.EventPaymentMade,
			Context:            domain.ContextPayment,
			ContextEntityID:    result.ID,
			CreatorProfileID:   result.ProfileID,
			ReceiverProfileIDs: []string{result.ProfileID},
			Title:              string(domain.EventPaymentMade),
			Description:        fmt.Sprintf("Payment of %s received", result.Amount),
			Data:               map[string]string{"purpose": string(result.Purpose), "reference": result.Reference},
		})
	}
	if booking != nil && booking.BookingStatus == domain.BookingCancelled {
		s.bookingUpdate(ctx, booking, booking.PayerProfileID, "The booking was cancelled because its payment did not go through")
	}
	return result, nil
}

func (s *Settlement) applyServicePayment(ctx context.Context, tx store.Tx, tr *domain.PaymentTransaction, status domain.PaymentStatus) (*domain.Booking, bool, error) {
	if tr.BookingID == "" {
		return nil, false, fmt.Errorf("service payment %s has no booking: %w", tr.ID, domain.ErrInvalidArgument)
	}
	b, err := tx.LockBooking(ctx, tr.BookingID)
	if err != nil {
		return nil, false, err
	}

	enqueued := false
	switch status {
	case domain.PaymentPaid:
		if tr.Amount != b.TotalAmount {
			return nil, false, fmt.Errorf("transaction %s amount %s does not match booking total %s: %w",
				tr.ID, tr.Amount, b.TotalAmount, domain.ErrInvalidArgument)
		}
		// a booking only moves to in progress once, so a second paid
		// transaction for it is rejected here
		if err := b.TransitionTo(domain.BookingInProgress); err != nil {
			return nil, false, err
		}
		if err := ledger.Credit(ctx, tx, b.PayerProfileID, domain.BucketPending, tr.Amount, "payment:"+tr.ID); err != nil {
			return nil, false, err
		}
		b.PaymentStatus = domain.PaymentPaid
		if enqueued, err = tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			Key:       tr.ID,
			Topic:     domain.TopicMatchRequested,
			BookingID: b.ID,
		}); err != nil {
			return nil, false, err
		}

	case domain.PaymentFailed, domain.PaymentCancelled:
		if b.PaymentStatus == domain.PaymentPaid && tr.Status != domain.PaymentPaid {
			// another transaction paid for the booking; only this one is recorded
			return nil, false, nil
		}
		if b.ConfirmedByUser {
			return nil, false, fmt.Errorf("booking %s already settled by the payer: %w", b.ID, domain.ErrConflict)
		}
		if err := b.TransitionTo(domain.BookingCancelled); err != nil {
			return nil, false, err
		}
		b.PaymentStatus = domain.PaymentCancelled

	default:
		if b.BookingStatus != domain.BookingPending {
			return nil, false, fmt.Errorf("booking %s is %s, cannot mark payment %s: %w",
				b.ID, b.BookingStatus, status, domain.ErrConflict)
		}
		b.PaymentStatus = status
	}

	if err := tx.SaveBooking(ctx, b); err != nil {
		return nil, false, err
	}
	return b, enqueued, nil
}

func (s *Settlement) applyDeposit(ctx context.Context, tx store.Tx, tr *domain.PaymentTransaction, status domain.PaymentStatus) error {
	if tr.Status == domain.PaymentPaid {
		return fmt.Errorf("deposit %s already credited: %w", tr.ID, domain.ErrConflict)
	}
	if status != domain.PaymentPaid {
		return nil
	}
	return ledger.Credit(ctx, tx, tr.ProfileID, domain.BucketFunded, tr.Amount, "deposit:"+tr.ID)
}

// ConfirmService records that one party considers the booking delivered.
// The payer's confirmation releases the held payment to the provider. A
// repeated confirmation by the same party succeeds without side effects.
func (s *Settlement) ConfirmService(ctx context.Context, bookingID, userID string, role domain.Role) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "Settlement.ConfirmService")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("confirm.role", string(role)))

	var (
		booking        *domain.Booking
		providerProfID string
		changed        bool
	)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		changed = false

		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		caller, err := tx.GetProfileByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("user %s has no profile: %w", userID, domain.ErrForbidden)
			}
			return err
		}

		var provider *domain.Provider
		if b.AssignedProviderID != "" {
			if provider, err = tx.LockProvider(ctx, b.AssignedProviderID); err != nil {
				return err
			}
			providerProfID = provider.ProfileID
		}

		switch role {
		case domain.RoleProvider:
			if provider == nil || provider.ProfileID != caller.ID {
				return fmt.Errorf("user %s is not the provider of booking %s: %w", userID, b.ID, domain.ErrForbidden)
			}
			if b.ConfirmedByProvider {
				booking = b
				return nil
			}
		case domain.RolePayer:
			if b.PayerProfileID != caller.ID {
				return fmt.Errorf("user %s is not the payer of booking %s: %w", userID, b.ID, domain.ErrForbidden)
			}
			if b.ConfirmedByUser {
				booking = b
				return nil
			}
		default:
			return fmt.Errorf("role %q: %w", role, domain.ErrInvalidArgument)
		}

		if b.BookingStatus != domain.BookingInProgress || !b.IsMatched {
			return fmt.Errorf("booking %s is %s (matched=%t): %w", b.ID, b.BookingStatus, b.IsMatched, domain.ErrConflict)
		}

		if role == domain.RoleProvider {
			b.ConfirmedByProvider = true
		} else {
			err := ledger.Transfer(ctx, tx,
				b.PayerProfileID, domain.BucketPending,
				provider.ProfileID, domain.BucketEarned,
				b.TotalAmount, "booking:"+b.ID)
			if err != nil {
				return err
			}
			provider.ServicesCompleted++
			if err := tx.SaveProvider(ctx, provider); err != nil {
				return err
			}
			b.ConfirmedByUser = true
		}

		if b.ConfirmedByProvider && b.ConfirmedByUser {
			if err := b.TransitionTo(domain.BookingCompleted); err != nil {
				return err
			}
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		booking, changed = b, true
		return nil
	})
	transitions.WithLabelValues("confirm_"+string(role), outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !changed {
		return booking, nil
	}

	slog.InfoContext(ctx, "service confirmed",
		"booking_id", booking.ID, "role", role, "status", booking.BookingStatus)

	if role == domain.RoleProvider {
		s.bookingUpdate(ctx, booking, booking.PayerProfileID, "The provider confirmed the service was delivered")
	} else {
		s.bookingUpdate(ctx, booking, providerProfID, "The client confirmed the service was delivered")
	}
	return booking, nil
}

func (s *Settlement) bookingUpdate(ctx context.Context, b *domain.Booking, receiver, description string) {
	notify.Send(ctx, s.notifier, domain.Event{
		Type:               domain.EventBookingUpdate,
		Context:            domain.ContextServiceBooking,
		ContextEntityID:    b.ID,
		CreatorProfileID:   b.PayerProfileID,
		ReceiverProfileIDs: []string{receiver},
		Title:              string(domain.EventBookingUpdate),
		Description:        description,
		Data:               map[string]string{"booking_status": string(b.BookingStatus)},
	})
}
