package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

var start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func seeded() *MemoryStore {
	s := NewMemoryStore()
	s.PutProfile(domain.Profile{ID: "payer", UserID: "u-payer"})
	s.PutProfile(domain.Profile{ID: "prov-profile", UserID: "u-prov"})
	s.PutProvider(domain.Provider{ID: "prov", ProfileID: "prov-profile"})
	s.PutWallet(domain.Wallet{ProfileID: "payer", PendingBalance: 500})
	w := domain.NewWindow(start)
	s.PutBooking(domain.Booking{
		ID: "b1", PayerProfileID: "payer", StartAt: w.Start, EndAt: w.End,
		BookingStatus: domain.BookingPending, PaymentStatus: domain.PaymentNotPaid,
	})
	return s
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx Tx) error {
		w, err := tx.LockWallet(ctx, "payer")
		if err != nil {
			return err
		}
		w.PendingBalance = 0
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if _, err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{Key: "k", Topic: "t", BookingID: "b1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx error = %v, want boom", err)
	}

	err = s.RunInTx(ctx, func(tx Tx) error {
		w, err := tx.GetWallet(ctx, "payer")
		if err != nil {
			return err
		}
		if w.PendingBalance != 500 {
			t.Errorf("pending = %d after rollback, want 500", w.PendingBalance)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if pending, _ := s.PendingOutbox(ctx, 10); len(pending) != 0 {
		t.Errorf("outbox has %d rows after rollback", len(pending))
	}
}

func TestEnqueueOutboxDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	var inserted []bool
	for i := 0; i < 2; i++ {
		err := s.RunInTx(ctx, func(tx Tx) error {
			ok, err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{Key: "tx-1", Topic: domain.TopicMatchRequested, BookingID: "b1"})
			inserted = append(inserted, ok)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !inserted[0] || inserted[1] {
		t.Errorf("inserted = %v, want [true false]", inserted)
	}

	pending, err := s.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if err := s.MarkOutboxDispatched(ctx, pending[0].ID); err != nil {
		t.Fatal(err)
	}
	if pending, _ := s.PendingOutbox(ctx, 10); len(pending) != 0 {
		t.Errorf("pending = %d after dispatch, want 0", len(pending))
	}
}

func TestParkOutboxLeavesPendingSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.RunInTx(ctx, func(tx Tx) error {
		_, err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{Key: "tx-1", Topic: domain.TopicMatchRequested, BookingID: "b1"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := s.PendingOutbox(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if err := s.ParkOutbox(ctx, pending[0].ID); err != nil {
		t.Fatal(err)
	}
	if pending, _ := s.PendingOutbox(ctx, 10); len(pending) != 0 {
		t.Errorf("pending = %d after park, want 0", len(pending))
	}
	if err := s.ParkOutbox(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("park missing row: %v, want ErrNotFound", err)
	}
}

func TestSaveBookingKeepsWindowAndIndex(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	err := s.RunInTx(ctx, func(tx Tx) error {
		b, err := tx.LockBooking(ctx, "b1")
		if err != nil {
			return err
		}
		b.AssignedProviderID = "prov"
		b.IsMatched = true
		b.StartAt = b.StartAt.Add(24 * time.Hour)
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.RunInTx(ctx, func(tx Tx) error {
		b, err := tx.GetBooking(ctx, "b1")
		if err != nil {
			return err
		}
		if !b.StartAt.Equal(start) {
			t.Errorf("start = %s, want %s", b.StartAt, start)
		}
		busy, err := tx.BusyProviders(ctx, start, start.Add(time.Hour), "")
		if err != nil {
			return err
		}
		if !busy["prov"] {
			t.Error("matched booking must mark its provider busy")
		}

		b.BookingStatus = domain.BookingCancelled
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		busy, _ = tx.BusyProviders(ctx, start, start.Add(time.Hour), "")
		if busy["prov"] {
			t.Error("cancelled booking must not block its provider")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSaveBookingRejectsMatchWithoutProvider(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	err := s.RunInTx(ctx, func(tx Tx) error {
		b, _ := tx.LockBooking(ctx, "b1")
		b.IsMatched = true
		return tx.SaveBooking(ctx, b)
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	err := s.RunInTx(ctx, func(tx Tx) error {
		_, err := tx.LockTransaction(ctx, "missing")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
