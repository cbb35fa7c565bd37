package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/store"
)

func TestPaymentToCompletion(t *testing.T) {
	f := newFixture(t)

	f.pay()
	b := f.booking("b1")
	if b.BookingStatus != domain.BookingInProgress || b.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("booking = %s/%s, want In Progress/Paid", b.BookingStatus, b.PaymentStatus)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Fatalf("payer pending = %s, want %s", got, amount)
	}
	if !b.IsMatched || b.AssignedProviderID != fallbackID {
		t.Fatalf("booking matched=%t provider=%q, want fallback", b.IsMatched, b.AssignedProviderID)
	}

	if _, err := f.settle.ConfirmService(f.ctx, "b1", platformUser, domain.RoleProvider); err != nil {
		t.Fatal(err)
	}
	if b := f.booking("b1"); !b.ConfirmedByProvider || b.BookingStatus != domain.BookingInProgress {
		t.Fatalf("after provider confirm: %+v", b)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Errorf("provider confirmation moved money: pending = %s", got)
	}

	if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
		t.Fatal(err)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != 0 {
		t.Errorf("payer pending = %s, want 0", got)
	}
	if got := f.wallet(platformProfile).EarnedBalance; got != amount {
		t.Errorf("provider earned = %s, want %s", got, amount)
	}
	if got := f.provider(fallbackID).ServicesCompleted; got != 1 {
		t.Errorf("services completed = %d, want 1", got)
	}
	if got := f.booking("b1").BookingStatus; got != domain.BookingCompleted {
		t.Errorf("status = %s, want Completed", got)
	}

	if n := len(f.gateway.ofType(domain.EventPaymentMade)); n != 1 {
		t.Errorf("payment notifications = %d, want 1", n)
	}
	if n := len(f.gateway.ofType(domain.EventBookingUpdate)); n != 2 {
		t.Errorf("booking update notifications = %d, want 2", n)
	}
}

func TestDuplicateWebhookIsConflict(t *testing.T) {
	f := newFixture(t)
	f.pay()

	_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", domain.PaymentPaid)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second webhook error = %v, want ErrConflict", err)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Errorf("pending = %s after duplicate, want %s", got, amount)
	}
	if pending, _ := f.store.PendingOutbox(f.ctx, 10); len(pending) != 0 {
		t.Errorf("duplicate webhook enqueued %d match requests", len(pending))
	}
}

func TestConcurrentDuplicateWebhooks(t *testing.T) {
	f := newFixture(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", domain.PaymentPaid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok = %d, conflicts = %d, want 1 and %d", ok, conflicts, n-1)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Errorf("pending = %s, want %s", got, amount)
	}
}

func TestPaymentFailureCancelsBooking(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.PaymentFailed, domain.PaymentCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			tr, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", status)
			if err != nil {
				t.Fatal(err)
			}
			if tr.Status != status {
				t.Errorf("transaction status = %s, want %s", tr.Status, status)
			}
			b := f.booking("b1")
			if b.BookingStatus != domain.BookingCancelled || b.PaymentStatus != domain.PaymentCancelled {
				t.Errorf("booking = %s/%s, want Cancelled/Cancelled", b.BookingStatus, b.PaymentStatus)
			}
			if f.total() != 0 {
				t.Errorf("failed payment moved money: total = %s", f.total())
			}
		})
	}
}

func TestPaymentFailureAfterPayerSettledIsConflict(t *testing.T) {
	f := newFixture(t)
	f.pay()
	if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
		t.Fatal(err)
	}

	_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", domain.PaymentFailed)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if got := f.booking("b1").BookingStatus; got != domain.BookingInProgress {
		t.Errorf("status = %s, want In Progress", got)
	}
}

func TestRefundIsUnsupported(t *testing.T) {
	f := newFixture(t)
	f.pay()
	_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", domain.PaymentRefund)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestAmountMismatchRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransaction(domain.PaymentTransaction{
		ID: "tx-short", Reference: "ref-short", ProfileID: payerProfile, Amount: amount - 1,
		Purpose: domain.PurposeServicePayment, Status: domain.PaymentPending, BookingID: "b1",
	})

	_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-short", domain.PaymentPaid)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if b := f.booking("b1"); b.BookingStatus != domain.BookingPending {
		t.Errorf("status = %s, want Pending", b.BookingStatus)
	}
}

func TestSecondPaidTransactionForBookingIsConflict(t *testing.T) {
	f := newFixture(t)
	f.pay()
	f.store.PutTransaction(domain.PaymentTransaction{
		ID: "tx-2", Reference: "ref-2", ProfileID: payerProfile, Amount: amount,
		Purpose: domain.PurposeServicePayment, Status: domain.PaymentPending, BookingID: "b1",
	})

	_, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-2", domain.PaymentPaid)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Errorf("pending = %s, want %s", got, amount)
	}
}

func TestFailedSecondTransactionLeavesPaidBookingAlone(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.PaymentFailed, domain.PaymentCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.pay()
			f.store.PutTransaction(domain.PaymentTransaction{
				ID: "tx-2", Reference: "ref-2", ProfileID: payerProfile, Amount: amount,
				Purpose: domain.PurposeServicePayment, Status: domain.PaymentPending, BookingID: "b1",
			})

			tr, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-2", status)
			if err != nil {
				t.Fatal(err)
			}
			if tr.Status != status {
				t.Errorf("tx-2 status = %s, want %s", tr.Status, status)
			}

			b := f.booking("b1")
			if b.BookingStatus != domain.BookingInProgress || b.PaymentStatus != domain.PaymentPaid {
				t.Fatalf("booking = %s/%s, want still in progress and paid", b.BookingStatus, b.PaymentStatus)
			}
			if len(f.gateway.ofType(domain.EventBookingUpdate)) != 0 {
				t.Error("payer was told the booking was cancelled")
			}

			// the held payment can still be released
			provider := f.provider(b.AssignedProviderID)
			if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
				t.Fatalf("payer confirm: %v", err)
			}
			if got := f.wallet(payerProfile).PendingBalance; got != 0 {
				t.Errorf("payer pending = %s, want 0", got)
			}
			if got := f.wallet(provider.ProfileID).EarnedBalance; got != amount {
				t.Errorf("provider earned = %s, want %s", got, amount)
			}
		})
	}
}

func TestUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.settle.OnPaymentConfirmed(f.ctx, "nope", domain.PaymentPaid)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDepositAndWithdrawal(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransaction(domain.PaymentTransaction{
		ID: "dep-1", Reference: "ref-dep", ProfileID: payerProfile, Amount: 5000,
		Purpose: domain.PurposeFundDeposit, Status: domain.PaymentPending,
	})
	f.store.PutTransaction(domain.PaymentTransaction{
		ID: "wd-1", Reference: "ref-wd", ProfileID: payerProfile, Amount: 2000,
		Purpose: domain.PurposeFundWithdrawal, Status: domain.PaymentPending,
	})

	if _, err := f.settle.OnPaymentConfirmed(f.ctx, "dep-1", domain.PaymentPaid); err != nil {
		t.Fatal(err)
	}
	if got := f.wallet(payerProfile).FundedBalance; got != 5000 {
		t.Errorf("funded = %s, want 50.00", got)
	}

	_, err := f.settle.OnPaymentConfirmed(f.ctx, "dep-1", domain.PaymentCancelled)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("reversing a credited deposit: error = %v, want ErrConflict", err)
	}

	tr, err := f.settle.OnPaymentConfirmed(f.ctx, "wd-1", domain.PaymentPaid)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != domain.PaymentPaid || f.wallet(payerProfile).FundedBalance != 5000 {
		t.Errorf("withdrawal changed balances or status: %+v", tr)
	}
}

func TestConfirmServiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.pay()

	for i := 0; i < 3; i++ {
		if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
			t.Fatalf("confirm #%d: %v", i+1, err)
		}
	}
	if got := f.wallet(platformProfile).EarnedBalance; got != amount {
		t.Errorf("earned = %s after repeated confirms, want %s", got, amount)
	}
	if got := f.provider(fallbackID).ServicesCompleted; got != 1 {
		t.Errorf("services completed = %d, want 1", got)
	}
}

func TestConcurrentPayerConfirmations(t *testing.T) {
	f := newFixture(t)
	f.pay()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
				t.Errorf("confirm: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.wallet(platformProfile).EarnedBalance; got != amount {
		t.Errorf("earned = %s, want %s", got, amount)
	}
}

func TestConfirmServiceForbidden(t *testing.T) {
	f := newFixture(t)
	f.addProfile("stranger", "u-stranger", "")
	f.pay()

	tests := []struct {
		name string
		user string
		role domain.Role
	}{
		{"stranger as provider", "u-stranger", domain.RoleProvider},
		{"stranger as payer", "u-stranger", domain.RolePayer},
		{"payer as provider", payerUser, domain.RoleProvider},
		{"provider as payer", platformUser, domain.RolePayer},
		{"unknown user", "u-ghost", domain.RolePayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.settle.ConfirmService(f.ctx, "b1", tt.user, tt.role)
			if !errors.Is(err, domain.ErrForbidden) {
				t.Errorf("error = %v, want ErrForbidden", err)
			}
		})
	}
	if got := f.wallet(payerProfile).PendingBalance; got != amount {
		t.Errorf("pending = %s, want untouched %s", got, amount)
	}
}

func TestConfirmBeforePaymentIsConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestMoneyIsConserved(t *testing.T) {
	f := newFixture(t)
	before := f.total()

	f.pay()
	if got := f.total(); got != before+amount {
		t.Fatalf("total after payment = %s, want %s", got, before+amount)
	}

	afterPayment := f.total()
	if _, err := f.settle.ConfirmService(f.ctx, "b1", payerUser, domain.RolePayer); err != nil {
		t.Fatal(err)
	}
	if got := f.total(); got != afterPayment {
		t.Errorf("total after settlement = %s, want %s", got, afterPayment)
	}

	var entries []domain.LedgerEntry
	err := f.store.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListLedgerEntries(f.ctx, payerProfile, 0)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	var sum domain.Money
	for _, e := range entries {
		sum += e.Delta
	}
	if w := f.wallet(payerProfile); sum != w.Total() {
		t.Errorf("payer ledger sums to %s, wallet holds %s", sum, w.Total())
	}
}
