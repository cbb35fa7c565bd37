package domain

import "fmt"

type BookingStatus string

const (
	BookingPending    BookingStatus = "Pending"
	BookingInProgress BookingStatus = "In Progress"
	BookingCompleted  BookingStatus = "Completed"
	BookingCancelled  BookingStatus = "Cancelled"
)

// bookingTransitions lists every allowed booking status change.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:    {BookingInProgress, BookingCancelled},
	BookingInProgress: {BookingCompleted, BookingCancelled},
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// TransitionTo moves the booking to status next or fails with ErrConflict.
func (b *Booking) TransitionTo(next BookingStatus) error {
	for _, allowed := range bookingTransitions[b.BookingStatus] {
		if allowed == next {
			b.BookingStatus = next
			return nil
		}
	}
	return fmt.Errorf("booking %s: %q -> %q: %w", b.ID, b.BookingStatus, next, ErrConflict)
}

type PaymentStatus string

const (
	PaymentNotPaid   PaymentStatus = "Not Paid"
	PaymentPending   PaymentStatus = "Pending"
	PaymentPaid      PaymentStatus = "Paid"
	PaymentRefund    PaymentStatus = "Refund"
	PaymentCancelled PaymentStatus = "Cancelled"
	// PaymentFailed is only reported for transactions; a booking whose
	// payment failed records PaymentCancelled.
	PaymentFailed PaymentStatus = "Failed"
)

// ParsePaymentStatus validates a status reported by the gateway.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch ps := PaymentStatus(s); ps {
	case PaymentNotPaid, PaymentPending, PaymentPaid, PaymentRefund, PaymentCancelled, PaymentFailed:
		return ps, nil
	}
	return "", fmt.Errorf("payment status %q: %w", s, ErrInvalidArgument)
}

type PaymentPurpose string

const (
	PurposeServicePayment PaymentPurpose = "Service Payment"
	PurposeFundDeposit    PaymentPurpose = "Fund Deposit"
	PurposeFundWithdrawal PaymentPurpose = "Fund Withdrawal"
)

// Role identifies which party is confirming a delivered service.
type Role string

const (
	RoleProvider Role = "provider"
	RolePayer    Role = "payer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleProvider, RolePayer:
		return r, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrInvalidArgument)
}
