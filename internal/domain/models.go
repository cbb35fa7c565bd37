package domain

import (
	"time"
)

// BookingDuration is the fixed length of every booking window.
const BookingDuration = time.Hour

// Location is the free-text address used for provider scoring.
type Location struct {
	Country  string `json:"country"`
	State    string `json:"state"`
	Locality string `json:"locality"`
	City     string `json:"city"`
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow returns the one hour window starting at start.
func NewWindow(start time.Time) Window {
	start = start.UTC()
	return Window{Start: start, End: start.Add(BookingDuration)}
}

// Expand widens the window by buffer on both sides.
func (w Window) Expand(buffer time.Duration) Window {
	return Window{Start: w.Start.Add(-buffer), End: w.End.Add(buffer)}
}

// Overlaps reports whether the two windows share any instant. Touching
// endpoints do not overlap.
func (w Window) Overlaps(o Window) bool {
	return o.Start.Before(w.End) && o.End.After(w.Start)
}

// Profile is a platform user profile. Both payers and providers have one.
type Profile struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	DisabilityType string `json:"disability_type,omitempty"`
	Deleted        bool   `json:"-"`
}

// Provider is an aid-service profile able to fulfil bookings.
type Provider struct {
	ID                string   `json:"id"`
	ProfileID         string   `json:"profile_id"`
	Location          Location `json:"location"`
	ServicesCompleted int      `json:"services_completed"`
	AverageRating     float64  `json:"average_rating"`
	RatingCount       int      `json:"rating_count"`
	Deleted           bool     `json:"-"`
}

// Candidate is a provider joined with its owning profile, the unit the
// availability index hands to scoring.
type Candidate struct {
	Provider Provider
	Profile  Profile
}

// Booking is a scheduled unit of aid-service work.
// Related entities are referenced by id only.
type Booking struct {
	ID                  string        `json:"id"`
	PayerProfileID      string        `json:"payer_profile_id"`
	AssignedProviderID  string        `json:"assigned_provider_id,omitempty"`
	ServiceID           string        `json:"service_id"`
	StartAt             time.Time     `json:"start_at"`
	EndAt               time.Time     `json:"end_at"`
	TotalAmount         Money         `json:"total_amount"`
	BookingStatus       BookingStatus `json:"booking_status"`
	PaymentStatus       PaymentStatus `json:"payment_status"`
	IsMatched           bool          `json:"is_matched"`
	ConfirmedByProvider bool          `json:"confirmed_by_provider"`
	ConfirmedByUser     bool          `json:"confirmed_by_user"`
	Location            Location      `json:"location"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Window returns the booking's time window.
func (b *Booking) Window() Window {
	return Window{Start: b.StartAt, End: b.EndAt}
}

// Bucket names one of a wallet's three balances.
type Bucket string

const (
	BucketFunded  Bucket = "funded"
	BucketPending Bucket = "pending"
	BucketEarned  Bucket = "earned"
)

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	switch b {
	case BucketFunded, BucketPending, BucketEarned:
		return true
	}
	return false
}

// Wallet holds a profile's balances in minor units.
type Wallet struct {
	ProfileID      string    `json:"profile_id"`
	FundedBalance  Money     `json:"funded_balance"`
	PendingBalance Money     `json:"pending_balance"`
	EarnedBalance  Money     `json:"earned_balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Balance returns the balance held in bucket.
func (w Wallet) Balance(b Bucket) Money {
	switch b {
	case BucketFunded:
		return w.FundedBalance
	case BucketPending:
		return w.PendingBalance
	case BucketEarned:
		return w.EarnedBalance
	}
	return 0
}

// SetBalance overwrites the balance held in bucket.
func (w *Wallet) SetBalance(b Bucket, m Money) {
	switch b {
	case BucketFunded:
		w.FundedBalance = m
	case BucketPending:
		w.PendingBalance = m
	case BucketEarned:
		w.EarnedBalance = m
	}
}

// Total is the sum over all three buckets.
func (w Wallet) Total() Money {
	return w.FundedBalance + w.PendingBalance + w.EarnedBalance
}

// PaymentTransaction is a payment attempt reported by the gateway.
type PaymentTransaction struct {
	ID        string         `json:"id"`
	Reference string         `json:"reference"`
	ProfileID string         `json:"profile_id"`
	Amount    Money          `json:"amount"`
	Purpose   PaymentPurpose `json:"purpose"`
	Status    PaymentStatus  `json:"status"`
	BookingID string         `json:"booking_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LedgerEntry records one signed movement on a wallet bucket.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	ProfileID string    `json:"profile_id"`
	Bucket    Bucket    `json:"bucket"`
	Delta     Money     `json:"delta"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxMessage is a side effect committed together with the state change
// that caused it and delivered at least once afterwards.
type OutboxMessage struct {
	ID           string     `json:"id"`
	Key          string     `json:"key"`
	Topic        string     `json:"topic"`
	BookingID    string     `json:"booking_id"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	// ParkedAt is set when delivery can never succeed without an operator.
	ParkedAt *time.Time `json:"parked_at,omitempty"`
}

// TopicMatchRequested asks the match coordinator to assign a provider.
const TopicMatchRequested = "booking.match.requested"
