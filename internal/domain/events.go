package domain

import "time"

type EventType string

const (
	EventBookingProviderMatch EventType = "Aid Service Booking Provider Match"
	EventBookingUpdate        EventType = "Aid Service Booking Update"
	EventPaymentMade          EventType = "Payment Made"
)

const (
	ContextServiceBooking = "Service Booking"
	ContextPayment        = "Payment"
)

// Event is handed to the notification gateway after a commit.
type Event struct {
	ID                 string            `json:"id"`
	Type               EventType         `json:"type"`
	Context            string            `json:"context"`
	ContextEntityID    string            `json:"context_entity_id"`
	CreatorProfileID   string            `json:"creator_profile_id"`
	ReceiverProfileIDs []string          `json:"receiver_profile_ids"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Data               map[string]string `json:"data,omitempty"`
	OccurredAt         time.Time         `json:"occurred_at"`
}
