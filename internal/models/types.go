package models

import "github.com/punchamoorthee/aidmatch/internal/domain"

// PaymentStatusRequest is the payment gateway's webhook payload.
type PaymentStatusRequest struct {
	Status string `json:"status"`
}

// ConfirmRequest is sent by either party once the service was delivered.
type ConfirmRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// MatchRequest triggers matching by hand. Force replaces an existing
// assignment that neither party has confirmed yet.
type MatchRequest struct {
	Force bool `json:"force"`
}

// EntriesResponse lists a wallet's most recent ledger entries, newest first.
type EntriesResponse struct {
	ProfileID string               `json:"profile_id"`
	Entries   []domain.LedgerEntry `json:"entries"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
