// Package store persists bookings, providers, wallets, payment transactions,
// ledger entries and outbox rows. Entities reference each other by id only.
package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

// Tx is the set of operations available inside one database transaction.
// Lock* methods hold the row until the transaction ends; Get* methods do
// not lock. Missing rows are reported as domain.ErrNotFound.
type Tx interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	LockBooking(ctx context.Context, id string) (*domain.Booking, error)
	// SaveBooking updates the mutable columns of a booking. The time
	// window is fixed at creation and never rewritten.
	SaveBooking(ctx context.Context, b *domain.Booking) error

	LockTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error)
	SaveTransaction(ctx context.Context, t *domain.PaymentTransaction) error

	GetWallet(ctx context.Context, profileID string) (*domain.Wallet, error)
	LockWallet(ctx context.Context, profileID string) (*domain.Wallet, error)
	SaveWallet(ctx context.Context, w *domain.Wallet) error
	AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, profileID string, limit int) ([]domain.LedgerEntry, error)

	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error)

	GetProvider(ctx context.Context, id string) (*domain.Provider, error)
	LockProvider(ctx context.Context, id string) (*domain.Provider, error)
	SaveProvider(ctx context.Context, p *domain.Provider) error
	ListActiveProviders(ctx context.Context) ([]domain.Candidate, error)
	BusyProviders(ctx context.Context, from, to time.Time, excludeBookingID string) (map[string]bool, error)

	// EnqueueOutbox inserts m unless a row with the same key exists and
	// reports whether it inserted.
	EnqueueOutbox(ctx context.Context, m domain.OutboxMessage) (bool, error)
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	// RunInTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxDispatched(ctx context.Context, id string) error
	RecordOutboxFailure(ctx context.Context, id string) error
	// ParkOutbox takes a row out of the pending set without marking it
	// dispatched.
	ParkOutbox(ctx context.Context, id string) error

	Close()
}

const defaultEntryLimit = 100
