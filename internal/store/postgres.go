package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/aidmatch/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	defaultTxAttempts = 5
)

// PostgresStore runs every transaction at SERIALIZABLE and retries the
// ones Postgres aborts on serialization failure or deadlock.
type PostgresStore struct {
	Db          *pgxpool.Pool
	maxAttempts int
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool, maxAttempts: defaultTxAttempts}, nil
}

// Migrate creates any missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		slog.WarnContext(ctx, "retrying transaction", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxAttempts, err)
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, key, topic, booking_id, attempts, created_at, dispatched_at, parked_at
		   FROM outbox WHERE dispatched_at IS NULL AND parked_at IS NULL
		  ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxMessage, error) {
		var m domain.OutboxMessage
		err := row.Scan(&m.ID, &m.Key, &m.Topic, &m.BookingID, &m.Attempts, &m.CreatedAt, &m.DispatchedAt, &m.ParkedAt)
		return m, err
	})
}

func (s *PostgresStore) MarkOutboxDispatched(ctx context.Context, id string) error {
	tag, err := s.Db.Exec(ctx, "UPDATE outbox SET dispatched_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RecordOutboxFailure(ctx context.Context, id string) error {
	_, err := s.Db.Exec(ctx, "UPDATE outbox SET attempts = attempts + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("record outbox failure %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ParkOutbox(ctx context.Context, id string) error {
	tag, err := s.Db.Exec(ctx, "UPDATE outbox SET parked_at = now(), attempts = attempts + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("park outbox %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const bookingColumns = `id, payer_profile_id, assigned_provider_id, service_id, start_at, end_at,
	total_amount, booking_status, payment_status, is_matched, confirmed_by_provider,
	confirmed_by_user, country, state, locality, city, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var provider *string
	err := row.Scan(&b.ID, &b.PayerProfileID, &provider, &b.ServiceID, &b.StartAt, &b.EndAt,
		&b.TotalAmount, &b.BookingStatus, &b.PaymentStatus, &b.IsMatched, &b.ConfirmedByProvider,
		&b.ConfirmedByUser, &b.Location.Country, &b.Location.State, &b.Location.Locality,
		&b.Location.City, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		b.AssignedProviderID = *provider
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	return &b, nil
}

func (t *pgTx) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

func (t *pgTx) LockBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

func (t *pgTx) SaveBooking(ctx context.Context, b *domain.Booking) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE bookings SET assigned_provider_id = $2, booking_status = $3, payment_status = $4,
		        is_matched = $5, confirmed_by_provider = $6, confirmed_by_user = $7, updated_at = now()
		  WHERE id = $1 RETURNING updated_at`,
		b.ID, nullable(b.AssignedProviderID), b.BookingStatus, b.PaymentStatus,
		b.IsMatched, b.ConfirmedByProvider, b.ConfirmedByUser,
	).Scan(&b.UpdatedAt)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("booking %s: %w", b.ID, domain.ErrInvalidArgument)
		}
		return notFound(err, "booking", b.ID)
	}
	return nil
}

const transactionColumns = `id, reference, profile_id, amount, purpose, status, booking_id, created_at, updated_at`

func (t *pgTx) LockTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	var tr domain.PaymentTransaction
	var booking *string
	err := t.tx.QueryRow(ctx, "SELECT "+transactionColumns+" FROM payment_transactions WHERE id = $1 FOR UPDATE", id).
		Scan(&tr.ID, &tr.Reference, &tr.ProfileID, &tr.Amount, &tr.Purpose, &tr.Status, &booking, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	if booking != nil {
		tr.BookingID = *booking
	}
	return &tr, nil
}

func (t *pgTx) SaveTransaction(ctx context.Context, tr *domain.PaymentTransaction) error {
	err := t.tx.QueryRow(ctx,
		"UPDATE payment_transactions SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at",
		tr.ID, tr.Status,
	).Scan(&tr.UpdatedAt)
	if err != nil {
		return notFound(err, "transaction", tr.ID)
	}
	return nil
}

func (t *pgTx) wallet(ctx context.Context, profileID, suffix string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := t.tx.QueryRow(ctx,
		"SELECT profile_id, funded_balance, pending_balance, earned_balance, updated_at FROM wallets WHERE profile_id = $1"+suffix,
		profileID,
	).Scan(&w.ProfileID, &w.FundedBalance, &w.PendingBalance, &w.EarnedBalance, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "wallet", profileID)
	}
	return &w, nil
}

func (t *pgTx) GetWallet(ctx context.Context, profileID string) (*domain.Wallet, error) {
	return t.wallet(ctx, profileID, "")
}

func (t *pgTx) LockWallet(ctx context.Context, profileID string) (*domain.Wallet, error) {
	return t.wallet(ctx, profileID, " FOR UPDATE")
}

func (t *pgTx) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET funded_balance = $2, pending_balance = $3, earned_balance = $4, updated_at = $5
		  WHERE profile_id = $1`,
		w.ProfileID, int64(w.FundedBalance), int64(w.PendingBalance), int64(w.EarnedBalance), w.UpdatedAt)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("wallet %s: negative balance: %w", w.ProfileID, domain.ErrInsufficientFunds)
		}
		return fmt.Errorf("update wallet %s: %w", w.ProfileID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.ProfileID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO ledger_entries (profile_id, bucket, delta, reference, created_at) VALUES ($1, $2, $3, $4, $5)",
		e.ProfileID, string(e.Bucket), int64(e.Delta), e.Reference, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (t *pgTx) ListLedgerEntries(ctx context.Context, profileID string, limit int) ([]domain.LedgerEntry, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM wallets WHERE profile_id = $1)", profileID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("wallet %s: %w", profileID, domain.ErrNotFound)
	}
	if limit <= 0 {
		limit = defaultEntryLimit
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, profile_id, bucket, delta, reference, created_at
		   FROM ledger_entries WHERE profile_id = $1 ORDER BY id DESC LIMIT $2`,
		profileID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var e domain.LedgerEntry
		err := row.Scan(&e.ID, &e.ProfileID, &e.Bucket, &e.Delta, &e.Reference, &e.CreatedAt)
		return e, err
	})
}

func (t *pgTx) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	return t.profile(ctx, "id", id)
}

func (t *pgTx) GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	return t.profile(ctx, "user_id", userID)
}

func (t *pgTx) profile(ctx context.Context, column, value string) (*domain.Profile, error) {
	var p domain.Profile
	err := t.tx.QueryRow(ctx,
		"SELECT id, user_id, email, disability_type FROM profiles WHERE deleted_at IS NULL AND "+column+" = $1",
		value,
	).Scan(&p.ID, &p.UserID, &p.Email, &p.DisabilityType)
	if err != nil {
		return nil, notFound(err, "profile", value)
	}
	return &p, nil
}

const providerColumns = `p.id, p.profile_id, p.country, p.state, p.locality, p.city,
	p.services_completed, p.average_rating, p.rating_count, p.deleted_at IS NOT NULL`

func scanProvider(row pgx.Row, extra ...any) (*domain.Provider, error) {
	var p domain.Provider
	dest := []any{&p.ID, &p.ProfileID, &p.Location.Country, &p.Location.State, &p.Location.Locality,
		&p.Location.City, &p.ServicesCompleted, &p.AverageRating, &p.RatingCount, &p.Deleted}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	p, err := scanProvider(t.tx.QueryRow(ctx, "SELECT "+providerColumns+" FROM providers p WHERE p.id = $1", id))
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

func (t *pgTx) LockProvider(ctx context.Context, id string) (*domain.Provider, error) {
	p, err := scanProvider(t.tx.QueryRow(ctx, "SELECT "+providerColumns+" FROM providers p WHERE p.id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

func (t *pgTx) SaveProvider(ctx context.Context, p *domain.Provider) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE providers SET services_completed = $2, average_rating = $3, rating_count = $4 WHERE id = $1",
		p.ID, p.ServicesCompleted, p.AverageRating, p.RatingCount)
	if err != nil {
		return fmt.Errorf("update provider %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) ListActiveProviders(ctx context.Context) ([]domain.Candidate, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+providerColumns+`, pr.id, pr.user_id, pr.email, pr.disability_type
		   FROM providers p JOIN profiles pr ON pr.id = p.profile_id
		  WHERE p.deleted_at IS NULL AND pr.deleted_at IS NULL
		  ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Candidate, error) {
		var prof domain.Profile
		p, err := scanProvider(row, &prof.ID, &prof.UserID, &prof.Email, &prof.DisabilityType)
		if err != nil {
			return domain.Candidate{}, err
		}
		return domain.Candidate{Provider: *p, Profile: prof}, nil
	})
}

// BusyProviders relies on bookings_provider_window_idx. The predicate is the
// half-open overlap used by availability.Timeline: a booking ending exactly
// at from, or starting exactly at to, does not make its provider busy.
func (t *pgTx) BusyProviders(ctx context.Context, from, to time.Time, excludeBookingID string) (map[string]bool, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT DISTINCT assigned_provider_id FROM bookings
		  WHERE assigned_provider_id IS NOT NULL
		    AND is_matched AND booking_status <> $4
		    AND start_at < $2 AND end_at > $1
		    AND id <> $3`,
		from, to, excludeBookingID, domain.BookingCancelled)
	if err != nil {
		return nil, fmt.Errorf("query busy providers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool, len(ids))
	for _, id := range ids {
		busy[id] = true
	}
	return busy, nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, m domain.OutboxMessage) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO outbox (id, key, topic, booking_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		m.ID, m.Key, m.Topic, m.BookingID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("enqueue outbox %s: %w", m.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}
