package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/aidmatch/internal/availability"
	"github.com/punchamoorthee/aidmatch/internal/domain"
)

// MemoryStore keeps everything in process. Transactions run one at a time
// on a copy of the state which replaces the live state only on commit, so
// a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	profiles      map[string]domain.Profile
	providers     map[string]domain.Provider
	providerOrder []string
	bookings      map[string]domain.Booking
	wallets       map[string]domain.Wallet
	transactions  map[string]domain.PaymentTransaction
	ledger        []domain.LedgerEntry
	outbox        []domain.OutboxMessage
	busy          *availability.Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		profiles:     make(map[string]domain.Profile),
		providers:    make(map[string]domain.Provider),
		bookings:     make(map[string]domain.Booking),
		wallets:      make(map[string]domain.Wallet),
		transactions: make(map[string]domain.PaymentTransaction),
		busy:         availability.NewIndex(),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		profiles:      make(map[string]domain.Profile, len(s.profiles)),
		providers:     make(map[string]domain.Provider, len(s.providers)),
		providerOrder: append([]string(nil), s.providerOrder...),
		bookings:      make(map[string]domain.Booking, len(s.bookings)),
		wallets:       make(map[string]domain.Wallet, len(s.wallets)),
		transactions:  make(map[string]domain.PaymentTransaction, len(s.transactions)),
		ledger:        append([]domain.LedgerEntry(nil), s.ledger...),
		outbox:        append([]domain.OutboxMessage(nil), s.outbox...),
		busy:          s.busy.Clone(),
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.providers {
		c.providers[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.OutboxMessage
	for _, msg := range m.state.outbox {
		if msg.DispatchedAt != nil || msg.ParkedAt != nil {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkOutboxDispatched(ctx context.Context, id string) error {
	return m.updateOutbox(id, func(msg *domain.OutboxMessage) {
		now := time.Now().UTC()
		msg.DispatchedAt = &now
	})
}

func (m *MemoryStore) RecordOutboxFailure(ctx context.Context, id string) error {
	return m.updateOutbox(id, func(msg *domain.OutboxMessage) { msg.Attempts++ })
}

func (m *MemoryStore) ParkOutbox(ctx context.Context, id string) error {
	return m.updateOutbox(id, func(msg *domain.OutboxMessage) {
		now := time.Now().UTC()
		msg.Attempts++
		msg.ParkedAt = &now
	})
}

func (m *MemoryStore) updateOutbox(id string, fn func(*domain.OutboxMessage)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		if m.state.outbox[i].ID == id {
			fn(&m.state.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox %s: %w", id, domain.ErrNotFound)
}

func (m *MemoryStore) Close() {}

// PutProfile, PutProvider, PutBooking, PutWallet and PutTransaction insert
// or replace rows directly. They exist for seeding and tests.

func (m *MemoryStore) PutProfile(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.profiles[p.ID] = p
}

func (m *MemoryStore) PutProvider(p domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.providers[p.ID]; !ok {
		m.state.providerOrder = append(m.state.providerOrder, p.ID)
	}
	m.state.providers[p.ID] = p
}

func (m *MemoryStore) PutBooking(b domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.bookings[b.ID] = b
	m.state.index(&b)
}

func (m *MemoryStore) PutWallet(w domain.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.wallets[w.ProfileID] = w
}

func (m *MemoryStore) PutTransaction(t domain.PaymentTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.transactions[t.ID] = t
}

// index keeps the availability index in step with a booking row.
func (s *memState) index(b *domain.Booking) {
	if b.IsMatched && b.AssignedProviderID != "" && b.BookingStatus != domain.BookingCancelled {
		s.busy.Assign(b.AssignedProviderID, availability.Interval{BookingID: b.ID, Start: b.StartAt, End: b.EndAt})
		return
	}
	s.busy.Release(b.ID)
}

type memTx struct {
	s *memState
}

func (t *memTx) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return &b, nil
}

func (t *memTx) LockBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *memTx) SaveBooking(ctx context.Context, b *domain.Booking) error {
	old, ok := t.s.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
	}
	if b.IsMatched && b.AssignedProviderID == "" {
		return fmt.Errorf("booking %s matched without a provider: %w", b.ID, domain.ErrInvalidArgument)
	}
	saved := *b
	saved.StartAt, saved.EndAt = old.StartAt, old.EndAt
	saved.UpdatedAt = time.Now().UTC()
	t.s.bookings[b.ID] = saved
	t.s.index(&saved)
	b.UpdatedAt = saved.UpdatedAt
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	tr, ok := t.s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return &tr, nil
}

func (t *memTx) SaveTransaction(ctx context.Context, tr *domain.PaymentTransaction) error {
	if _, ok := t.s.transactions[tr.ID]; !ok {
		return fmt.Errorf("transaction %s: %w", tr.ID, domain.ErrNotFound)
	}
	tr.UpdatedAt = time.Now().UTC()
	t.s.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) GetWallet(ctx context.Context, profileID string) (*domain.Wallet, error) {
	w, ok := t.s.wallets[profileID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", profileID, domain.ErrNotFound)
	}
	return &w, nil
}

func (t *memTx) LockWallet(ctx context.Context, profileID string) (*domain.Wallet, error) {
	return t.GetWallet(ctx, profileID)
}

func (t *memTx) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	if _, ok := t.s.wallets[w.ProfileID]; !ok {
		return fmt.Errorf("wallet %s: %w", w.ProfileID, domain.ErrNotFound)
	}
	if w.FundedBalance < 0 || w.PendingBalance < 0 || w.EarnedBalance < 0 {
		return fmt.Errorf("wallet %s: negative balance: %w", w.ProfileID, domain.ErrInsufficientFunds)
	}
	t.s.wallets[w.ProfileID] = *w
	return nil
}

func (t *memTx) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	e.ID = int64(len(t.s.ledger) + 1)
	t.s.ledger = append(t.s.ledger, e)
	return nil
}

func (t *memTx) ListLedgerEntries(ctx context.Context, profileID string, limit int) ([]domain.LedgerEntry, error) {
	if _, ok := t.s.wallets[profileID]; !ok {
		return nil, fmt.Errorf("wallet %s: %w", profileID, domain.ErrNotFound)
	}
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	var out []domain.LedgerEntry
	for i := len(t.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if t.s.ledger[i].ProfileID == profileID {
			out = append(out, t.s.ledger[i])
		}
	}
	return out, nil
}

func (t *memTx) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	p, ok := t.s.profiles[id]
	if !ok || p.Deleted {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	for _, p := range t.s.profiles {
		if p.UserID == userID && !p.Deleted {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("profile for user %s: %w", userID, domain.ErrNotFound)
}

func (t *memTx) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	p, ok := t.s.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) LockProvider(ctx context.Context, id string) (*domain.Provider, error) {
	return t.GetProvider(ctx, id)
}

func (t *memTx) SaveProvider(ctx context.Context, p *domain.Provider) error {
	if _, ok := t.s.providers[p.ID]; !ok {
		return fmt.Errorf("provider %s: %w", p.ID, domain.ErrNotFound)
	}
	t.s.providers[p.ID] = *p
	return nil
}

func (t *memTx) ListActiveProviders(ctx context.Context) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for _, id := range t.s.providerOrder {
		p := t.s.providers[id]
		if p.Deleted {
			continue
		}
		prof, ok := t.s.profiles[p.ProfileID]
		if !ok || prof.Deleted {
			continue
		}
		out = append(out, domain.Candidate{Provider: p, Profile: prof})
	}
	return out, nil
}

func (t *memTx) BusyProviders(ctx context.Context, from, to time.Time, excludeBookingID string) (map[string]bool, error) {
	return t.s.busy.Busy(from, to, excludeBookingID), nil
}

func (t *memTx) EnqueueOutbox(ctx context.Context, m domain.OutboxMessage) (bool, error) {
	for _, existing := range t.s.outbox {
		if existing.Key == m.Key {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	t.s.outbox = append(t.s.outbox, m)
	sort.SliceStable(t.s.outbox, func(i, j int) bool {
		return t.s.outbox[i].CreatedAt.Before(t.s.outbox[j].CreatedAt)
	})
	return true, nil
}
