package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/directory"
	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/outbox"
	"github.com/punchamoorthee/aidmatch/internal/store"
)

var slot = time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)

var lagos = domain.Location{Country: "Nigeria", State: "Lagos", Locality: "Ikeja", City: "Lagos"}

const (
	payerProfile    = "payer"
	payerUser       = "u-payer"
	platformProfile = "platform"
	platformUser    = "u-platform"
	fallbackID      = "platform-provider"
	amount          = domain.Money(150000)
)

type recordingGateway struct {
	mu     sync.Mutex
	events []domain.Event
}

func (g *recordingGateway) Notify(ctx context.Context, e domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, e)
	return nil
}

func (g *recordingGateway) ofType(t domain.EventType) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Event
	for _, e := range g.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *store.MemoryStore
	gateway  *recordingGateway
	coord    *Coordinator
	settle   *Settlement
	relay    *outbox.Relay
	profiles []string
}

// newFixture seeds a payer, the platform fallback provider, booking b1 and
// its pending service payment tx-1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	gw := &recordingGateway{}
	coord := NewCoordinator(st, gw, directory.New(st, fallbackID))
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		gateway: gw,
		coord:   coord,
		settle:  NewSettlement(st, gw, nil),
		relay:   outbox.NewRelay(st, MatchDispatcher{Coordinator: coord}, 10),
	}

	f.addProfile(payerProfile, payerUser, "")
	f.addProvider(fallbackID, platformProfile, platformUser, domain.Location{}, "")
	f.addBooking("b1", slot)
	st.PutTransaction(domain.PaymentTransaction{
		ID: "tx-1", Reference: "ref-1", ProfileID: payerProfile, Amount: amount,
		Purpose: domain.PurposeServicePayment, Status: domain.PaymentPending, BookingID: "b1",
	})
	return f
}

func (f *fixture) addProfile(id, userID, disability string) {
	f.store.PutProfile(domain.Profile{ID: id, UserID: userID, DisabilityType: disability})
	f.store.PutWallet(domain.Wallet{ProfileID: id})
	f.profiles = append(f.profiles, id)
}

func (f *fixture) addProvider(id, profileID, userID string, loc domain.Location, disability string) {
	f.addProfile(profileID, userID, disability)
	f.store.PutProvider(domain.Provider{ID: id, ProfileID: profileID, Location: loc})
}

func (f *fixture) addBooking(id string, start time.Time) {
	w := domain.NewWindow(start)
	f.store.PutBooking(domain.Booking{
		ID: id, PayerProfileID: payerProfile, ServiceID: "svc-1",
		StartAt: w.Start, EndAt: w.End, TotalAmount: amount,
		BookingStatus: domain.BookingPending, PaymentStatus: domain.PaymentNotPaid,
		Location: lagos,
	})
}

// occupy gives providerID a live booking at start.
func (f *fixture) occupy(providerID, bookingID string, start time.Time) {
	w := domain.NewWindow(start)
	f.store.PutBooking(domain.Booking{
		ID: bookingID, PayerProfileID: payerProfile, AssignedProviderID: providerID,
		StartAt: w.Start, EndAt: w.End, BookingStatus: domain.BookingInProgress,
		PaymentStatus: domain.PaymentPaid, IsMatched: true,
	})
}

func (f *fixture) booking(id string) *domain.Booking {
	f.t.Helper()
	var b *domain.Booking
	err := f.store.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		b, err = tx.GetBooking(f.ctx, id)
		return err
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return b
}

func (f *fixture) wallet(profileID string) domain.Wallet {
	f.t.Helper()
	var w *domain.Wallet
	err := f.store.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.GetWallet(f.ctx, profileID)
		return err
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return *w
}

func (f *fixture) provider(id string) domain.Provider {
	f.t.Helper()
	var p *domain.Provider
	err := f.store.RunInTx(f.ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProvider(f.ctx, id)
		return err
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return *p
}

func (f *fixture) total() domain.Money {
	var sum domain.Money
	for _, id := range f.profiles {
		w := f.wallet(id)
		sum += w.Total()
	}
	return sum
}

// pay confirms tx-1 and drains the outbox.
func (f *fixture) pay() {
	f.t.Helper()
	if _, err := f.settle.OnPaymentConfirmed(f.ctx, "tx-1", domain.PaymentPaid); err != nil {
		f.t.Fatalf("OnPaymentConfirmed: %v", err)
	}
	if _, err := f.relay.Flush(f.ctx); err != nil {
		f.t.Fatalf("Flush: %v", err)
	}
}
