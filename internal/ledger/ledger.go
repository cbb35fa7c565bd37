// Package ledger is the only code allowed to move money between wallet
// buckets. Every movement is written as signed ledger entries next to the
// updated balance, inside the caller's transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/aidmatch/internal/domain"
)

var movements = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_movements_total",
		Help: "Applied ledger movements by bucket and direction",
	},
	[]string{"bucket", "direction"},
)

// WalletStore is the transactional view of wallets the ledger writes to.
// LockWallet must hold the wallet row until the enclosing transaction ends.
type WalletStore interface {
	LockWallet(ctx context.Context, profileID string) (*domain.Wallet, error)
	SaveWallet(ctx context.Context, w *domain.Wallet) error
	AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
}

// Credit adds amount to one bucket of profileID's wallet.
func Credit(ctx context.Context, ws WalletStore, profileID string, bucket domain.Bucket, amount domain.Money, ref string) error {
	if err := check(bucket, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	w, err := ws.LockWallet(ctx, profileID)
	if err != nil {
		return err
	}
	return apply(ctx, ws, w, bucket, amount, ref)
}

// Debit removes amount from one bucket, failing with ErrInsufficientFunds
// rather than letting the balance go negative.
func Debit(ctx context.Context, ws WalletStore, profileID string, bucket domain.Bucket, amount domain.Money, ref string) error {
	if err := check(bucket, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	w, err := ws.LockWallet(ctx, profileID)
	if err != nil {
		return err
	}
	return apply(ctx, ws, w, bucket, -amount, ref)
}

// Transfer moves amount from one wallet bucket to another. The wallets are
// locked in profile id order so concurrent opposite transfers cannot
// deadlock.
func Transfer(ctx context.Context, ws WalletStore, fromProfile string, fromBucket domain.Bucket, toProfile string, toBucket domain.Bucket, amount domain.Money, ref string) error {
	if err := check(fromBucket, amount); err != nil {
		return err
	}
	if !toBucket.Valid() {
		return fmt.Errorf("bucket %q: %w", toBucket, domain.ErrInvalidArgument)
	}
	if amount == 0 {
		return nil
	}

	first, second := fromProfile, toProfile
	if first > second {
		first, second = second, first
	}
	locked := make(map[string]*domain.Wallet, 2)
	for _, id := range []string{first, second} {
		if _, ok := locked[id]; ok {
			continue
		}
		w, err := ws.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		locked[id] = w
	}

	if err := apply(ctx, ws, locked[fromProfile], fromBucket, -amount, ref); err != nil {
		return err
	}
	return apply(ctx, ws, locked[toProfile], toBucket, amount, ref)
}

func check(bucket domain.Bucket, amount domain.Money) error {
	if !bucket.Valid() {
		return fmt.Errorf("bucket %q: %w", bucket, domain.ErrInvalidArgument)
	}
	if amount < 0 {
		return fmt.Errorf("amount %s: %w", amount, domain.ErrInvalidArgument)
	}
	return nil
}

func apply(ctx context.Context, ws WalletStore, w *domain.Wallet, bucket domain.Bucket, delta domain.Money, ref string) error {
	next := w.Balance(bucket) + delta
	if next < 0 {
		return fmt.Errorf("wallet %s %s balance %s, need %s: %w",
			w.ProfileID, bucket, w.Balance(bucket), -delta, domain.ErrInsufficientFunds)
	}

	now := time.Now().UTC()
	w.SetBalance(bucket, next)
	w.UpdatedAt = now
	if err := ws.SaveWallet(ctx, w); err != nil {
		return fmt.Errorf("save wallet %s: %w", w.ProfileID, err)
	}
	err := ws.AppendLedgerEntry(ctx, domain.LedgerEntry{
		ProfileID: w.ProfileID,
		Bucket:    bucket,
		Delta:     delta,
		Reference: ref,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("ledger entry for %s: %w", w.ProfileID, err)
	}

	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	movements.WithLabelValues(string(bucket), direction).Inc()
	return nil
}
