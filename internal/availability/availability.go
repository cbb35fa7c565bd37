// Package availability decides which providers are free for a booking.
//
// A provider is eligible when none of its assigned bookings intersects the
// booking window widened by Buffer on both sides.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

// Buffer is the minimum gap kept between two bookings of one provider.
const Buffer = time.Hour

// Source is the slice of the store the index reads from.
type Source interface {
	// ListActiveProviders returns non-deleted providers whose profiles are
	// not deleted either, in stable creation order.
	ListActiveProviders(ctx context.Context) ([]domain.Candidate, error)
	// BusyProviders returns ids of providers assigned to a live booking
	// intersecting (from, to), ignoring excludeBookingID.
	BusyProviders(ctx context.Context, from, to time.Time, excludeBookingID string) (map[string]bool, error)
}

// FindEligible returns the providers free for window, in the order the
// source lists them.
//
// Providers are not scoped by service: every active provider may serve any
// service, so serviceID only labels the lookup.
func FindEligible(ctx context.Context, src Source, window domain.Window, serviceID, excludeBookingID string) ([]domain.Candidate, error) {
	all, err := src.ListActiveProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers for service %s: %w", serviceID, err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	guarded := window.Expand(Buffer)
	busy, err := src.BusyProviders(ctx, guarded.Start, guarded.End, excludeBookingID)
	if err != nil {
		return nil, fmt.Errorf("busy providers: %w", err)
	}

	eligible := make([]domain.Candidate, 0, len(all))
	for _, c := range all {
		if !busy[c.Provider.ID] {
			eligible = append(eligible, c)
		}
	}
	return eligible, nil
}
