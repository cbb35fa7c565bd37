// Package directory looks up profiles and the platform fallback provider.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/aidmatch/internal/domain"
	"github.com/punchamoorthee/aidmatch/internal/store"
)

type Directory struct {
	store      store.Store
	fallbackID string
}

func New(st store.Store, fallbackID string) *Directory {
	return &Directory{store: st, fallbackID: fallbackID}
}

func (d *Directory) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	var p *domain.Profile
	err := d.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProfileByUserID(ctx, userID)
		return err
	})
	return p, err
}

// FindFallbackProvider resolves the configured platform provider in its own
// transaction. Used at startup to refuse a bad configuration early.
func (d *Directory) FindFallbackProvider(ctx context.Context) (*domain.Provider, error) {
	var c *domain.Candidate
	err := d.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		c, err = d.Fallback(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c.Provider, nil
}

// Fallback loads the platform provider and its profile inside tx. Anything
// short of an active provider with an active profile is
// ErrFatalConfiguration.
func (d *Directory) Fallback(ctx context.Context, tx store.Tx) (*domain.Candidate, error) {
	if d.fallbackID == "" {
		return nil, fmt.Errorf("no fallback provider configured: %w", domain.ErrFatalConfiguration)
	}
	p, err := tx.GetProvider(ctx, d.fallbackID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("fallback provider %s missing: %w", d.fallbackID, domain.ErrFatalConfiguration)
		}
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("fallback provider %s deleted: %w", d.fallbackID, domain.ErrFatalConfiguration)
	}
	prof, err := tx.GetProfile(ctx, p.ProfileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("fallback provider %s has no profile: %w", d.fallbackID, domain.ErrFatalConfiguration)
		}
		return nil, err
	}
	return &domain.Candidate{Provider: *p, Profile: *prof}, nil
}
