package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

// MatchDispatcher delivers match requests from the outbox straight to a
// coordinator in the same process. It is used when no broker is configured.
type MatchDispatcher struct {
	Coordinator *Coordinator
}

func (d MatchDispatcher) Dispatch(ctx context.Context, m domain.OutboxMessage) error {
	if m.Topic != domain.TopicMatchRequested {
		return fmt.Errorf("outbox %s: unknown topic %q: %w", m.ID, m.Topic, domain.ErrInvalidArgument)
	}
	_, err := d.Coordinator.Match(ctx, m.BookingID, false)
	if errors.Is(err, domain.ErrConflict) {
		// matched by an earlier delivery, or no longer matchable
		return nil
	}
	return err
}
