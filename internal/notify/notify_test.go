package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

type recorder struct {
	events []domain.Event
	err    error
}

func (r *recorder) Notify(ctx context.Context, e domain.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestSendFillsIdentity(t *testing.T) {
	r := &recorder{}
	Send(context.Background(), r, domain.Event{Type: domain.EventPaymentMade, ContextEntityID: "tx-1"})

	if len(r.events) != 1 {
		t.Fatalf("got %d events, want 1", len(r.events))
	}
	if r.events[0].ID == "" || r.events[0].OccurredAt.IsZero() {
		t.Errorf("event missing id or timestamp: %+v", r.events[0])
	}
}

func TestSendSwallowsErrors(t *testing.T) {
	r := &recorder{err: errors.New("broker down")}
	// must not panic or block
	Send(context.Background(), r, domain.Event{Type: domain.EventBookingUpdate})
	Send(context.Background(), nil, domain.Event{Type: domain.EventBookingUpdate})
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	g := LogGateway{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := g.Notify(context.Background(), domain.Event{
		ID:              "e1",
		Type:            domain.EventBookingProviderMatch,
		ContextEntityID: "b1",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"entity":"b1"`) || !strings.Contains(out, string(domain.EventBookingProviderMatch)) {
		t.Errorf("log output = %s", out)
	}
}
