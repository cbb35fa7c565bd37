package availability

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

type fakeSource struct {
	candidates []domain.Candidate
	index      *Index
}

func (f *fakeSource) ListActiveProviders(ctx context.Context) ([]domain.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeSource) BusyProviders(ctx context.Context, from, to time.Time, exclude string) (map[string]bool, error) {
	return f.index.Busy(from, to, exclude), nil
}

func candidate(id string) domain.Candidate {
	return domain.Candidate{Provider: domain.Provider{ID: id, ProfileID: "profile-" + id}}
}

func TestFindEligibleBuffer(t *testing.T) {
	window := domain.NewWindow(at(10))

	tests := []struct {
		name     string
		existing domain.Window
		eligible bool
	}{
		{"ends exactly one hour before", domain.NewWindow(at(8)), true},
		{"ends inside the leading buffer", domain.NewWindow(at(8.5)), false},
		{"same slot", domain.NewWindow(at(10)), false},
		{"starts inside the trailing buffer", domain.NewWindow(at(11.5)), false},
		{"starts exactly one hour after", domain.NewWindow(at(12)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				candidates: []domain.Candidate{candidate("busy"), candidate("free")},
				index:      NewIndex(),
			}
			src.index.Assign("busy", Interval{BookingID: "other", Start: tt.existing.Start, End: tt.existing.End})

			got, err := FindEligible(context.Background(), src, window, "svc", "")
			if err != nil {
				t.Fatal(err)
			}
			ids := make(map[string]bool)
			for _, c := range got {
				ids[c.Provider.ID] = true
			}
			if !ids["free"] {
				t.Error("provider with zero bookings must be eligible")
			}
			if ids["busy"] != tt.eligible {
				t.Errorf("busy provider eligible = %v, want %v", ids["busy"], tt.eligible)
			}
		})
	}
}

func TestFindEligibleKeepsOrderAndExcludesSelf(t *testing.T) {
	src := &fakeSource{
		candidates: []domain.Candidate{candidate("c"), candidate("a"), candidate("b")},
		index:      NewIndex(),
	}
	window := domain.NewWindow(at(0))
	src.index.Assign("a", Interval{BookingID: "self", Start: window.Start, End: window.End})

	got, err := FindEligible(context.Background(), src, window, "svc", "self")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.Provider.ID != want[i] {
			t.Errorf("candidate[%d] = %s, want %s", i, c.Provider.ID, want[i])
		}
	}
}
