// Package scoring ranks eligible providers for a booking.
package scoring

import (
	"strings"

	"github.com/punchamoorthee/aidmatch/internal/domain"
)

const (
	disabilityWeight = 5
	fullMatchWeight  = 5 // country, state, locality and city
	localityWeight   = 4 // country, state and locality
	regionWeight     = 3 // country and state
)

// Score is a pure function of the candidate and the booking.
//
// A candidate whose profile declares a disability type earns a flat bonus.
// Location adds only the highest tier whose fields all match. A field
// matches when the provider's value contains the booking's value, ignoring
// case and surrounding space; a blank value on either side never matches.
func Score(c domain.Candidate, b *domain.Booking) int {
	score := 0
	if strings.TrimSpace(c.Profile.DisabilityType) != "" {
		score += disabilityWeight
	}

	pl, bl := c.Provider.Location, b.Location
	country := contains(pl.Country, bl.Country)
	state := contains(pl.State, bl.State)
	locality := contains(pl.Locality, bl.Locality)
	city := contains(pl.City, bl.City)

	switch {
	case country && state && locality && city:
		score += fullMatchWeight
	case country && state && locality:
		score += localityWeight
	case country && state:
		score += regionWeight
	}
	return score
}

func contains(have, want string) bool {
	have = strings.ToLower(strings.TrimSpace(have))
	want = strings.ToLower(strings.TrimSpace(want))
	if have == "" || want == "" {
		return false
	}
	return strings.Contains(have, want)
}

// Best returns the highest scoring candidate. Ties go to the candidate seen
// first. ok is false when cands is empty.
func Best(cands []domain.Candidate, b *domain.Booking) (best domain.Candidate, score int, ok bool) {
	for i, c := range cands {
		s := Score(c, b)
		if i == 0 || s > score {
			best, score = c, s
		}
	}
	return best, score, len(cands) > 0
}
