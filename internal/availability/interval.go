package availability

import (
	"sort"
	"time"
)

// Interval is one booking occupying a provider.
type Interval struct {
	BookingID string
	Start     time.Time
	End       time.Time
}

// Timeline holds one provider's intervals sorted by start, with a running
// maximum of end times so overlap queries are a binary search.
type Timeline struct {
	items  []Interval
	maxEnd []time.Time
}

func (t *Timeline) Len() int { return len(t.items) }

// Insert adds iv, replacing any interval with the same booking id.
func (t *Timeline) Insert(iv Interval) {
	t.Remove(iv.BookingID)
	i := sort.Search(len(t.items), func(i int) bool { return t.items[i].Start.After(iv.Start) })
	t.items = append(t.items, Interval{})
	copy(t.items[i+1:], t.items[i:])
	t.items[i] = iv
	t.reindex(i)
}

// Remove drops the interval of bookingID, if present.
func (t *Timeline) Remove(bookingID string) bool {
	for i, iv := range t.items {
		if iv.BookingID == bookingID {
			t.items = append(t.items[:i], t.items[i+1:]...)
			t.reindex(i)
			return true
		}
	}
	return false
}

func (t *Timeline) reindex(from int) {
	t.maxEnd = t.maxEnd[:min(from, len(t.maxEnd))]
	for i := from; i < len(t.items); i++ {
		end := t.items[i].End
		if i > 0 && t.maxEnd[i-1].After(end) {
			end = t.maxEnd[i-1]
		}
		t.maxEnd = append(t.maxEnd, end)
	}
}

// Overlaps reports whether any interval other than exclude intersects
// (from, to). Touching endpoints do not count.
func (t *Timeline) Overlaps(from, to time.Time, exclude string) bool {
	// intervals starting at or after `to` can never overlap
	k := sort.Search(len(t.items), func(i int) bool { return !t.items[i].Start.Before(to) })
	if k == 0 || !t.maxEnd[k-1].After(from) {
		return false
	}
	if exclude == "" {
		return true
	}
	for i := k - 1; i >= 0; i-- {
		if !t.maxEnd[i].After(from) {
			return false
		}
		if t.items[i].BookingID != exclude && t.items[i].End.After(from) {
			return true
		}
	}
	return false
}

func (t *Timeline) clone() *Timeline {
	return &Timeline{
		items:  append([]Interval(nil), t.items...),
		maxEnd: append([]time.Time(nil), t.maxEnd...),
	}
}

// Index maps provider ids to their timelines.
type Index struct {
	timelines map[string]*Timeline
	owner     map[string]string // booking id -> provider id
}

func NewIndex() *Index {
	return &Index{
		timelines: make(map[string]*Timeline),
		owner:     make(map[string]string),
	}
}

// Assign records that providerID is busy during iv. A booking belongs to at
// most one provider, so reassigning moves it.
func (x *Index) Assign(providerID string, iv Interval) {
	x.Release(iv.BookingID)
	tl, ok := x.timelines[providerID]
	if !ok {
		tl = &Timeline{}
		x.timelines[providerID] = tl
	}
	tl.Insert(iv)
	x.owner[iv.BookingID] = providerID
}

// Release frees whatever provider bookingID occupied.
func (x *Index) Release(bookingID string) {
	providerID, ok := x.owner[bookingID]
	if !ok {
		return
	}
	delete(x.owner, bookingID)
	if tl := x.timelines[providerID]; tl != nil {
		tl.Remove(bookingID)
		if tl.Len() == 0 {
			delete(x.timelines, providerID)
		}
	}
}

// Busy returns the providers holding a booking that intersects (from, to).
func (x *Index) Busy(from, to time.Time, exclude string) map[string]bool {
	busy := make(map[string]bool)
	for providerID, tl := range x.timelines {
		if tl.Overlaps(from, to, exclude) {
			busy[providerID] = true
		}
	}
	return busy
}

func (x *Index) Clone() *Index {
	c := NewIndex()
	for id, tl := range x.timelines {
		c.timelines[id] = tl.clone()
	}
	for b, p := range x.owner {
		c.owner[b] = p
	}
	return c
}
