// Package index keeps fetched events bucketed by local calendar date.
package index

import (
	"slices"
	"sort"
	"sync"
	"time"

	"webcal/internal/datemath"
	"webcal/internal/model"
)

// Index maps a DateKey to the events starting on that local day, in
// insertion order. Range replacement builds a fresh map and swaps it in
// under the write lock, so readers see either the old or the new range.
type Index struct {
	loc *time.Location

	mu     sync.RWMutex
	byDate map[datemath.DateKey][]model.Event
}

// New returns an empty index that derives date keys in loc.
func New(loc *time.Location) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		loc:    loc,
		byDate: make(map[datemath.DateKey][]model.Event),
	}
}

// ReplaceRange drops every key in [startKey, endKey] and indexes events
// under the local date of their start. Keys outside the range keep their
// events, except that an incoming event evicts its own stale copy so each
// id lives under exactly one key.
func (ix *Index) ReplaceRange(startKey, endKey datemath.DateKey, events []model.Event) {
	incoming := make(map[string]struct{}, len(events))
	for _, ev := range events {
		incoming[ev.ID] = struct{}{}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := make(map[datemath.DateKey][]model.Event, len(ix.byDate))
	for k, evs := range ix.byDate {
		if k >= startKey && k <= endKey {
			continue
		}
		kept := evs
		for _, ev := range evs {
			if _, dup := incoming[ev.ID]; dup {
				kept = withoutIDs(evs, incoming)
				break
			}
		}
		if len(kept) > 0 {
			next[k] = kept
		}
	}

	fresh := make(map[datemath.DateKey][]model.Event)
	for _, ev := range events {
		k := ev.LocalDateKey(ix.loc)
		fresh[k] = append(fresh[k], ev)
	}
	for k, evs := range fresh {
		next[k] = append(slices.Clone(next[k]), evs...)
	}
	ix.byDate = next
}

func withoutIDs(evs []model.Event, ids map[string]struct{}) []model.Event {
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if _, drop := ids[ev.ID]; !drop {
			out = append(out, ev)
		}
	}
	return out
}

// Lookup returns a copy of the events for key; never nil.
func (ix *Index) Lookup(key datemath.DateKey) []model.Event {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	evs := ix.byDate[key]
	out := make([]model.Event, len(evs))
	copy(out, evs)
	return out
}

// FindByID scans every indexed date.
func (ix *Index) FindByID(id string) (model.Event, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, evs := range ix.byDate {
		for _, ev := range evs {
			if ev.ID == id {
				return ev, true
			}
		}
	}
	return model.Event{}, false
}

// Keys returns the indexed date keys in ascending order.
func (ix *Index) Keys() []datemath.DateKey {
	ix.mu.RLock()
	keys := make([]datemath.DateKey, 0, len(ix.byDate))
	for k := range ix.byDate {
		keys = append(keys, k)
	}
	ix.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len is the total number of indexed events.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, evs := range ix.byDate {
		n += len(evs)
	}
	return n
}

// Clear drops everything, used on sign-out.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.byDate = make(map[datemath.DateKey][]model.Event)
	ix.mu.Unlock()
}
