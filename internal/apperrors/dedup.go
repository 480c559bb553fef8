package apperrors

import (
	"sync"
	"time"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// dedupKey identifies "the same failure happening again". Composite struct key
// rather than a concatenated string so the fields can never bleed into each other.
type dedupKey struct {
	message   string
	operation string
	status    int
}

// Deduper coalesces repeated identical failures inside a rolling window so a
// flapping dependency cannot storm the log sink. Memory is bounded: when the
// entry limit is reached the oldest entries are evicted regardless of window.
type Deduper struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	seen       map[dedupKey]time.Time
	order      []timedKey
}

type timedKey struct {
	key dedupKey
	at  time.Time
}

// NewDeduper returns a Deduper with the given window. maxEntries bounds the
// number of distinct failures tracked at once; 0 selects the default (1024).
func NewDeduper(window time.Duration, maxEntries int) *Deduper {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Deduper{
		window:     window,
		maxEntries: maxEntries,
		seen:       make(map[dedupKey]time.Time),
	}
}

// ShouldLog reports whether the error should be logged, and records it if so.
// An identical (message, operation, status) triple seen within the window
// returns false.
func (d *Deduper) ShouldLog(e *StandardError) bool {
	if e == nil {
		return false
	}

	key := dedupKey{
		message:   e.Message,
		operation: e.Context.Operation,
		status:    e.HTTPStatus,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := timeNow()
	d.evict(now)

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}

	d.seen[key] = now
	d.order = append(d.order, timedKey{key: key, at: now})
	return true
}

// evict drops expired entries and, if still over capacity, the oldest ones.
// Entries in order are append-only and therefore time-sorted.
func (d *Deduper) evict(now time.Time) {
	cut := 0
	for cut < len(d.order) {
		entry := d.order[cut]
		expired := now.Sub(entry.at) >= d.window
		overCap := len(d.order)-cut >= d.maxEntries
		if !expired && !overCap {
			break
		}
		// only delete from the map if this is still the latest sighting
		if last, ok := d.seen[entry.key]; ok && last.Equal(entry.at) {
			delete(d.seen, entry.key)
		}
		cut++
	}
	if cut > 0 {
		d.order = append([]timedKey(nil), d.order[cut:]...)
	}
}

// Len reports the number of distinct failures currently tracked.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
