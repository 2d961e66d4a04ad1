// Package health estimates whether motion-capture frames arrive at the
// expected rate.
//
// A Window keeps the receipt times of the most recent frames in a fixed-size
// ring. The average inter-arrival gap is approximated as the span from the
// oldest entry to now, divided by the window capacity. The window starts full
// of the construction time, so until it has cycled once the estimate measures
// time since startup rather than real arrivals.
package health

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of receipt times kept when none is configured.
const DefaultCapacity = 10

// Window is a fixed-capacity FIFO of frame receipt times. It is safe for
// concurrent use by one recording goroutine and any number of readers.
type Window struct {
	mu       sync.Mutex
	stamps   []time.Time
	head     int // index of the oldest entry
	recorded uint64
}

// NewWindow creates a window of the given capacity pre-filled with start.
// A capacity below one selects DefaultCapacity.
func NewWindow(capacity int, start time.Time) *Window {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	stamps := make([]time.Time, capacity)
	for i := range stamps {
		stamps[i] = start
	}
	return &Window{stamps: stamps}
}

// Capacity returns the fixed window length.
func (w *Window) Capacity() int {
	return len(w.stamps)
}

// Record appends a receipt time, evicting the oldest.
func (w *Window) Record(t time.Time) {
	w.mu.Lock()
	w.stamps[w.head] = t
	w.head = (w.head + 1) % len(w.stamps)
	w.recorded++
	w.mu.Unlock()
}

// Recorded returns how many receipt times have been recorded in total.
func (w *Window) Recorded() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recorded
}

// Snapshot returns the window contents, oldest first.
func (w *Window) Snapshot() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Time, 0, len(w.stamps))
	out = append(out, w.stamps[w.head:]...)
	return append(out, w.stamps[:w.head]...)
}

// Status classifies the stream at now against the maximum tolerated
// average gap. It never blocks on anything but the window lock.
func (w *Window) Status(now time.Time, maxGap time.Duration) Status {
	w.mu.Lock()
	oldest := w.stamps[w.head]
	recorded := w.recorded
	capacity := len(w.stamps)
	w.mu.Unlock()

	if recorded == 0 {
		return waitingStatus(now)
	}
	gap := now.Sub(oldest) / time.Duration(capacity)
	return classify(now, gap, maxGap, recorded)
}
