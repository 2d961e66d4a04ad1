package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StatsSnapshot holds cumulative receive-path counters.
type StatsSnapshot struct {
	Datagrams   int64     `json:"datagrams"`
	Bytes       int64     `json:"bytes"`
	Frames      int64     `json:"frames"`
	Dropped     int64     `json:"dropped"`
	Unsupported int64     `json:"unsupported"`
	Poses       int64     `json:"poses"`
	Filtered    int64     `json:"filtered"`
	Timeouts    int64     `json:"timeouts"`
	Since       time.Time `json:"since"`
}

// Stats tracks receive-path counters with thread-safe operations.
type Stats struct {
	mu      sync.Mutex
	total   StatsSnapshot
	last    StatsSnapshot
	lastLog time.Time
}

// NewStats creates a Stats whose counting started at start.
func NewStats(start time.Time) *Stats {
	return &Stats{
		total:   StatsSnapshot{Since: start},
		last:    StatsSnapshot{Since: start},
		lastLog: start,
	}
}

// AddDatagram counts one received datagram of n bytes.
func (s *Stats) AddDatagram(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Datagrams++
	s.total.Bytes += int64(n)
}

// AddDropped counts a datagram that failed to decode.
func (s *Stats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Dropped++
}

// AddUnsupported counts a non-frame message.
func (s *Stats) AddUnsupported() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Unsupported++
}

// AddTimeout counts an empty read poll.
func (s *Stats) AddTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Timeouts++
}

// AddFrame counts a decoded motion frame with its published and filtered
// pose counts.
func (s *Stats) AddFrame(poses, filtered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Frames++
	s.total.Poses += int64(poses)
	s.total.Filtered += int64(filtered)
}

// Snapshot returns the cumulative counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// LogStats logs per-second rates since the previous call. Nothing is logged
// for an idle interval.
func (s *Stats) LogStats(log *logrus.Entry, now time.Time) {
	s.mu.Lock()
	cur, prev := s.total, s.last
	duration := now.Sub(s.lastLog)
	s.last = cur
	s.lastLog = now
	s.mu.Unlock()

	datagrams := cur.Datagrams - prev.Datagrams
	dropped := cur.Dropped - prev.Dropped
	if (datagrams == 0 && dropped == 0) || duration <= 0 {
		return
	}

	secs := duration.Seconds()
	msg := fmt.Sprintf("NatNet stats (/sec): %.1f datagrams, %.1f frames, %.1f poses, %.3f MB",
		float64(datagrams)/secs,
		float64(cur.Frames-prev.Frames)/secs,
		float64(cur.Poses-prev.Poses)/secs,
		float64(cur.Bytes-prev.Bytes)/secs/(1024*1024))
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", dropped)
	}
	if unsupported := cur.Unsupported - prev.Unsupported; unsupported > 0 {
		msg += fmt.Sprintf(", %d unsupported", unsupported)
	}
	log.Info(msg)
}
