package health

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level is the diagnostic verdict for the stream.
type Level int

const (
	// LevelWaiting means no frame has been received yet.
	LevelWaiting Level = iota
	// LevelOK means frames arrive within the configured gap.
	LevelOK
	// LevelDegraded means the average gap exceeds the configured maximum.
	LevelDegraded
)

func (l Level) String() string {
	switch l {
	case LevelWaiting:
		return "WAITING"
	case LevelOK:
		return "OK"
	case LevelDegraded:
		return "DEGRADED"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText renders the level name, so JSON and YAML output stay readable.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Status is one health evaluation. It is computed fresh on every tick.
type Status struct {
	Level      Level         `json:"level"`
	Message    string        `json:"message"`
	AverageGap time.Duration `json:"-"`
	Frames     uint64        `json:"frames"`
	Stamp      time.Time     `json:"stamp"`
}

// Rate is the frame rate implied by AverageGap, in frames per second.
// It is zero while waiting or when the gap is not positive.
func (s Status) Rate() float64 {
	if s.Level == LevelWaiting || s.AverageGap <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.AverageGap)
}

// Healthy reports whether the stream is OK.
func (s Status) Healthy() bool {
	return s.Level == LevelOK
}

// MarshalJSON adds the gap in milliseconds and the derived rate.
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return json.Marshal(struct {
		plain
		AverageGapMs float64 `json:"average_gap_ms"`
		RateHz       float64 `json:"rate_hz"`
	}{
		plain:        plain(s),
		AverageGapMs: float64(s.AverageGap) / float64(time.Millisecond),
		RateHz:       s.Rate(),
	})
}

func waitingStatus(now time.Time) Status {
	return Status{
		Level:   LevelWaiting,
		Message: "waiting for the first motion frame",
		Stamp:   now,
	}
}

func classify(now time.Time, gap, maxGap time.Duration, frames uint64) Status {
	s := Status{
		AverageGap: gap,
		Frames:     frames,
		Stamp:      now,
	}
	if gap <= maxGap {
		s.Level = LevelOK
		s.Message = fmt.Sprintf("frames arriving normally: average gap %v (%.1f Hz)", gap, s.Rate())
	} else {
		s.Level = LevelDegraded
		s.Message = fmt.Sprintf("frames arriving too slowly: average gap %v exceeds %v (%.1f Hz)", gap, maxGap, s.Rate())
	}
	return s
}
