package api

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
)

// Pose is the JSON view of one body's latest pose.
type Pose struct {
	Parent      string     `json:"parent"`
	Child       string     `json:"child"`
	BodyID      int32      `json:"body_id"`
	FrameNumber int32      `json:"frame_number"`
	Translation [3]float64 `json:"translation"`
	// Rotation is ordered x, y, z, w.
	Rotation  [4]float64 `json:"rotation"`
	MeanError float32    `json:"mean_error"`
	Stamp     time.Time  `json:"stamp"`
}

// Board keeps the latest health status and the latest pose per body. It is
// both a pose sink and a diagnostics sink.
type Board struct {
	mu     sync.RWMutex
	status health.Status
	poses  map[string]Pose
	frame  int32
}

// NewBoard creates a board that reports WAITING until the first status.
func NewBoard() *Board {
	return &Board{
		status: health.Status{Level: health.LevelWaiting, Message: "bridge starting"},
		poses:  make(map[string]Pose),
	}
}

// PublishPoses records the latest pose of each body in frame.
func (b *Board) PublishPoses(frame natnet.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = frame.FrameNumber
	for _, p := range frame.Poses {
		b.poses[p.TargetFrame] = Pose{
			Parent:      p.SourceFrame,
			Child:       p.TargetFrame,
			BodyID:      p.BodyID,
			FrameNumber: frame.FrameNumber,
			Translation: [3]float64{p.Translation.X, p.Translation.Y, p.Translation.Z},
			Rotation:    [4]float64{p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real},
			MeanError:   p.MeanError,
			Stamp:       p.Stamp,
		}
	}
}

// PublishStatus records the latest health status.
func (b *Board) PublishStatus(status health.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

// Status returns the latest health status.
func (b *Board) Status() health.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Poses returns the latest pose of every body, sorted by name.
func (b *Board) Poses() []Pose {
	b.mu.RLock()
	out := make([]Pose, 0, len(b.poses))
	for _, p := range b.poses {
		out = append(out, p)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Child < out[j].Child })
	return out
}

// Pose returns the latest pose of the named body.
func (b *Board) Pose(child string) (Pose, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.poses[child]
	return p, ok
}

// LastFrame returns the number of the latest published frame.
func (b *Board) LastFrame() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frame
}
