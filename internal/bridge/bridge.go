// Package bridge runs the receive loop and the health ticker that turn a
// NatNet datagram stream into pose and diagnostic output.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/network"
	"github.com/banshee-data/mocap.bridge/internal/timeutil"
)

// Defaults for Config.
const (
	DefaultMaxGap        = 10 * time.Millisecond
	DefaultTickInterval  = 500 * time.Millisecond
	DefaultStatsInterval = time.Minute
)

// DatagramSource yields one complete UDP payload per call. Receive should
// return within a short poll interval; an expired poll is reported with an
// error for which network.IsTimeout is true. io.EOF ends the run.
type DatagramSource interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Forwarder re-sends raw datagrams. It must not retain the slice.
type Forwarder interface {
	Forward(packet []byte)
}

// Config configures a Bridge. Zero values select the defaults.
type Config struct {
	Decoder       *natnet.Decoder
	WindowSize    int
	MaxGap        time.Duration
	TickInterval  time.Duration
	StatsInterval time.Duration
	// BodyFilter limits published poses to these target frames.
	BodyFilter []string
	Clock      timeutil.Clock
	Relay      Forwarder
}

// Bridge owns the health window and connects a datagram source to the pose
// and diagnostics sinks.
type Bridge struct {
	cfg     Config
	source  DatagramSource
	poses   PoseSink
	diag    DiagnosticsSink
	decoder *natnet.Decoder
	clock   timeutil.Clock
	window  *health.Window
	stats   *Stats
	filter  map[string]struct{}
	log     *logrus.Entry

	// silent is only touched by the receive loop.
	silent bool
}

// New creates a Bridge. The health window is pre-filled with the current
// clock time.
func New(cfg Config, source DatagramSource, poses PoseSink, diag DiagnosticsSink) *Bridge {
	if cfg.Decoder == nil {
		cfg.Decoder = natnet.NewDecoder(natnet.DecoderConfig{})
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = health.DefaultCapacity
	}
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = DefaultMaxGap
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if poses == nil {
		poses = MultiPoseSink()
	}
	if diag == nil {
		diag = MultiDiagnosticsSink()
	}

	var filter map[string]struct{}
	if len(cfg.BodyFilter) > 0 {
		filter = make(map[string]struct{}, len(cfg.BodyFilter))
		for _, name := range cfg.BodyFilter {
			filter[name] = struct{}{}
		}
	}

	start := cfg.Clock.Now()
	return &Bridge{
		cfg:     cfg,
		source:  source,
		poses:   poses,
		diag:    diag,
		decoder: cfg.Decoder,
		clock:   cfg.Clock,
		window:  health.NewWindow(cfg.WindowSize, start),
		stats:   NewStats(start),
		filter:  filter,
		log:     monitoring.Component("bridge"),
	}
}

// Stats returns the receive-path counters.
func (b *Bridge) Stats() *Stats { return b.stats }

// Window returns the health window.
func (b *Bridge) Window() *health.Window { return b.window }

// Status evaluates the health window now.
func (b *Bridge) Status() health.Status {
	return b.window.Status(b.clock.Now(), b.cfg.MaxGap)
}

// Run receives and publishes until ctx is cancelled, the source is
// exhausted, or the source's socket is closed. A cancelled ctx returns
// ctx.Err(); an exhausted source returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.tickLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.statsLoop(ctx)
	}()

	err := b.receiveLoop(ctx)
	cancel()
	wg.Wait()

	// A final evaluation so sinks see the end state of a finite replay.
	if err == nil {
		b.diag.PublishStatus(b.Status())
	}
	return err
}

func (b *Bridge) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.log.Info("receive loop stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		data, err := b.source.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				b.log.Info("datagram source exhausted")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case network.IsTimeout(err):
				b.noteSilence()
			case errors.Is(err, net.ErrClosed):
				return err
			default:
				b.log.Warnf("datagram receive error: %v", err)
			}
			continue
		}
		b.handleDatagram(data)
	}
}

func (b *Bridge) noteSilence() {
	b.stats.AddTimeout()
	if b.silent {
		b.log.Debug("still no NatNet data")
		return
	}
	b.silent = true
	b.log.Warn("no NatNet data received within the read timeout")
}

// handleDatagram decodes one datagram. Only a decoded motion frame counts
// toward liveness.
func (b *Bridge) handleDatagram(data []byte) {
	b.silent = false
	b.stats.AddDatagram(len(data))
	if b.cfg.Relay != nil {
		b.cfg.Relay.Forward(data)
	}

	now := b.clock.Now()
	stamp := now
	if timed, ok := b.source.(interface{ PacketTime() time.Time }); ok {
		if t := timed.PacketTime(); !t.IsZero() {
			stamp = t
		}
	}

	frame, err := b.decoder.Decode(data, stamp)
	if err != nil {
		b.stats.AddDropped()
		b.log.Warnf("dropping datagram (%d bytes): %v", len(data), err)
		return
	}
	if !frame.IsMotionFrame() {
		b.stats.AddUnsupported()
		b.log.Debugf("ignoring NatNet message type %d", frame.MessageType)
		return
	}

	b.window.Record(now)

	published, filtered := b.applyFilter(frame.Poses)
	frame.Poses = published
	b.stats.AddFrame(len(published), filtered)
	b.poses.PublishPoses(frame)
}

func (b *Bridge) applyFilter(poses []natnet.PoseTransform) ([]natnet.PoseTransform, int) {
	if b.filter == nil {
		return poses, 0
	}
	kept := poses[:0]
	for _, p := range poses {
		if _, ok := b.filter[p.TargetFrame]; ok {
			kept = append(kept, p)
		}
	}
	return kept, len(poses) - len(kept)
}

func (b *Bridge) tickLoop(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			b.diag.PublishStatus(b.Status())
		}
	}
}

func (b *Bridge) statsLoop(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			b.stats.LogStats(b.log, b.clock.Now())
		}
	}
}
