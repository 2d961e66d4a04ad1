package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
)

// PoseSink receives every decoded motion frame, including frames with no
// valid bodies.
type PoseSink interface {
	PublishPoses(frame natnet.Frame)
}

// DiagnosticsSink receives one health status per tick.
type DiagnosticsSink interface {
	PublishStatus(status health.Status)
}

type multiPoseSink []PoseSink

func (m multiPoseSink) PublishPoses(frame natnet.Frame) {
	for _, s := range m {
		s.PublishPoses(frame)
	}
}

// MultiPoseSink fans frames out to every non-nil sink in order.
func MultiPoseSink(sinks ...PoseSink) PoseSink {
	out := make(multiPoseSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiDiagnosticsSink []DiagnosticsSink

func (m multiDiagnosticsSink) PublishStatus(status health.Status) {
	for _, s := range m {
		s.PublishStatus(status)
	}
}

// MultiDiagnosticsSink fans statuses out to every non-nil sink in order.
func MultiDiagnosticsSink(sinks ...DiagnosticsSink) DiagnosticsSink {
	out := make(multiDiagnosticsSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// LogSink writes poses at debug level and health transitions at info or
// warn level.
type LogSink struct {
	Name       string
	HardwareID string
	Log        *logrus.Entry

	last health.Level
	seen bool
}

// PublishPoses logs each pose at debug level.
func (l *LogSink) PublishPoses(frame natnet.Frame) {
	if !l.Log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for _, p := range frame.Poses {
		l.Log.WithFields(logrus.Fields{
			"frame":  frame.FrameNumber,
			"parent": p.SourceFrame,
			"child":  p.TargetFrame,
			"x":      p.Translation.X,
			"y":      p.Translation.Y,
			"z":      p.Translation.Z,
		}).Debug("pose")
	}
}

// PublishStatus logs level changes at info (warn when degraded) and
// repeats at debug.
func (l *LogSink) PublishStatus(status health.Status) {
	entry := l.Log.WithFields(logrus.Fields{
		"name":        l.Name,
		"hardware_id": l.HardwareID,
		"level":       status.Level.String(),
		"rate_hz":     status.Rate(),
	})
	if l.seen && status.Level == l.last {
		entry.Debug(status.Message)
		return
	}
	l.seen = true
	l.last = status.Level
	if status.Level == health.LevelDegraded {
		entry.Warn(status.Message)
		return
	}
	entry.Info(status.Message)
}
