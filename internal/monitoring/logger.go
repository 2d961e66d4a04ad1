// Package monitoring owns the process logger.
//
// Every component logs through a logrus entry tagged with its name. Output
// always goes to stdout and optionally to a rotated file.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banshee-data/mocap.bridge/internal/config"
)

var (
	mu     sync.RWMutex
	logger = newDefaultLogger()
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the process logger. Passing nil installs a logger that
// discards everything.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = logrus.New()
		l.SetOutput(io.Discard)
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

// Logf logs a formatted message at info level.
func Logf(format string, v ...interface{}) {
	Logger().Infof(format, v...)
}

// Configure builds the process logger from cfg. The returned closer
// releases the log file, if any.
func Configure(cfg config.LogConfig) (io.Closer, error) {
	l, closer, err := New(cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	SetLogger(l)
	return closer, nil
}

// New builds a logger writing to stdout and, when cfg.File.Path is set, to
// a rotated file.
func New(cfg config.LogConfig, stdout io.Writer) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}

	l := logrus.New()
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	writers := []io.Writer{stdout}
	if cfg.File.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, file)
		closer = file
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
