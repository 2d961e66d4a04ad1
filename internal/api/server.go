// Package api serves the bridge status over HTTP.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/bridge"
	"github.com/banshee-data/mocap.bridge/internal/httputil"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/recorder"
)

const shutdownTimeout = 5 * time.Second

// StatsProvider reports receive-path counters.
type StatsProvider interface {
	Snapshot() bridge.StatsSnapshot
}

// Server exposes the status board, packet counters and recorded sessions.
type Server struct {
	board *Board
	stats StatsProvider
	db    *sql.DB // nil when recording is disabled
	log   *logrus.Entry
}

// NewServer creates a Server. db may be nil.
func NewServer(board *Board, stats StatsProvider, db *sql.DB) *Server {
	return &Server{
		board: board,
		stats: stats,
		db:    db,
		log:   monitoring.Component("http"),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, URI, status and duration of each request.
func LoggingMiddleware(log *logrus.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.WithFields(logrus.Fields{
			"method":      r.Method,
			"uri":         r.RequestURI,
			"status":      lrw.statusCode,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("request")
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/poses", s.listPoses)
	mux.HandleFunc("/api/sessions", s.listSessions)
	return mux
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.log, s.ServeMux())
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP status API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("HTTP server shutdown error: %v", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// showHealth returns the latest status, with 503 unless the stream is OK.
func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	status := s.board.Status()
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.stats.Snapshot())
}

// listPoses returns every body's latest pose, or one body's with ?body=.
func (s *Server) listPoses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if name := r.URL.Query().Get("body"); name != "" {
		p, ok := s.board.Pose(name)
		if !ok {
			httputil.WriteJSONError(w, http.StatusNotFound, "no pose for body "+name)
			return
		}
		httputil.WriteJSONOK(w, p)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"frame_number": s.board.LastFrame(),
		"poses":        s.board.Poses(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	sessions, err := recorder.Sessions(r.Context(), s.db)
	if err != nil {
		s.log.Warnf("failed to list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []recorder.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}
