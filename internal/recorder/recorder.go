// Package recorder persists poses and health statuses to SQLite, grouped
// into sessions, for offline analysis.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
)

// DefaultQueueSize is the number of pending writes buffered before new
// records are dropped.
const DefaultQueueSize = 1024

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Config configures a Recorder.
type Config struct {
	Path        string
	QueueSize   int
	Source      string // describes the datagram source, e.g. a group address
	SourceFrame string
}

type record struct {
	frame  *natnet.Frame
	status *health.Status
}

// Recorder writes frames and statuses on a background goroutine so the
// receive path never waits on disk. It implements both bridge sinks.
type Recorder struct {
	db      *sql.DB
	session string
	queue   chan record
	log     *logrus.Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Uint64
	written atomic.Uint64
}

// Open opens (creating if needed) the database at cfg.Path, migrates it and
// starts a new session.
func Open(cfg Config) (*Recorder, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}
	// One connection keeps WAL writes serialised and in-memory databases
	// shared.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	session := uuid.New().String()
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, source, source_frame, started_at) VALUES (?, ?, ?, ?)`,
		session, cfg.Source, cfg.SourceFrame, time.Now().UnixNano(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		db:      db,
		session: session,
		queue:   make(chan record, queueSize),
		log:     monitoring.Component("recorder").WithField("session", session),
	}
	r.wg.Add(1)
	go r.writeLoop()
	r.log.Infof("recording to %s", cfg.Path)
	return r, nil
}

// SessionID returns the id of the session being recorded.
func (r *Recorder) SessionID() string { return r.session }

// DB exposes the underlying database for queries.
func (r *Recorder) DB() *sql.DB { return r.db }

// Dropped returns the number of records lost to a full queue or a failed
// write.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of records committed.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// PublishPoses queues a frame's poses for writing. Frames without poses are
// not recorded.
func (r *Recorder) PublishPoses(frame natnet.Frame) {
	if len(frame.Poses) == 0 {
		return
	}
	r.enqueue(record{frame: &frame})
}

// PublishStatus queues a health status for writing.
func (r *Recorder) PublishStatus(status health.Status) {
	r.enqueue(record{status: &status})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for rec := range r.queue {
		var err error
		switch {
		case rec.frame != nil:
			err = r.writeFrame(*rec.frame)
		case rec.status != nil:
			err = r.writeStatus(*rec.status)
		}
		if err != nil {
			r.dropped.Add(1)
			r.log.Warnf("failed to record: %v", err)
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) writeFrame(frame natnet.Frame) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO poses (
			session_id, frame_number, body_id, parent_frame, child_frame,
			x, y, z, qx, qy, qz, qw, mean_error, stamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range frame.Poses {
		if _, err := stmt.Exec(
			r.session, frame.FrameNumber, p.BodyID, p.SourceFrame, p.TargetFrame,
			p.Translation.X, p.Translation.Y, p.Translation.Z,
			p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real,
			p.MeanError, p.Stamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert pose %s: %w", p.TargetFrame, err)
		}
	}
	return tx.Commit()
}

func (r *Recorder) writeStatus(s health.Status) error {
	_, err := r.db.Exec(`
		INSERT INTO health_statuses (session_id, level, message, average_gap_ns, frames, stamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.session, s.Level.String(), s.Message, int64(s.AverageGap), int64(s.Frames), s.Stamp.UnixNano(),
	)
	return err
}

// Close flushes queued records, ends the session and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()

	_, endErr := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UnixNano(), r.session)
	if endErr != nil {
		r.log.Warnf("failed to end session: %v", endErr)
	}
	r.log.Infof("recorder closed: %d written, %d dropped", r.Written(), r.Dropped())
	return r.db.Close()
}

// Session describes one recording session.
type Session struct {
	ID          string     `json:"session_id"`
	Source      string     `json:"source"`
	SourceFrame string     `json:"source_frame"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Poses       int64      `json:"poses"`
}

// Sessions lists recorded sessions, newest first.
func Sessions(ctx context.Context, db *sql.DB) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.source, s.source_frame, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM poses p WHERE p.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Source, &s.SourceFrame, &started, &ended, &s.Poses); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PoseRow is one recorded pose.
type PoseRow struct {
	FrameNumber int32
	BodyID      int32
	Parent      string
	Child       string
	X, Y, Z     float64
	QX, QY, QZ  float64
	QW          float64
	MeanError   float64
	Stamp       time.Time
}

// Poses returns up to limit poses of a session in insertion order. An
// empty child matches every body.
func Poses(ctx context.Context, db *sql.DB, session, child string, limit int) ([]PoseRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT frame_number, body_id, parent_frame, child_frame,
		       x, y, z, qx, qy, qz, qw, mean_error, stamp
		FROM poses
		WHERE session_id = ? AND (? = '' OR child_frame = ?)
		ORDER BY pose_id
		LIMIT ?`, session, child, child, limit)
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var p PoseRow
		var stamp int64
		if err := rows.Scan(&p.FrameNumber, &p.BodyID, &p.Parent, &p.Child,
			&p.X, &p.Y, &p.Z, &p.QX, &p.QY, &p.QZ, &p.QW, &p.MeanError, &stamp); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		p.Stamp = time.Unix(0, stamp)
		out = append(out, p)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of recorded statuses per level for a
// session.
func StatusCounts(ctx context.Context, db *sql.DB, session string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM health_statuses WHERE session_id = ? GROUP BY level`, session)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[level] = n
	}
	return out, rows.Err()
}
