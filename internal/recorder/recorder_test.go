package recorder

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
)

var stamp = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func openTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mocap.db")
	r, err := Open(Config{Path: path, Source: "239.255.42.99:1511", SourceFrame: "map"})
	require.NoError(t, err)
	return r, path
}

func testFrame(number int32) natnet.Frame {
	return natnet.Frame{
		MessageType: natnet.MessageFrameOfData,
		FrameNumber: number,
		Poses: []natnet.PoseTransform{
			{
				SourceFrame: "map",
				TargetFrame: "drone",
				BodyID:      1,
				Translation: r3.Vec{X: 1, Y: 2, Z: 3},
				Rotation:    quat.Number{Real: 1},
				MeanError:   0.25,
				Stamp:       stamp,
			},
			{
				SourceFrame: "map",
				TargetFrame: "rover",
				BodyID:      2,
				Translation: r3.Vec{X: -1},
				Rotation:    quat.Number{Real: 0, Kmag: 1},
				Stamp:       stamp,
			},
		},
	}
}

func TestRecorder_WritesPosesAndStatuses(t *testing.T) {
	r, path := openTestRecorder(t)
	_, err := uuid.Parse(r.SessionID())
	require.NoError(t, err)

	r.PublishPoses(testFrame(1))
	r.PublishPoses(testFrame(2))
	r.PublishPoses(natnet.Frame{MessageType: natnet.MessageFrameOfData, FrameNumber: 3})
	r.PublishStatus(health.Status{Level: health.LevelWaiting, Stamp: stamp})
	r.PublishStatus(health.Status{Level: health.LevelOK, AverageGap: 8 * time.Millisecond, Frames: 2, Stamp: stamp})
	require.NoError(t, r.Close())
	assert.Equal(t, uint64(4), r.Written())
	assert.Zero(t, r.Dropped())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	poses, err := Poses(ctx, db, r.SessionID(), "", 0)
	require.NoError(t, err)
	require.Len(t, poses, 4)
	assert.Equal(t, int32(1), poses[0].FrameNumber)
	assert.Equal(t, "drone", poses[0].Child)
	assert.Equal(t, "map", poses[0].Parent)
	assert.Equal(t, 3.0, poses[0].Z)
	assert.Equal(t, 1.0, poses[0].QW)
	assert.Equal(t, 0.25, poses[0].MeanError)
	assert.True(t, poses[0].Stamp.Equal(stamp))

	rover, err := Poses(ctx, db, r.SessionID(), "rover", 0)
	require.NoError(t, err)
	require.Len(t, rover, 2)
	assert.Equal(t, 1.0, rover[0].QZ)

	counts, err := StatusCounts(ctx, db, r.SessionID())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"WAITING": 1, "OK": 1}, counts)

	sessions, err := Sessions(ctx, db)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, r.SessionID(), sessions[0].ID)
	assert.Equal(t, "239.255.42.99:1511", sessions[0].Source)
	assert.Equal(t, int64(4), sessions[0].Poses)
	require.NotNil(t, sessions[0].EndedAt)
}

func TestRecorder_ReopenStartsNewSession(t *testing.T) {
	r, path := openTestRecorder(t)
	first := r.SessionID()
	require.NoError(t, r.Close())

	r2, err := Open(Config{Path: path, Source: "replay.pcap", SourceFrame: "map"})
	require.NoError(t, err)
	defer r2.Close()
	assert.NotEqual(t, first, r2.SessionID())

	sessions, err := Sessions(context.Background(), r2.DB())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRecorder_PublishAfterCloseIsIgnored(t *testing.T) {
	r, _ := openTestRecorder(t)
	require.NoError(t, r.Close())
	assert.NotPanics(t, func() {
		r.PublishPoses(testFrame(1))
		r.PublishStatus(health.Status{})
	})
	assert.NoError(t, r.Close())
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	r, _ := openTestRecorder(t)
	defer r.Close()

	// Hold the only connection so the writer blocks.
	conn, err := r.DB().Conn(context.Background())
	require.NoError(t, err)

	total := DefaultQueueSize + 50
	for i := 0; i < total; i++ {
		r.PublishStatus(health.Status{Stamp: stamp})
	}
	assert.Positive(t, r.Dropped())
	require.NoError(t, conn.Close())
}

func TestMigrations_UpDownUp(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, MigrateUp(db))
	version, _, err = MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, MigrateUp(db), "re-running is a no-op")

	require.NoError(t, MigrateDown(db))
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='poses'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, MigrateUp(db))
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "missing", "dir", "mocap.db")})
	assert.Error(t, err)
}
