package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.bridge/internal/bridge"
	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/recorder"
)

var stamp = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type fixedStats struct{ snap bridge.StatsSnapshot }

func (f fixedStats) Snapshot() bridge.StatsSnapshot { return f.snap }

func testFrame() natnet.Frame {
	return natnet.Frame{
		MessageType: natnet.MessageFrameOfData,
		FrameNumber: 42,
		Poses: []natnet.PoseTransform{
			{SourceFrame: "map", TargetFrame: "rover", BodyID: 2, Translation: r3.Vec{X: -1}, Rotation: quat.Number{Real: 1}, Stamp: stamp},
			{SourceFrame: "map", TargetFrame: "drone", BodyID: 1, Translation: r3.Vec{X: 1, Y: 2, Z: 3}, Rotation: quat.Number{Real: 0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5}, MeanError: 0.5, Stamp: stamp},
		},
	}
}

func newTestServer(board *Board) *Server {
	return NewServer(board, fixedStats{bridge.StatsSnapshot{Datagrams: 10, Frames: 9, Dropped: 1, Since: stamp}}, nil)
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestBoard_KeepsLatestPosePerBody(t *testing.T) {
	b := NewBoard()
	assert.Equal(t, health.LevelWaiting, b.Status().Level)
	assert.Empty(t, b.Poses())

	b.PublishPoses(testFrame())
	next := testFrame()
	next.FrameNumber = 43
	next.Poses = next.Poses[:1]
	next.Poses[0].Translation = r3.Vec{X: -2}
	b.PublishPoses(next)

	got := b.Poses()
	want := []Pose{
		{Parent: "map", Child: "drone", BodyID: 1, FrameNumber: 42, Translation: [3]float64{1, 2, 3}, Rotation: [4]float64{0.5, 0.5, 0.5, 0.5}, MeanError: 0.5, Stamp: stamp},
		{Parent: "map", Child: "rover", BodyID: 2, FrameNumber: 43, Translation: [3]float64{-2, 0, 0}, Rotation: [4]float64{0, 0, 0, 1}, Stamp: stamp},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Poses() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(43), b.LastFrame())

	_, ok := b.Pose("missing")
	assert.False(t, ok)
}

func TestHealth_StatusCodes(t *testing.T) {
	board := NewBoard()
	h := newTestServer(board).Handler()

	rec, body := get(t, h, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "WAITING", body["level"])

	board.PublishStatus(health.Status{Level: health.LevelOK, AverageGap: 8 * time.Millisecond, Frames: 20, Stamp: stamp})
	rec, body = get(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["level"])
	assert.InDelta(t, 125.0, body["rate_hz"], 1e-9)
	assert.InDelta(t, 8.0, body["average_gap_ms"], 1e-9)

	board.PublishStatus(health.Status{Level: health.LevelDegraded, AverageGap: 50 * time.Millisecond, Stamp: stamp})
	rec, body = get(t, h, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEGRADED", body["level"])
}

func TestStats(t *testing.T) {
	rec, body := get(t, newTestServer(NewBoard()).Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.0, body["datagrams"])
	assert.Equal(t, 9.0, body["frames"])
	assert.Equal(t, 1.0, body["dropped"])
}

func TestPoses(t *testing.T) {
	board := NewBoard()
	board.PublishPoses(testFrame())
	h := newTestServer(board).Handler()

	rec, body := get(t, h, "/api/poses")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.0, body["frame_number"])
	assert.Len(t, body["poses"], 2)

	rec, body = get(t, h, "/api/poses?body=drone")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "drone", body["child"])
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, body["translation"])

	rec, _ = get(t, h, "/api/poses?body=ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(NewBoard()).Handler()
	for _, path := range []string{"/api/health", "/api/stats", "/api/poses", "/api/sessions"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"), path)
	}
}

func TestSessions(t *testing.T) {
	rec, _ := get(t, newTestServer(NewBoard()).Handler(), "/api/sessions")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	r, err := recorder.Open(recorder.Config{Path: filepath.Join(t.TempDir(), "mocap.db"), Source: "test", SourceFrame: "map"})
	require.NoError(t, err)
	defer r.Close()

	s := NewServer(NewBoard(), fixedStats{}, r.DB())
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []recorder.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, r.SessionID(), sessions[0].ID)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer(NewBoard()).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	err := newTestServer(NewBoard()).ListenAndServe(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
