package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.bridge/internal/api"
	"github.com/banshee-data/mocap.bridge/internal/health"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/recorder"
)

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func resetLogger(t *testing.T) {
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

func writeSynthCapture(t *testing.T, frames int, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orbit.pcap")
	args := append([]string{"synth", "--pcap", path, "--frames", fmt.Sprint(frames)}, extra...)
	out, err := execute(context.Background(), args...)
	require.NoError(t, err, out)
	return path
}

func TestConfigCmd_PrintsEffectiveConfig(t *testing.T) {
	t.Setenv("MOCAP_HEALTH_MAX_GAP", "25ms")
	out, err := execute(context.Background(), "config", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "multicast_address: 239.255.42.99")
	assert.Contains(t, out, "max_gap: 25ms")
	assert.Contains(t, out, "level: debug")
}

func TestConfigCmd_BadFile(t *testing.T) {
	_, err := execute(context.Background(), "config", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSynth_RequiresOutput(t *testing.T) {
	_, err := execute(context.Background(), "synth")
	assert.ErrorContains(t, err, "--pcap or --send")
}

func TestOrbit_FramesDecodeToUnitPoses(t *testing.T) {
	o := orbit{bodies: []string{"drone", "rover"}, rate: 120, radius: 2}
	data, err := natnet.NewEncoder(nil).EncodeMotionFrame(o.frame(17))
	require.NoError(t, err)

	frame, err := natnet.NewDecoder(natnet.DecoderConfig{}).Decode(data, time.Now())
	require.NoError(t, err)
	require.Len(t, frame.Poses, 2)
	assert.Equal(t, int32(17), frame.FrameNumber)
	for i, p := range frame.Poses {
		assert.Equal(t, o.bodies[i], p.TargetFrame)
		assert.True(t, natnet.IsUnit(p.Rotation))
		r := p.Translation.X*p.Translation.X + p.Translation.Y*p.Translation.Y
		assert.InDelta(t, 4.0, r, 1e-5)
	}
}

func TestSynthesize_DropsFrames(t *testing.T) {
	start := time.Unix(1000, 0)
	opts := &synthOptions{bodies: []string{"drone"}, frames: 5, rate: 100, dropped: []int{1, 3}}
	datagrams, err := synthesize(opts, natnet.NewEncoder(nil), start)
	require.NoError(t, err)
	require.Len(t, datagrams, 3)
	assert.Equal(t, start, datagrams[0].Timestamp)
	assert.Equal(t, start.Add(20*time.Millisecond), datagrams[1].Timestamp)
	assert.Equal(t, start.Add(40*time.Millisecond), datagrams[2].Timestamp)
}

func TestDecode_SingleHexDatagram(t *testing.T) {
	o := orbit{bodies: []string{"drone"}, rate: 120, radius: 1}
	data, err := natnet.NewEncoder(nil).EncodeMotionFrame(o.frame(3))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "frame.hex")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(data)+"\n"), 0o644))

	out, err := execute(context.Background(), "decode", "--hex", path)
	require.NoError(t, err)
	assert.Contains(t, out, "frame 3")
	assert.Contains(t, out, "map -> drone")
}

func TestDecode_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, []byte{7, 0, 40}, 0o644))

	_, err := execute(context.Background(), "decode", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, natnet.ErrTruncated)
	assert.Contains(t, err.Error(), "truncated datagram")
}

func TestDecode_Capture(t *testing.T) {
	path := writeSynthCapture(t, 10, "--drop", "3")
	out, err := execute(context.Background(), "decode", "--pcap", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# 9 frames decoded, 0 datagrams failed")
	assert.Regexp(t, `(?m)^frame 4\s`, out)
	assert.NotRegexp(t, `(?m)^frame 3\s`, out)
}

func TestReplay_RecordsSession(t *testing.T) {
	resetLogger(t)
	capture := writeSynthCapture(t, 12, "--body", "drone", "--body", "rover")
	db := filepath.Join(t.TempDir(), "replay.db")

	_, err := execute(context.Background(), "replay", capture, "--speed", "0", "--no-http", "--record", db, "--body", "rover")
	require.NoError(t, err)

	rec, err := recorder.Open(recorder.Config{Path: db})
	require.NoError(t, err)
	defer rec.Close()

	sessions, err := recorder.Sessions(context.Background(), rec.DB())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	replayed := sessions[1]
	assert.Equal(t, capture, replayed.Source)
	assert.Equal(t, int64(12), replayed.Poses)

	poses, err := recorder.Poses(context.Background(), rec.DB(), replayed.ID, "drone", 0)
	require.NoError(t, err)
	assert.Empty(t, poses, "drone is filtered out")
}

func TestReplay_MissingFile(t *testing.T) {
	resetLogger(t)
	_, err := execute(context.Background(), "replay", filepath.Join(t.TempDir(), "none.pcap"), "--no-http")
	assert.Error(t, err)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().String()
}

func TestRun_BridgesLiveDatagrams(t *testing.T) {
	resetLogger(t)
	port := freeUDPPort(t)
	httpAddr := freeTCPAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, "run", "--group", "127.0.0.1", "--port", fmt.Sprint(port), "--listen", httpAddr)
		done <- err
	}()

	opts := &synthOptions{bodies: []string{"drone"}, frames: 5, rate: 100}
	datagrams, err := synthesize(opts, natnet.NewEncoder(nil), time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if _, err := sendDatagrams(ctx, fmt.Sprintf("127.0.0.1:%d", port), datagrams); err != nil {
			return false
		}
		resp, err := http.Get("http://" + httpAddr + "/api/poses?body=drone")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestStatusCmd(t *testing.T) {
	board := api.NewBoard()
	srv := httptest.NewServer(api.NewServer(board, nil, nil).ServeMux())
	defer srv.Close()

	out, err := execute(context.Background(), "status", "--url", srv.URL)
	assert.ErrorContains(t, err, "stream is WAITING")
	assert.True(t, strings.HasPrefix(out, "WAITING:"), out)

	board.PublishStatus(health.Status{Level: health.LevelOK, Message: "receiving frames", AverageGap: 8 * time.Millisecond, Frames: 10})
	out, err = execute(context.Background(), "status", "--url", srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "OK: receiving frames (125.0 Hz, 10 frames)\n", out)
}

func TestStatusCmd_Unreachable(t *testing.T) {
	_, err := execute(context.Background(), "status", "--url", "http://127.0.0.1:1", "--timeout", "500ms")
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8089", baseURL(":8089"))
	assert.Equal(t, "http://10.0.0.2:9000", baseURL("10.0.0.2:9000"))
}
