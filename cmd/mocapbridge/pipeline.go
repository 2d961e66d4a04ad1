package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/mocap.bridge/internal/api"
	"github.com/banshee-data/mocap.bridge/internal/bridge"
	"github.com/banshee-data/mocap.bridge/internal/config"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/network"
	"github.com/banshee-data/mocap.bridge/internal/recorder"
	"github.com/banshee-data/mocap.bridge/internal/timeutil"
)

// pipeline wires a datagram source to the configured sinks: the log, the
// HTTP status board, and optionally the recorder and the relay.
type pipeline struct {
	cfg    *config.Config
	source bridge.DatagramSource
	// label describes the source in recorded sessions.
	label string
	clock timeutil.Clock
}

// runPipeline blocks until the bridge stops, then shuts down the HTTP API
// and flushes the recorder.
func runPipeline(ctx context.Context, p pipeline) error {
	cfg := p.cfg
	log := monitoring.Component("mocapbridge")

	order, err := cfg.Decoder.Order()
	if err != nil {
		return err
	}
	decoder := natnet.NewDecoder(natnet.DecoderConfig{
		SourceFrame:       cfg.Decoder.SourceFrame,
		MaxMarkersPerBody: cfg.Decoder.MaxMarkersPerBody,
		ByteOrder:         order,
	})

	board := api.NewBoard()
	logSink := &bridge.LogSink{
		Name:       cfg.Health.Name,
		HardwareID: cfg.Health.HardwareID,
		Log:        monitoring.Component("health"),
	}
	poseSinks := []bridge.PoseSink{board, logSink}
	diagSinks := []bridge.DiagnosticsSink{board, logSink}

	var db *sql.DB
	if cfg.Recorder.Enabled {
		rec, err := recorder.Open(recorder.Config{
			Path:        cfg.Recorder.Path,
			QueueSize:   cfg.Recorder.QueueSize,
			Source:      p.label,
			SourceFrame: decoder.SourceFrame(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warnf("failed to close recorder: %v", err)
			}
		}()
		db = rec.DB()
		poseSinks = append(poseSinks, rec)
		diagSinks = append(diagSinks, rec)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bcfg := bridge.Config{
		Decoder:       decoder,
		WindowSize:    cfg.Health.WindowSize,
		MaxGap:        cfg.Health.MaxGap,
		TickInterval:  cfg.Health.TickInterval,
		StatsInterval: cfg.Bridge.StatsInterval,
		BodyFilter:    cfg.Bridge.BodyFilter,
		Clock:         p.clock,
	}
	if cfg.Relay.Enabled {
		relay, err := network.NewRelay(cfg.Relay.Address, cfg.Relay.QueueSize, cfg.Bridge.StatsInterval)
		if err != nil {
			return err
		}
		defer relay.Close()
		relay.Start(runCtx)
		bcfg.Relay = relay
	}

	b := bridge.New(bcfg,
		p.source,
		bridge.MultiPoseSink(poseSinks...),
		bridge.MultiDiagnosticsSink(diagSinks...),
	)

	var wg sync.WaitGroup
	httpErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		srv := api.NewServer(board, b.Stats(), db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(runCtx, cfg.HTTP.Listen); err != nil {
				httpErr <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	log.Infof("bridging NatNet frames from %s", p.label)
	runErr := b.Run(runCtx)
	cancel()
	wg.Wait()

	select {
	case err := <-httpErr:
		return err
	default:
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	snap := b.Stats().Snapshot()
	log.Infof("bridge stopped: %d datagrams, %d frames, %d poses, %d dropped",
		snap.Datagrams, snap.Frames, snap.Poses, snap.Dropped)
	return nil
}
