package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mocap.bridge/internal/network"
)

type replayOptions struct {
	sinkOptions
	port  int
	speed float64
}

func newReplayCmd(global *globalOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Bridge NatNet frames from a pcap or pcapng capture",
		Long: `Replay the NatNet datagrams of a packet capture through the bridge.

Poses are stamped with their capture time. Replay is paced against the
capture timestamps; --speed 0 replays as fast as possible.

Examples:
  mocapbridge replay session.pcapng
  mocapbridge replay session.pcap --speed 4 --record replay.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			port := cfg.Network.Port
			if cmd.Flags().Changed("port") {
				port = opts.port
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			src, err := network.OpenPCAP(network.PCAPConfig{
				Path:  args[0],
				Port:  port,
				Speed: opts.speed,
			})
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runPipeline(ctx, pipeline{
				cfg:    cfg,
				source: src,
				label:  args[0],
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.port, "port", 0, "only replay UDP datagrams to this port (0 keeps all; default from config)")
	f.Float64Var(&opts.speed, "speed", 1.0, "replay speed relative to capture time")
	opts.register(cmd)
	return cmd
}
