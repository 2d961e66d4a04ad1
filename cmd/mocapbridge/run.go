package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mocap.bridge/internal/config"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/network"
)

// sinkOptions are the output flags shared by run and replay.
type sinkOptions struct {
	listen  string
	noHTTP  bool
	record  string
	relayTo string
	bodies  []string
}

func (o *sinkOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", "", "HTTP status API listen address")
	f.BoolVar(&o.noHTTP, "no-http", false, "disable the HTTP status API")
	f.StringVar(&o.record, "record", "", "record poses and health to this SQLite file")
	f.StringVar(&o.relayTo, "relay", "", "re-send raw datagrams to this UDP address")
	f.StringSliceVar(&o.bodies, "body", nil, "only publish these rigid bodies (repeatable)")
}

func (o *sinkOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.HTTP.Listen = o.listen
		cfg.HTTP.Enabled = true
	}
	if o.noHTTP {
		cfg.HTTP.Enabled = false
	}
	if flags.Changed("record") {
		cfg.Recorder.Path = o.record
		cfg.Recorder.Enabled = true
	}
	if flags.Changed("relay") {
		cfg.Relay.Address = o.relayTo
		cfg.Relay.Enabled = true
	}
	if flags.Changed("body") {
		cfg.Bridge.BodyFilter = o.bodies
	}
}

type runOptions struct {
	sinkOptions
	group string
	port  int
	iface string
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("group") {
		cfg.Network.MulticastAddress = o.group
	}
	if flags.Changed("port") {
		cfg.Network.Port = o.port
	}
	if flags.Changed("iface") {
		cfg.Network.Interface = o.iface
	}
	o.sinkOptions.apply(cmd, cfg)
	return cfg.Validate()
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Receive the live NatNet stream and bridge it",
		Long: `Join the NatNet multicast group and bridge frames until interrupted.

Examples:
  mocapbridge run                                  # defaults: 239.255.42.99:1511
  mocapbridge run -c bridge.yaml --iface eth1
  mocapbridge run --record session.db --body drone`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}

			closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			listener := network.NewListener(network.ListenerConfig{
				Address:         cfg.Network.GroupAddress(),
				ReadBuffer:      cfg.Network.ReadBuffer,
				ReadTimeout:     cfg.Network.ReadTimeout,
				MaxDatagramSize: cfg.Network.MaxDatagramSize,
				Interface:       cfg.Network.Interface,
			})
			if err := listener.Open(); err != nil {
				return err
			}
			defer listener.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = runPipeline(ctx, pipeline{
				cfg:    cfg,
				source: listener,
				label:  cfg.Network.GroupAddress(),
			})
			monitoring.Logf("graceful shutdown complete")
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.group, "group", "", "multicast group (or unicast address) to listen on")
	f.IntVar(&opts.port, "port", 0, "NatNet data port")
	f.StringVar(&opts.iface, "iface", "", "network interface for the multicast join")
	opts.register(cmd)
	return cmd
}
