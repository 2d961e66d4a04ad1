// Command mocapbridge receives OptiTrack NatNet motion frames, publishes
// rigid-body poses and reports stream health.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mocap.bridge/internal/config"
	"github.com/banshee-data/mocap.bridge/internal/monitoring"
	"github.com/banshee-data/mocap.bridge/internal/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "mocapbridge",
		Short: "Bridge OptiTrack NatNet motion capture into pose and health streams",
		Long: `mocapbridge listens to the NatNet multicast data stream of an OptiTrack
tracking server, decodes frame-of-data messages into rigid-body poses and
monitors the frame rate of the stream.

Poses and health statuses are logged, exposed over a small HTTP API and
optionally recorded to SQLite.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newReplayCmd(opts),
		newDecodeCmd(opts),
		newSynthCmd(opts),
		newConfigCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// load reads the configuration and applies the persistent overrides.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// setupLogging configures the process logger from cfg.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	closer, err := monitoring.Configure(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return closer, nil
}
