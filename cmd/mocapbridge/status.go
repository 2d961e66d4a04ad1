package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mocap.bridge/internal/httputil"
)

// remoteStatus mirrors the JSON served at /api/health.
type remoteStatus struct {
	Level        string  `json:"level"`
	Message      string  `json:"message"`
	Frames       uint64  `json:"frames"`
	AverageGapMs float64 `json:"average_gap_ms"`
	RateHz       float64 `json:"rate_hz"`
}

type statusOptions struct {
	url     string
	timeout time.Duration
}

func newStatusCmd(global *globalOptions) *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the health of a running bridge",
		Long: `Fetch /api/health from a running bridge and print the stream status.
Exits non-zero unless the stream is OK.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := opts.url
			if base == "" {
				cfg, err := global.load()
				if err != nil {
					return err
				}
				base = baseURL(cfg.HTTP.Listen)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var st remoteStatus
			code, err := httputil.GetJSON(ctx, http.DefaultClient, strings.TrimRight(base, "/")+"/api/health", &st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%.1f Hz, %d frames)\n", st.Level, st.Message, st.RateHz, st.Frames)
			if code != http.StatusOK {
				return fmt.Errorf("stream is %s", st.Level)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "base URL of the bridge (default from the configured listen address)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

// baseURL turns a listen address such as ":8089" into a local URL.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen
}
