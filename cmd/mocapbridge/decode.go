package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/network"
)

type decodeOptions struct {
	hex  bool
	pcap bool
	port int
}

func newDecodeCmd(global *globalOptions) *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode <datagram-file|->",
		Short: "Decode NatNet datagrams and print their poses",
		Long: `Decode a single raw NatNet datagram, or every datagram of a capture with
--pcap, and print the rigid-body poses it carries.

Examples:
  mocapbridge decode frame.bin
  xxd -p frame.bin | mocapbridge decode --hex -
  mocapbridge decode --pcap session.pcapng`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			order, err := cfg.Decoder.Order()
			if err != nil {
				return err
			}
			decoder := natnet.NewDecoder(natnet.DecoderConfig{
				SourceFrame:       cfg.Decoder.SourceFrame,
				MaxMarkersPerBody: cfg.Decoder.MaxMarkersPerBody,
				ByteOrder:         order,
			})

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			if opts.pcap {
				return decodeCapture(cmd.Context(), out, decoder, args[0], opts.port)
			}
			data, err := readDatagram(cmd.InOrStdin(), args[0], opts.hex)
			if err != nil {
				return err
			}
			frame, err := decoder.Decode(data, time.Now())
			if err != nil {
				return describeDecodeError(err)
			}
			printFrame(out, frame)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.hex, "hex", false, "input is hex text rather than raw bytes")
	f.BoolVar(&opts.pcap, "pcap", false, "input is a pcap or pcapng capture")
	f.IntVar(&opts.port, "port", 0, "with --pcap, only decode datagrams to this port")
	return cmd
}

func readDatagram(stdin io.Reader, path string, isHex bool) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !isHex {
		return data, nil
	}
	decoded, err := hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return decoded, nil
}

func decodeCapture(ctx context.Context, out io.Writer, decoder *natnet.Decoder, path string, port int) error {
	src, err := network.OpenPCAP(network.PCAPConfig{Path: path, Port: port})
	if err != nil {
		return err
	}
	defer src.Close()

	var frames, failed int
	for {
		data, err := src.Receive(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		frame, err := decoder.Decode(data, src.PacketTime())
		if err != nil {
			failed++
			fmt.Fprintf(out, "# %s: %v\n", src.PacketTime().Format(time.RFC3339Nano), describeDecodeError(err))
			continue
		}
		if !frame.IsMotionFrame() {
			continue
		}
		frames++
		printFrame(out, frame)
	}
	fmt.Fprintf(out, "# %d frames decoded, %d datagrams failed\n", frames, failed)
	return nil
}

func describeDecodeError(err error) error {
	switch {
	case errors.Is(err, natnet.ErrTruncated):
		return fmt.Errorf("truncated datagram: %w", err)
	case errors.Is(err, natnet.ErrMalformed):
		return fmt.Errorf("malformed datagram: %w", err)
	default:
		return err
	}
}

func printFrame(out io.Writer, frame natnet.Frame) {
	if !frame.IsMotionFrame() {
		fmt.Fprintf(out, "# message type %d (not a frame of data)\n", frame.MessageType)
		return
	}
	fmt.Fprintf(out, "frame %d\t%d poses\n", frame.FrameNumber, len(frame.Poses))
	for _, p := range frame.Poses {
		fmt.Fprintf(out, "  %s -> %s\t#%d\tt=(%.4f, %.4f, %.4f)\tq=(%.4f, %.4f, %.4f, %.4f)\terr=%.5f\n",
			p.SourceFrame, p.TargetFrame, p.BodyID,
			p.Translation.X, p.Translation.Y, p.Translation.Z,
			p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real,
			p.MeanError)
	}
}
