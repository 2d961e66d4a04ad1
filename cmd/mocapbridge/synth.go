package main

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/mocap.bridge/internal/config"
	"github.com/banshee-data/mocap.bridge/internal/natnet"
	"github.com/banshee-data/mocap.bridge/internal/network"
)

type synthOptions struct {
	bodies  []string
	frames  int
	rate    float64
	radius  float64
	pcap    string
	send    string
	dropped []int
}

// orbit generates frames of rigid bodies circling the origin, each body
// phase-shifted and yawed to face along its direction of travel.
type orbit struct {
	bodies []string
	rate   float64
	radius float64
}

func (o orbit) frame(n int) natnet.MotionFrame {
	f := natnet.MotionFrame{FrameNumber: int32(n)}
	t := float64(n) / o.rate
	for i, name := range o.bodies {
		phase := t + float64(i)*2*math.Pi/float64(len(o.bodies))
		x, y := o.radius*math.Cos(phase), o.radius*math.Sin(phase)
		yaw := phase + math.Pi/2
		q := quat.Exp(quat.Number{Kmag: yaw / 2})

		pos := [3]float32{float32(x), float32(y), 1}
		f.MarkerSets = append(f.MarkerSets, natnet.MarkerSet{Name: name, Markers: [][3]float32{pos}})
		f.RigidBodies = append(f.RigidBodies, natnet.RigidBody{
			ID:          int32(i + 1),
			Position:    pos,
			Orientation: [4]float32{float32(q.Imag), float32(q.Jmag), float32(q.Kmag), float32(q.Real)},
			Markers:     []natnet.Marker{{Position: pos, ID: 1, Size: 0.014}},
			MeanError:   0.0002,
			Valid:       true,
		})
	}
	f.MarkerSets = append(f.MarkerSets, natnet.MarkerSet{Name: "all"})
	return f
}

func newSynthCmd(global *globalOptions) *cobra.Command {
	opts := &synthOptions{}
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic NatNet stream",
		Long: `Generate frame-of-data messages for rigid bodies circling the origin.

The stream is written to a pcap file (--pcap), sent live over UDP (--send),
or both. Frames listed with --drop are skipped to simulate stream gaps.

Examples:
  mocapbridge synth --pcap orbit.pcap --frames 600
  mocapbridge synth --send 127.0.0.1:1511 --rate 120 --body drone --body rover`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.pcap == "" && opts.send == "" {
				return fmt.Errorf("one of --pcap or --send is required")
			}
			if opts.rate <= 0 {
				return fmt.Errorf("--rate must be positive")
			}
			if len(opts.bodies) == 0 {
				return fmt.Errorf("at least one --body is required")
			}
			cfg, err := global.load()
			if err != nil {
				return err
			}
			order, err := cfg.Decoder.Order()
			if err != nil {
				return err
			}

			datagrams, err := synthesize(opts, natnet.NewEncoder(order), time.Now())
			if err != nil {
				return err
			}
			if opts.pcap != "" {
				if err := writeSynthPCAP(opts.pcap, cfg, datagrams); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d datagrams to %s\n", len(datagrams), opts.pcap)
			}
			if opts.send != "" {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				sent, err := sendDatagrams(ctx, opts.send, datagrams)
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d datagrams to %s\n", sent, opts.send)
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.bodies, "body", []string{"drone"}, "rigid body names (repeatable)")
	f.IntVar(&opts.frames, "frames", 240, "number of frames to generate")
	f.Float64Var(&opts.rate, "rate", 120, "frame rate in Hz")
	f.Float64Var(&opts.radius, "radius", 1.5, "orbit radius in metres")
	f.StringVar(&opts.pcap, "pcap", "", "write the stream to this pcap file")
	f.StringVar(&opts.send, "send", "", "send the stream to this UDP address")
	f.IntSliceVar(&opts.dropped, "drop", nil, "frame numbers to leave out")
	return cmd
}

// synthesize encodes opts.frames frames, timestamped from start at the
// configured rate, minus any dropped frames.
func synthesize(opts *synthOptions, enc *natnet.Encoder, start time.Time) ([]network.TimedDatagram, error) {
	skip := make(map[int]bool, len(opts.dropped))
	for _, n := range opts.dropped {
		skip[n] = true
	}
	o := orbit{bodies: opts.bodies, rate: opts.rate, radius: opts.radius}
	period := time.Duration(float64(time.Second) / opts.rate)

	out := make([]network.TimedDatagram, 0, opts.frames)
	for n := 0; n < opts.frames; n++ {
		if skip[n] {
			continue
		}
		data, err := enc.EncodeMotionFrame(o.frame(n))
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", n, err)
		}
		out = append(out, network.TimedDatagram{Data: data, Timestamp: start.Add(time.Duration(n) * period)})
	}
	return out, nil
}

func writeSynthPCAP(path string, cfg *config.Config, datagrams []network.TimedDatagram) error {
	dst, err := net.ResolveUDPAddr("udp", cfg.Network.GroupAddress())
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := network.WritePCAP(f, dst, datagrams); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sendDatagrams sends datagrams at their capture spacing.
func sendDatagrams(ctx context.Context, address string, datagrams []network.TimedDatagram) (int, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return 0, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if len(datagrams) == 0 {
		return 0, nil
	}
	begin := time.Now()
	first := datagrams[0].Timestamp
	sent := 0
	for _, d := range datagrams {
		if wait := time.Until(begin.Add(d.Timestamp.Sub(first))); wait > 0 {
			select {
			case <-ctx.Done():
				return sent, nil
			case <-time.After(wait):
			}
		}
		if _, err := conn.Write(d.Data); err != nil {
			return sent, fmt.Errorf("send frame: %w", err)
		}
		sent++
	}
	return sent, nil
}
