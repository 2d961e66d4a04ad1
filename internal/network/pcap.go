package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/monitoring"
)

const pcapngMagic = 0x0A0D0D0A

// packetDataReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPConfig configures a PCAPSource.
type PCAPConfig struct {
	Path string
	// Port keeps only UDP datagrams addressed to this port. Zero keeps all.
	Port int
	// Speed paces replay against capture timestamps (1.0 = real time,
	// 2.0 = twice as fast). Zero or negative replays as fast as possible.
	Speed float64
}

// PCAPSource replays UDP payloads from a pcap or pcapng capture. IPv4
// fragments are reassembled, since full motion frames often exceed the MTU.
type PCAPSource struct {
	cfg      PCAPConfig
	file     *os.File
	reader   packetDataReader
	linkType layers.LinkType
	defrag   *ip4defrag.IPv4Defragmenter
	log      *logrus.Entry

	packetTime   time.Time
	firstCapture time.Time
	replayStart  time.Time

	packets   int
	datagrams int
}

// OpenPCAP opens a capture file for replay.
func OpenPCAP(cfg PCAPConfig) (*PCAPSource, error) {
	f, err := os.Open(filepath.Clean(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header %s: %w", cfg.Path, err)
	}

	var reader packetDataReader
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		reader, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		reader, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse PCAP file %s: %w", cfg.Path, err)
	}

	s := &PCAPSource{
		cfg:      cfg,
		file:     f,
		reader:   reader,
		linkType: reader.LinkType(),
		defrag:   ip4defrag.NewIPv4Defragmenter(),
		log:      monitoring.Component("pcap"),
	}
	s.log.Infof("PCAP replay: %s (link type %v, port %d, speed %.1fx)", cfg.Path, s.linkType, cfg.Port, cfg.Speed)
	return s, nil
}

// Receive returns the next matching UDP payload. It returns io.EOF at the
// end of the capture.
func (s *PCAPSource) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ci, err := s.reader.ReadPacketData()
		if err == io.EOF {
			s.log.Infof("PCAP replay complete: %d packets read, %d datagrams delivered", s.packets, s.datagrams)
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read PCAP packet %d: %w", s.packets+1, err)
		}
		s.packets++

		payload := s.udpPayload(data, ci.Timestamp)
		if payload == nil {
			continue
		}
		if err := s.pace(ctx, ci.Timestamp); err != nil {
			return nil, err
		}
		s.packetTime = ci.Timestamp
		s.datagrams++
		return payload, nil
	}
}

// udpPayload extracts the payload for the configured port, or nil.
func (s *PCAPSource) udpPayload(data []byte, ts time.Time) []byte {
	packet := gopacket.NewPacket(data, s.linkType, gopacket.Default)

	var udp *layers.UDP
	if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok && isFragment(ip4) {
		full, err := s.defrag.DefragIPv4WithTimestamp(ip4, ts)
		if err != nil {
			s.log.Debugf("dropping fragment in packet %d: %v", s.packets, err)
			return nil
		}
		if full == nil {
			return nil
		}
		reassembled := gopacket.NewPacket(full.Payload, layers.LayerTypeUDP, gopacket.Default)
		udp, _ = reassembled.Layer(layers.LayerTypeUDP).(*layers.UDP)
	} else {
		udp, _ = packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	}

	if udp == nil || len(udp.Payload) == 0 {
		return nil
	}
	if s.cfg.Port != 0 && int(udp.DstPort) != s.cfg.Port {
		return nil
	}
	return udp.Payload
}

func isFragment(ip *layers.IPv4) bool {
	return ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
}

func (s *PCAPSource) pace(ctx context.Context, capture time.Time) error {
	if s.cfg.Speed <= 0 {
		return nil
	}
	if s.firstCapture.IsZero() {
		s.firstCapture = capture
		s.replayStart = time.Now()
		return nil
	}
	offset := time.Duration(float64(capture.Sub(s.firstCapture)) / s.cfg.Speed)
	wait := time.Until(s.replayStart.Add(offset))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PacketTime returns the capture timestamp of the last datagram returned by
// Receive.
func (s *PCAPSource) PacketTime() time.Time {
	return s.packetTime
}

// Close releases the capture file.
func (s *PCAPSource) Close() error {
	return s.file.Close()
}

// TimedDatagram is a UDP payload with its capture time.
type TimedDatagram struct {
	Data      []byte
	Timestamp time.Time
}

// WritePCAP writes datagrams as Ethernet/IPv4/UDP packets addressed to dst.
func WritePCAP(w io.Writer, dst *net.UDPAddr, datagrams []TimedDatagram) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write PCAP header: %w", err)
	}

	dstIP := dst.IP.To4()
	if dstIP == nil {
		return fmt.Errorf("destination %s is not IPv4", dst.IP)
	}
	dstMAC := net.HardwareAddr{0x01, 0x00, 0x5e, dstIP[1] & 0x7f, dstIP[2], dstIP[3]}
	if !dstIP.IsMulticast() {
		dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	for i, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			DstMAC:       dstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      32,
			Id:       uint16(i),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 1).To4(),
			DstIP:    dstIP,
		}
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(dst.Port),
			DstPort: layers.UDPPort(dst.Port),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}

		buf := gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.Data)); err != nil {
			return fmt.Errorf("failed to serialize datagram %d: %w", i, err)
		}
		raw := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     d.Timestamp,
			CaptureLength: len(raw),
			Length:        len(raw),
		}
		if err := pw.WritePacket(ci, raw); err != nil {
			return fmt.Errorf("failed to write datagram %d: %w", i, err)
		}
	}
	return nil
}
