// Package network provides the datagram sources and sinks around the
// bridge: the live multicast listener, PCAP replay and the raw relay.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/monitoring"
)

// Defaults for ListenerConfig.
const (
	DefaultReadTimeout     = time.Second
	DefaultMaxDatagramSize = 65507
	DefaultReadBuffer      = 1 << 20
)

// ErrNotOpen is returned by Receive before Open succeeds.
var ErrNotOpen = errors.New("listener not open")

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address is host:port. A multicast host joins that group.
	Address         string
	ReadBuffer      int
	ReadTimeout     time.Duration
	MaxDatagramSize int
	// Factory creates the socket. Nil uses MulticastSocketFactory.
	Factory UDPSocketFactory
	// Interface is passed to the default factory for the group join.
	Interface string
}

// Listener receives NatNet datagrams from a UDP socket with a short-poll
// read deadline, so callers can observe cancellation between reads.
type Listener struct {
	cfg  ListenerConfig
	sock UDPSocket
	buf  []byte
	log  *logrus.Entry
}

// NewListener creates a listener; call Open before Receive.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.Factory == nil {
		cfg.Factory = &MulticastSocketFactory{Interface: cfg.Interface}
	}
	return &Listener{
		cfg: cfg,
		buf: make([]byte, cfg.MaxDatagramSize),
		log: monitoring.Component("listener"),
	}
}

// Open binds the socket.
func (l *Listener) Open() error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := l.cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address %s: %w", l.cfg.Address, err)
	}
	if err := sock.SetReadBuffer(l.cfg.ReadBuffer); err != nil {
		l.log.Warnf("failed to set UDP receive buffer size to %d: %v", l.cfg.ReadBuffer, err)
	}
	l.sock = sock
	l.log.Infof("UDP listener started on %s with receive buffer %d bytes", l.cfg.Address, l.cfg.ReadBuffer)
	return nil
}

// Receive blocks for at most the read timeout and returns one datagram.
// The returned slice is only valid until the next call. A deadline expiry
// returns an error for which IsTimeout is true.
func (l *Listener) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.sock == nil {
		return nil, ErrNotOpen
	}
	if err := l.sock.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	n, _, err := l.sock.ReadFromUDP(l.buf)
	if err != nil {
		return nil, err
	}
	return l.buf[:n], nil
}

// LocalAddr returns the bound address, or nil before Open.
func (l *Listener) LocalAddr() net.Addr {
	if l.sock == nil {
		return nil
	}
	return l.sock.LocalAddr()
}

// Close releases the socket.
func (l *Listener) Close() error {
	if l.sock == nil {
		return nil
	}
	return l.sock.Close()
}
