package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/mocap.bridge/internal/monitoring"
)

// DefaultRelayQueueSize is the number of datagrams buffered for sending.
const DefaultRelayQueueSize = 1000

// Relay re-sends raw datagrams to another UDP address without blocking the
// receive path. When its queue is full, datagrams are dropped and counted.
type Relay struct {
	conn        *net.UDPConn
	channel     chan []byte
	logInterval time.Duration
	address     string
	log         *logrus.Entry

	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRelay dials address. A queueSize of zero uses DefaultRelayQueueSize.
func NewRelay(address string, queueSize int, logInterval time.Duration) (*Relay, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay connection: %w", err)
	}
	if queueSize <= 0 {
		queueSize = DefaultRelayQueueSize
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Relay{
		conn:        conn,
		channel:     make(chan []byte, queueSize),
		logInterval: logInterval,
		address:     address,
		log:         monitoring.Component("relay"),
		done:        make(chan struct{}),
	}, nil
}

// Start runs the send loop until ctx is cancelled or Close is called.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastError error
		ticker := time.NewTicker(r.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case packet := <-r.channel:
				if _, err := r.conn.Write(packet); err != nil {
					failed++
					lastError = err
					r.dropped.Add(1)
					continue
				}
				r.sent.Add(1)
			case <-ticker.C:
				if failed > 0 && lastError != nil {
					r.log.Warnf("dropped %d relayed datagrams due to errors (latest: %v)", failed, lastError)
					failed = 0
					lastError = nil
				}
			}
		}
	}()

	r.log.Infof("relaying datagrams to %s", r.address)
}

// Forward queues a copy of packet, dropping it if the queue is full.
func (r *Relay) Forward(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case r.channel <- packetCopy:
	default:
		r.dropped.Add(1)
	}
}

// Sent returns the number of datagrams written.
func (r *Relay) Sent() uint64 { return r.sent.Load() }

// Dropped returns the number of datagrams lost to a full queue or a write
// error.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Address returns the destination address.
func (r *Relay) Address() string { return r.address }

// Close stops the send loop and closes the connection.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}
