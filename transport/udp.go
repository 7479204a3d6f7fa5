package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxDatagram is the largest UDP payload this transport will attempt to
// read in one call; comfortably above any JSON-encoded DHT message.
const maxDatagram = 8192

// UDPTransport is the reference Transport implementation: a single UDP
// socket with a background read loop dispatching to the registered
// Handler. Grounded on the teacher's UDP transport shape (one
// net.PacketConn, a goroutine reading into a reusable buffer, handler
// dispatch per datagram).
type UDPTransport struct {
	conn   *net.UDPConn
	logger logrus.FieldLogger

	mu      sync.RWMutex
	handler Handler

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPTransport binds a UDP socket at addr ("host:port"; an empty host
// binds all interfaces, port 0 picks an ephemeral port) and starts its
// read loop.
func NewUDPTransport(addr string, logger logrus.FieldLogger) (*UDPTransport, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}

	t := &UDPTransport{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.logger.WithFields(logrus.Fields{
				"function": "UDPTransport.readLoop",
				"error":    err.Error(),
			}).Warn("udp read failed")
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h != nil {
			go h(payload, from.String())
		}
	}
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, addr string, payload []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	_, err = t.conn.WriteToUDP(payload, udpAddr)
	if err != nil {
		return fmt.Errorf("transport: send to %q: %w", addr, err)
	}
	return nil
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

// SetHandler implements Transport.
func (t *UDPTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
