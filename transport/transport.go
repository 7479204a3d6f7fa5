// Package transport defines the pluggable network transport contract the
// node is built against (spec §6: "the concrete transport... is
// deliberately out of scope") and ships a reference UDP implementation
// exercising it. Grounded on the shape of the teacher's transport.Transport
// interface (Send / Close / LocalAddr / RegisterHandler), trimmed to a
// single inbound handler since this protocol dispatches by a JSON "method"
// field rather than a fixed binary packet-type enum.
package transport

import "context"

// Handler is invoked once per received, well-formed datagram. payload is
// the raw bytes exactly as received; from is the sender's address in
// host:port form.
type Handler func(payload []byte, from string)

// Transport is the external collaborator the node is constructed with.
// Implementations deliver bytes best-effort (spec §6: "no guarantee") and
// push received messages to the registered Handler.
type Transport interface {
	// Send transmits payload to addr (host:port form). Best-effort; no
	// delivery guarantee.
	Send(ctx context.Context, addr string, payload []byte) error

	// LocalAddr returns the address this transport is bound to.
	LocalAddr() string

	// SetHandler registers the function invoked for every received
	// well-formed datagram. Only one handler is supported; the most
	// recent call wins.
	SetHandler(h Handler)

	// Close shuts down the transport and releases its resources. The
	// transport must not be used afterward.
	Close() error
}
