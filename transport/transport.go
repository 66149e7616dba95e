// Package transport provides the supervisor's datagram transport: open
// numbered channels, send to a destination channel, and receive delivery
// events carrying the sender channel and simulated distance. The NATS
// implementation overlays channels on broker subjects; Loopback is the
// hermetic in-memory implementation used by tests.
package transport

import "context"

// Delivery is one received datagram.
type Delivery struct {
	Src      uint16
	Dst      uint16
	Payload  []byte
	Distance float64
}

// Transport is the serial-capable datagram interface the supervisor
// consumes. Send is safe for concurrent use; the implementation
// serializes the outbound path.
type Transport interface {
	// Open begins receiving on a channel.
	Open(channel uint16) error
	// Send transmits a payload from src to dst.
	Send(src, dst uint16, payload []byte) error
	// Events returns the inbound delivery stream.
	Events() <-chan Delivery
	// Close stops the transport and closes the event stream.
	Close(ctx context.Context) error
}

// WithinRange applies the trusted-range filter: deliveries farther than
// trusted are rejected; zero disables the check.
func WithinRange(d Delivery, trusted float64) bool {
	return trusted <= 0 || d.Distance <= trusted
}
