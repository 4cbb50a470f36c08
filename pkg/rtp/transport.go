package rtp

import (
	"context"
	"net"

	"github.com/pion/rtp"
)

// Transport carries RTP packets for one RTPSession. UDP is the only
// implementation (no SRTP/DTLS wire path).
type Transport interface {
	// Send transmits an RTP packet.
	Send(packet *rtp.Packet) error

	// Receive blocks for the next inbound packet and its source address.
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr returns the transport's local address.
	LocalAddr() net.Addr

	// RemoteAddr returns the transport's remote address, if known.
	RemoteAddr() net.Addr

	// Close releases the transport's underlying socket.
	Close() error

	// IsActive reports whether the transport is still usable.
	IsActive() bool
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	LocalAddr  string // address to bind
	RemoteAddr string // address to send to (optional; learned from first inbound packet otherwise)
	BufferSize int    // read buffer size
}

// DefaultTransportConfig returns a TransportConfig sized for one Ethernet MTU.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BufferSize: 1500,
	}
}
