package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// UDPTransport implements Transport over a plain UDP socket, tuned for
// low-latency voice traffic. It is the only Transport this package ships:
// the spec's RTP media path never negotiates SRTP/DTLS.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport binds config.LocalAddr and, if config.RemoteAddr is
// set, resolves it as the initial send target.
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 1500
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("rtp: resolve local address: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rtp: open UDP socket: %w", err)
	}

	if err := setSockOptForVoice(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtp: configure socket: %w", err)
	}

	transport := &UDPTransport{
		conn:   conn,
		config: config,
		active: true,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("rtp: resolve remote address: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	return transport, nil
}

// Send marshals packet and writes it to the transport's remote address.
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return fmt.Errorf("rtp: transport is closed")
	}
	if remoteAddr == nil {
		return fmt.Errorf("rtp: remote address not set")
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshal packet: %w", err)
	}

	if _, err := conn.WriteToUDP(data, remoteAddr); err != nil {
		return fmt.Errorf("rtp: write UDP packet: %w", err)
	}

	return nil
}

// Receive reads and unmarshals the next inbound packet, learning the
// remote address from the first packet if none was configured.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	t.mutex.RUnlock()

	if !active {
		return nil, nil, fmt.Errorf("rtp: transport is closed")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("rtp: read UDP packet: %w", err)
	}

	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buffer[:n]); err != nil {
		return nil, nil, fmt.Errorf("rtp: unmarshal packet: %w", err)
	}

	return packet, addr, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr returns the current send target, if known.
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.remoteAddr
}

// SetRemoteAddr overrides the send target.
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("rtp: resolve remote address: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr

	return nil
}

// Close releases the UDP socket. Safe to call more than once.
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}

	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}

// IsActive reports whether the socket is still open.
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// setSockOptForVoice applies the platform-specific low-latency tuning
// (see transport_sockopts_*.go) to a freshly-opened socket.
func setSockOptForVoice(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	err = rawConn.Control(func(fd uintptr) {
		applyVoiceSockOpts(fd)
	})

	return err
}
