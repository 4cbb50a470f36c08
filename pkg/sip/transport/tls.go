package transport

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// TLSTransport is a TCPTransport dialed and accepted over TLS.
type TLSTransport struct {
	*TCPTransport
	tlsConfig *tls.Config
}

// NewTLSTransport returns an unbound TLS transport. A nil config uses
// tls.VersionTLS12 as the floor.
func NewTLSTransport(tlsConfig *tls.Config) Transport {
	return &TLSTransport{
		TCPTransport: &TCPTransport{
			parser:      message.NewParser(),
			connections: NewConnectionPool(),
		},
		tlsConfig: tlsConfig,
	}
}

func (t *TLSTransport) Network() string { return "tls" }
func (t *TLSTransport) Secure() bool    { return true }

func (t *TLSTransport) Listen(addr string) error {
	if t.listener != nil {
		return fmt.Errorf("already listening")
	}

	if t.tlsConfig == nil {
		t.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	listener, err := tls.Listen("tcp", addr, t.tlsConfig)
	if err != nil {
		return &TransportError{Transport: "tls", Operation: "listen", Err: err}
	}

	t.listener = listener
	t.localAddr = listener.Addr()
	t.closed.Store(false)

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TLSTransport) Send(msg message.Message, addr string) error {
	if t.closed.Load() {
		return &TransportError{Transport: "tls", Operation: "send", Err: net.ErrClosed}
	}

	var conn Connection
	for _, c := range t.connections.GetByRemoteAddr(addr) {
		if !c.IsClosed() {
			conn = c
			break
		}
	}

	if conn == nil {
		netConn, err := tls.Dial("tcp", addr, t.tlsConfig)
		if err != nil {
			return &TransportError{Transport: "tls", Operation: "dial", Err: err}
		}

		conn = NewTCPConnection(netConn)
		t.connections.Add(conn)

		t.wg.Add(1)
		go t.handleConnection(conn)

		if t.connectionHandler != nil {
			t.connectionHandler(conn, ConnectionOpened)
		}
	}

	return conn.Send(msg)
}
