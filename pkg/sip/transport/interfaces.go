// Package transport implements the SIP transport layer (RFC 3261 section
// 18): UDP, TCP, and TLS duplex channels that move message.Message values
// to and from the network, plus a Manager that picks the right one per
// target URI.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// Transport is one network transport (udp, tcp, or tls).
type Transport interface {
	Network() string // "udp", "tcp", "tls"
	Reliable() bool  // true for tcp/tls
	Secure() bool    // true for tls

	Listen(addr string) error
	Close() error

	Send(msg message.Message, addr string) error
	SendTo(msg message.Message, conn Connection) error

	OnMessage(handler MessageHandler)
	OnConnection(handler ConnectionHandler)
	OnError(handler ErrorHandler)

	Stats() TransportStats
	LocalAddr() net.Addr
}

// Connection is a persistent duplex channel (TCP/TLS). UDP has no
// connections; its Transport.Send resolves a destination per call.
type Connection interface {
	ID() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Transport() string

	Send(msg message.Message) error
	Close() error
	IsClosed() bool

	EnableKeepAlive(interval time.Duration)
	DisableKeepAlive()

	Context() context.Context
	SetContext(ctx context.Context)
}

// Manager owns the set of registered transports and routes outbound
// messages to the one matching the target's transport parameter
// (§4.B: "the transport parameter, or sips: => tls, else udp, selects
// the outbound transport").
type Manager interface {
	RegisterTransport(t Transport) error
	UnregisterTransport(network string) error

	GetTransport(network string) (Transport, bool)
	GetPreferredTransport(target string) (Transport, error)

	Send(msg message.Message, target string) error

	OnMessage(handler MessageHandler)
	OnConnection(handler ConnectionHandler)

	Start() error
	Stop() error
}

// ConnectionPool tracks live connections by ID and by remote address so
// a transport can reuse an existing TCP/TLS connection instead of
// dialing a new one per message.
type ConnectionPool interface {
	Add(conn Connection)
	Remove(id string)
	RemoveClosed() int

	GetByID(id string) (Connection, bool)
	GetByRemoteAddr(addr string) []Connection
	GetAll() []Connection
}

type MessageHandler func(msg message.Message, addr net.Addr, t Transport)
type ConnectionHandler func(conn Connection, event ConnectionEvent)
type ErrorHandler func(err error, t Transport)

type ConnectionEvent int

const (
	ConnectionOpened ConnectionEvent = iota
	ConnectionClosed
	ConnectionError
)

// TransportStats counts traffic through one transport instance.
type TransportStats struct {
	MessagesReceived  uint64
	MessagesSent      uint64
	BytesReceived     uint64
	BytesSent         uint64
	Errors            uint64
	ActiveConnections int
}

// TransportError wraps a lower-level network error with the transport
// and operation that produced it.
type TransportError struct {
	Transport string
	Operation string
	Err       error
	Temporary bool
}

func (e *TransportError) Error() string {
	return e.Transport + " " + e.Operation + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) IsTemporary() bool { return e.Temporary }

// Config holds socket-level tuning shared by all transports.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	UDPWorkers int

	TCPKeepAlive   bool
	TCPNoDelay     bool
	MaxConnections int

	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DefaultConfig returns the socket tuning used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  2 * 1024 * 1024,
		WriteBufferSize: 2 * 1024 * 1024,
		UDPWorkers:      4,
		TCPKeepAlive:    true,
		TCPNoDelay:      true,
		MaxConnections:  1000,
		ReadTimeout:     30,
		WriteTimeout:    30,
		IdleTimeout:     300,
	}
}
