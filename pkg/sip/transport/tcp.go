package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// TCPTransport is a connection-oriented transport. It keeps a pool of
// persistent connections and reuses one for a destination address
// when available instead of dialing again (§4.B).
type TCPTransport struct {
	listener          net.Listener
	localAddr         net.Addr
	parser            *message.Parser
	connections       ConnectionPool
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	errorHandler      ErrorHandler
	closed            atomic.Bool
	stats             TransportStats
	statsMu           sync.RWMutex
	wg                sync.WaitGroup
}

// NewTCPTransport returns an unbound TCP transport; call Listen to
// start accepting connections.
func NewTCPTransport() Transport {
	return &TCPTransport{
		parser:      message.NewParser(),
		connections: NewConnectionPool(),
	}
}

func (t *TCPTransport) Network() string { return "tcp" }
func (t *TCPTransport) Reliable() bool  { return true }
func (t *TCPTransport) Secure() bool    { return false }

func (t *TCPTransport) Listen(addr string) error {
	if t.listener != nil {
		return fmt.Errorf("already listening")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &TransportError{Transport: "tcp", Operation: "listen", Err: err}
	}

	t.listener = listener
	t.localAddr = listener.Addr()
	t.closed.Store(false)

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.listener != nil {
		t.listener.Close()
	}
	for _, conn := range t.connections.GetAll() {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *TCPTransport) Send(msg message.Message, addr string) error {
	if t.closed.Load() {
		return &TransportError{Transport: "tcp", Operation: "send", Err: net.ErrClosed}
	}

	var conn Connection
	for _, c := range t.connections.GetByRemoteAddr(addr) {
		if !c.IsClosed() {
			conn = c
			break
		}
	}

	if conn == nil {
		netConn, err := net.Dial("tcp", addr)
		if err != nil {
			return &TransportError{Transport: "tcp", Operation: "dial", Err: err}
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

func (t *TCPTransport) SendTo(msg message.Message, conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.Send(msg)
}

func (t *TCPTransport) OnMessage(handler MessageHandler)       { t.messageHandler = handler }
func (t *TCPTransport) OnConnection(handler ConnectionHandler) { t.connectionHandler = handler }
func (t *TCPTransport) OnError(handler ErrorHandler)           { t.errorHandler = handler }

func (t *TCPTransport) Stats() TransportStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	stats := t.stats
	stats.ActiveConnections = len(t.connections.GetAll())
	return stats
}

func (t *TCPTransport) LocalAddr() net.Addr {
	if t.localAddr != nil {
		return t.localAddr
	}
	if t.listener != nil {
		return t.listener.Addr()
	}
	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for !t.closed.Load() {
		netConn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			continue
		}

		conn := NewTCPConnection(netConn)
		t.connections.Add(conn)

		if t.connectionHandler != nil {
			t.connectionHandler(conn, ConnectionOpened)
		}

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(conn Connection) {
	defer t.wg.Done()
	defer func() {
		conn.Close()
		t.connections.Remove(conn.ID())
		if t.connectionHandler != nil {
			t.connectionHandler(conn, ConnectionClosed)
		}
	}()

	tcpConn := conn.(*TCPConnection)
	reader := bufio.NewReader(tcpConn.conn)

	for !t.closed.Load() && !conn.IsClosed() {
		data, err := readFramedMessage(reader)
		if err != nil {
			if t.closed.Load() || conn.IsClosed() {
				return
			}
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			if t.connectionHandler != nil {
				t.connectionHandler(conn, ConnectionError)
			}
			return
		}

		t.incrementReceived(uint64(len(data)))

		msg, err := t.parser.Parse(data)
		if err != nil {
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			continue
		}

		if t.messageHandler != nil {
			t.messageHandler(msg, conn.RemoteAddr(), t)
		}
	}
}

func (t *TCPTransport) incrementSent(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesSent++
	t.stats.BytesSent += bytes
}

func (t *TCPTransport) incrementReceived(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += bytes
}

func (t *TCPTransport) incrementErrors() {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Errors++
}

// TCPConnection wraps a net.Conn (plain TCP or TLS) as a Connection.
type TCPConnection struct {
	id        string
	conn      net.Conn
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	mu        sync.RWMutex
}

// NewTCPConnection wraps an already-established net.Conn.
func NewTCPConnection(conn net.Conn) Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPConnection{
		id:        generateConnectionID(),
		conn:      conn,
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

func (c *TCPConnection) ID() string           { return c.id }
func (c *TCPConnection) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *TCPConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *TCPConnection) Transport() string    { return "tcp" }

func (c *TCPConnection) Send(msg message.Message) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	_, err := c.conn.Write([]byte(msg.String()))
	return err
}

func (c *TCPConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.ctxCancel()
	return c.conn.Close()
}

func (c *TCPConnection) IsClosed() bool { return c.closed.Load() }

func (c *TCPConnection) EnableKeepAlive(interval time.Duration) {
	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(interval)
	}
}

func (c *TCPConnection) DisableKeepAlive() {
	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(false)
	}
}

func (c *TCPConnection) Context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *TCPConnection) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	c.ctx, c.ctxCancel = context.WithCancel(ctx)
}

// readFramedMessage reads one complete SIP message off a TCP/TLS
// stream by reading headers line by line and then the Content-Length
// body (§4.B framing).
func readFramedMessage(reader *bufio.Reader) ([]byte, error) {
	var buf []byte
	contentLength := 0
	headersDone := false

	for !headersDone {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)

		if len(line) <= 2 {
			headersDone = true
		}

		if n, ok := contentLengthPrefix(line); ok {
			contentLength = n
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := readFull(reader, body); err != nil {
			return nil, err
		}
		buf = append(buf, body...)
	}

	return buf, nil
}

func contentLengthPrefix(line []byte) (int, bool) {
	s := string(line)
	ci := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			ci = i
			break
		}
	}
	if ci == -1 {
		return 0, false
	}
	name := strings.TrimSpace(s[:ci])
	if !equalFold(name, "Content-Length") && name != "l" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s[ci+1:]), "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func readFull(reader *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

var connectionIDCounter atomic.Uint64

func generateConnectionID() string {
	return fmt.Sprintf("conn-%d-%d", time.Now().UnixNano(), connectionIDCounter.Add(1))
}
