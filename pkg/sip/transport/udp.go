package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// UDPTransport is a connectionless transport. It has no persistent
// Connection; Send resolves a destination address per call and
// incoming datagrams are parsed and dispatched from a bounded worker
// pool (§4.B: UDP is the default transport and must not block the
// receive loop on slow message handlers).
type UDPTransport struct {
	conn   *net.UDPConn
	config *Config
	parser *message.Parser

	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	errorHandler      ErrorHandler

	workerPool chan struct{}

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.RWMutex
	stats   TransportStats
}

// NewUDPTransport returns a UDP transport bound to addr. config may be
// nil to use DefaultConfig.
func NewUDPTransport(addr string, config *Config) (*UDPTransport, error) {
	if config == nil {
		config = DefaultConfig()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &TransportError{Transport: "udp", Operation: "resolve", Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &TransportError{Transport: "udp", Operation: "listen", Err: err}
	}
	if err := conn.SetReadBuffer(config.ReadBufferSize); err != nil {
		conn.Close()
		return nil, &TransportError{Transport: "udp", Operation: "setReadBuffer", Err: err}
	}
	if err := conn.SetWriteBuffer(config.WriteBufferSize); err != nil {
		conn.Close()
		return nil, &TransportError{Transport: "udp", Operation: "setWriteBuffer", Err: err}
	}

	workers := config.UDPWorkers
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		config:     config,
		parser:     message.NewParser(),
		workerPool: make(chan struct{}, workers),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < workers; i++ {
		t.workerPool <- struct{}{}
	}
	return t, nil
}

func (t *UDPTransport) Network() string { return "udp" }
func (t *UDPTransport) Reliable() bool  { return false }
func (t *UDPTransport) Secure() bool    { return false }

// Listen runs the receive loop. It blocks until the transport is
// closed; callers run it in its own goroutine.
func (t *UDPTransport) Listen(_ string) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(time.Duration(t.config.ReadTimeout) * time.Second))
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			t.incrementErrors()
			if t.errorHandler != nil {
				t.errorHandler(err, t)
			}
			if isTemporary(err) {
				continue
			}
			return err
		}

		t.incrementReceived(uint64(n))

		select {
		case <-t.workerPool:
			data := make([]byte, n)
			copy(data, buf[:n])
			t.wg.Add(1)
			go t.processDatagram(data, remoteAddr)
		default:
			t.incrementErrors() // pool exhausted, drop
		}
	}
}

func (t *UDPTransport) processDatagram(data []byte, remoteAddr *net.UDPAddr) {
	defer func() {
		t.workerPool <- struct{}{}
		t.wg.Done()
	}()

	msg, err := t.parser.Parse(data)
	if err != nil {
		t.incrementErrors()
		if t.errorHandler != nil {
			t.errorHandler(err, t)
		}
		return
	}
	if t.messageHandler != nil {
		t.messageHandler(msg, remoteAddr, t)
	}
}

func (t *UDPTransport) Send(msg message.Message, addr string) error {
	if t.closed.Load() {
		return &TransportError{Transport: "udp", Operation: "send", Err: net.ErrClosed}
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "resolve", Err: err}
	}

	data := []byte(msg.String())
	if len(data) > 65507 {
		return &TransportError{Transport: "udp", Operation: "send", Err: ErrMessageTooLarge}
	}

	if t.config.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(time.Duration(t.config.WriteTimeout) * time.Second))
	}
	if _, err := t.conn.WriteToUDP(data, remoteAddr); err != nil {
		t.incrementErrors()
		return &TransportError{Transport: "udp", Operation: "write", Err: err}
	}
	t.incrementSent(uint64(len(data)))
	return nil
}

// SendTo exists to satisfy Transport; UDP has no persistent
// connections so it resolves conn's remote address and sends fresh.
func (t *UDPTransport) SendTo(msg message.Message, conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return t.Send(msg, conn.RemoteAddr().String())
}

func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *UDPTransport) OnMessage(handler MessageHandler)       { t.messageHandler = handler }
func (t *UDPTransport) OnConnection(handler ConnectionHandler) { t.connectionHandler = handler }
func (t *UDPTransport) OnError(handler ErrorHandler)           { t.errorHandler = handler }

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *UDPTransport) Stats() TransportStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return t.stats
}

func (t *UDPTransport) incrementSent(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesSent++
	t.stats.BytesSent += bytes
}

func (t *UDPTransport) incrementReceived(bytes uint64) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += bytes
}

func (t *UDPTransport) incrementErrors() {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Errors++
}
