package transport

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// DefaultManager is the default Manager implementation.
type DefaultManager struct {
	transports        map[string]Transport
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	mu                sync.RWMutex
	started           bool
}

// NewManager returns an empty Manager ready for transports to be
// registered.
func NewManager() Manager {
	return &DefaultManager{transports: make(map[string]Transport)}
}

func (m *DefaultManager) RegisterTransport(t Transport) error {
	if t == nil {
		return fmt.Errorf("transport is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	network := t.Network()
	if _, exists := m.transports[network]; exists {
		return fmt.Errorf("transport %s already registered", network)
	}

	t.OnMessage(m.handleMessage)
	t.OnConnection(m.handleConnection)

	m.transports[network] = t
	return nil
}

func (m *DefaultManager) UnregisterTransport(network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.transports[network]
	if !exists {
		return fmt.Errorf("transport %s not found", network)
	}
	t.Close()
	delete(m.transports, network)
	return nil
}

func (m *DefaultManager) GetTransport(network string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, exists := m.transports[network]
	return t, exists
}

// GetPreferredTransport resolves a SIP/SIPS target URI (or bare
// host:port) to the transport named by its transport= parameter, or
// tls for sips:/udp otherwise (§4.B).
func (m *DefaultManager) GetPreferredTransport(target string) (Transport, error) {
	var network string
	var secure bool

	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target")
	}

	if strings.HasPrefix(target, "sips:") {
		secure = true
		target = target[5:]
	} else if strings.HasPrefix(target, "sip:") {
		target = target[4:]
	}

	if idx := strings.Index(target, ";transport="); idx != -1 {
		param := target[idx+len(";transport="):]
		if end := strings.IndexAny(param, ";>"); end != -1 {
			param = param[:end]
		}
		network = strings.ToLower(param)
	}

	if network == "" {
		if secure {
			network = "tls"
		} else {
			network = "udp"
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, exists := m.transports[network]; exists {
		return t, nil
	}
	return nil, fmt.Errorf("transport %s not available", network)
}

func (m *DefaultManager) Send(msg message.Message, target string) error {
	t, err := m.GetPreferredTransport(target)
	if err != nil {
		return err
	}

	addr := target
	if strings.HasPrefix(addr, "sips:") {
		addr = addr[5:]
	} else if strings.HasPrefix(addr, "sip:") {
		addr = addr[4:]
	}
	if idx := strings.IndexAny(addr, ";>"); idx != -1 {
		addr = addr[:idx]
	}
	if idx := strings.Index(addr, "@"); idx != -1 {
		addr = addr[idx+1:]
	}
	if !strings.Contains(addr, ":") {
		addr = addr + ":5060"
	}

	return t.Send(msg, addr)
}

func (m *DefaultManager) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageHandler = handler
}

func (m *DefaultManager) OnConnection(handler ConnectionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionHandler = handler
}

func (m *DefaultManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("already started")
	}
	m.started = true
	return nil
}

func (m *DefaultManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return fmt.Errorf("not started")
	}
	for _, t := range m.transports {
		t.Close()
	}
	m.started = false
	return nil
}

func (m *DefaultManager) handleMessage(msg message.Message, addr net.Addr, t Transport) {
	m.mu.RLock()
	handler := m.messageHandler
	m.mu.RUnlock()
	if handler != nil {
		handler(msg, addr, t)
	}
}

func (m *DefaultManager) handleConnection(conn Connection, event ConnectionEvent) {
	m.mu.RLock()
	handler := m.connectionHandler
	m.mu.RUnlock()
	if handler != nil {
		handler(conn, event)
	}
}
