package transaction

import (
	"net"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transport"
)

// TransportAdapter adapts a transport.Manager to the narrower
// Transport interface the transaction layer depends on.
type TransportAdapter struct {
	manager transport.Manager
}

// NewTransportAdapter wraps manager as a transaction Transport.
func NewTransportAdapter(manager transport.Manager) Transport {
	return &TransportAdapter{manager: manager}
}

func (a *TransportAdapter) Send(msg message.Message, addr string) error {
	return a.manager.Send(msg, addr)
}

func (a *TransportAdapter) OnMessage(handler func(msg message.Message, addr net.Addr)) {
	a.manager.OnMessage(func(msg message.Message, addr net.Addr, t transport.Transport) {
		handler(msg, addr)
	})
}

// IsReliable always reports false. The manager selects a transport per
// target, so this adapter cannot tell which one a message will use; it
// assumes UDP (unreliable), the default transport and the one needing
// retransmission timers.
func (a *TransportAdapter) IsReliable() bool {
	return false
}
