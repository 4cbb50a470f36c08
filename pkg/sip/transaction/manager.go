package transaction

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transport"
)

// Creator builds the four transaction kinds. pkg/sip/transaction/creator
// supplies the default wiring onto the client/server invite/non-invite
// packages.
type Creator interface {
	CreateClientInviteTransaction(id string, key Key, request message.Message, t Transport, timers Timers) Transaction
	CreateClientNonInviteTransaction(id string, key Key, request message.Message, t Transport, timers Timers) Transaction
	CreateServerInviteTransaction(id string, key Key, request message.Message, t Transport, timers Timers) Transaction
	CreateServerNonInviteTransaction(id string, key Key, request message.Message, t Transport, timers Timers) Transaction
}

// DefaultManager is the default Manager implementation.
type DefaultManager struct {
	store     *Store
	transport transport.Manager
	timers    Timers
	creator   Creator

	mu               sync.RWMutex
	requestHandlers  []RequestHandler
	responseHandlers []ResponseHandler

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager returns a transaction Manager with no Creator set; call
// SetDefaultCreator before creating any transaction.
func NewManager(transportManager transport.Manager) *DefaultManager {
	return NewManagerWithCreator(transportManager, nil)
}

// SetDefaultCreator wires the transaction factory. Kept settable after
// construction so pkg/sip/transaction/creator (which depends on this
// package) can supply it without an import cycle.
func (m *DefaultManager) SetDefaultCreator(creator Creator) {
	m.creator = creator
}

func NewManagerWithCreator(transportManager transport.Manager, creator Creator) *DefaultManager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &DefaultManager{
		store:     NewStore(),
		transport: transportManager,
		timers:    DefaultTimers(),
		creator:   creator,
		ctx:       ctx,
		cancel:    cancel,
	}

	transportManager.OnMessage(m.handleIncomingMessage)
	return m
}

func (m *DefaultManager) CreateClientTransaction(req message.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create client transaction from response")
	}

	key, err := KeyFor(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}
	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}
	if m.creator == nil {
		return nil, fmt.Errorf("transaction creator not set")
	}

	id := GenerateTransactionID()
	adapter := NewTransportAdapter(m.transport)

	var tx Transaction
	if message.Method(req) == "INVITE" {
		tx = m.creator.CreateClientInviteTransaction(id, key, req, adapter, m.timers)
	} else {
		tx = m.creator.CreateClientNonInviteTransaction(id, key, req, adapter, m.timers)
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ClientTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.watchLifecycle(tx)

	return tx, nil
}

func (m *DefaultManager) CreateServerTransaction(req message.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create server transaction from response")
	}

	key, err := KeyFor(req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}
	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}
	if m.creator == nil {
		return nil, fmt.Errorf("transaction creator not set")
	}

	id := GenerateTransactionID()
	adapter := NewTransportAdapter(m.transport)

	var tx Transaction
	if message.Method(req) == "INVITE" {
		tx = m.creator.CreateServerInviteTransaction(id, key, req, adapter, m.timers)
	} else {
		tx = m.creator.CreateServerNonInviteTransaction(id, key, req, adapter, m.timers)
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ServerTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.watchLifecycle(tx)

	return tx, nil
}

func (m *DefaultManager) watchLifecycle(tx Transaction) {
	tx.OnStateChange(func(tx Transaction, oldState, newState State) {
		if newState == Terminated {
			m.store.Remove(tx.Key())
			m.decrementStat(&m.stats.ActiveTransactions)
			m.incrementStat(&m.stats.TerminatedTransactions)
		} else if newState == Completed && oldState != Completed {
			m.incrementStat(&m.stats.CompletedTransactions)
		}
	})
}

func (m *DefaultManager) FindTransaction(key Key) (Transaction, bool) {
	return m.store.Get(key)
}

func (m *DefaultManager) FindTransactionByMessage(msg message.Message) (Transaction, bool) {
	key, err := MatchingKey(msg)
	if err != nil {
		return nil, false
	}
	if tx, ok := m.store.Get(key); ok {
		return tx, true
	}
	for _, tx := range m.store.FindByMessage(msg) {
		if m.isMatchingTransaction(tx, msg) {
			return tx, true
		}
	}
	return nil, false
}

// HandleRequest routes an inbound request to its server transaction,
// creating one if this is the first copy (RFC 3261 17.2.3: a
// retransmitted request is absorbed by the existing transaction, not
// handed to the TU again).
func (m *DefaultManager) HandleRequest(req message.Message, addr net.Addr) error {
	if !req.IsRequest() {
		return fmt.Errorf("not a request")
	}

	if message.Method(req) == "ACK" {
		// An ACK for a non-2xx final response carries the INVITE's branch
		// and completes that INVITE server transaction (RFC 3261 17.2.3).
		if key, err := KeyFor(req, false); err == nil {
			key.Method = "INVITE"
			if tx, ok := m.store.Get(key); ok && (tx.State() == Completed || tx.State() == Confirmed) {
				if ist, ok := tx.(interface{ HandleACK(message.Message) error }); ok {
					return ist.HandleACK(req)
				}
			}
		}
		// ACK to a 2xx is a standalone request outside any
		// transaction (RFC 3261 17: "the ACK ... is not itself a
		// transaction"); the dialog layer matches it by Call-ID/CSeq.
		m.notifyRequestHandlers(nil, req)
		return nil
	}

	key, err := KeyFor(req, false)
	if err != nil {
		return fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if tx, ok := m.store.Get(key); ok {
		m.incrementStat(&m.stats.DuplicateRequests)
		tx.HandleRequest(req)
		m.notifyRequestHandlers(tx, req)
		return nil
	}

	m.incrementStat(&m.stats.RequestsReceived)

	tx, err := m.CreateServerTransaction(req)
	if err != nil {
		m.notifyRequestHandlers(nil, req)
		return fmt.Errorf("failed to create server transaction: %w", err)
	}

	m.notifyRequestHandlers(tx, req)
	return nil
}

func (m *DefaultManager) HandleResponse(resp message.Message, addr net.Addr) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	m.incrementStat(&m.stats.ResponsesReceived)

	tx, ok := m.FindTransactionByMessage(resp)
	if !ok {
		m.incrementStat(&m.stats.InvalidMessages)
		return fmt.Errorf("no transaction found for response")
	}

	if err := tx.HandleResponse(resp); err != nil {
		return err
	}
	m.notifyResponseHandlers(tx, resp)
	return nil
}

func (m *DefaultManager) OnRequest(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHandlers = append(m.requestHandlers, handler)
}

func (m *DefaultManager) OnResponse(handler ResponseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseHandlers = append(m.responseHandlers, handler)
}

func (m *DefaultManager) SetTimers(timers Timers) { m.timers = timers }

func (m *DefaultManager) Stats() Stats {
	stats := m.stats
	stats.ActiveTransactions = m.store.Stats().ActiveTransactions
	return stats
}

func (m *DefaultManager) Close() error {
	m.cancel()
	return m.store.Close()
}

func (m *DefaultManager) handleIncomingMessage(msg message.Message, addr net.Addr, t transport.Transport) {
	var err error
	if msg.IsRequest() {
		err = m.HandleRequest(msg, addr)
	} else {
		err = m.HandleResponse(msg, addr)
	}
	if err != nil {
		m.incrementStat(&m.stats.InvalidMessages)
	}
}

func (m *DefaultManager) isMatchingTransaction(tx Transaction, msg message.Message) bool {
	if msg.IsResponse() && tx.IsClient() {
		return tx.Request().GetHeader("CSeq") == msg.GetHeader("CSeq")
	}
	if msg.IsRequest() && tx.IsServer() {
		return message.Method(tx.Request()) == message.Method(msg)
	}
	return false
}

func (m *DefaultManager) notifyRequestHandlers(tx Transaction, req message.Message) {
	m.mu.RLock()
	handlers := make([]RequestHandler, len(m.requestHandlers))
	copy(handlers, m.requestHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, req)
	}
}

func (m *DefaultManager) notifyResponseHandlers(tx Transaction, resp message.Message) {
	m.mu.RLock()
	handlers := make([]ResponseHandler, len(m.responseHandlers))
	copy(handlers, m.responseHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, resp)
	}
}

func (m *DefaultManager) incrementStat(stat *uint64) { atomic.AddUint64(stat, 1) }
func (m *DefaultManager) decrementStat(stat *uint64) { atomic.AddUint64(stat, ^uint64(0)) }
