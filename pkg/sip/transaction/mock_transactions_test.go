package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// testMockTransaction implements Transaction for manager-level tests
// that don't need real INVITE/non-INVITE state machines.
type testMockTransaction struct {
	id           string
	key          Key
	isClient     bool
	state        State
	request      message.Message
	response     message.Message
	lastResponse message.Message

	mu                     sync.RWMutex
	stateChangeHandlers    []StateChangeHandler
	responseHandlers       []ResponseHandler
	timeoutHandlers        []TimeoutHandler
	transportErrorHandlers []TransportErrorHandler

	ctx    context.Context
	cancel context.CancelFunc
}

func newMockClientTransaction(id string, key Key, request message.Message) *testMockTransaction {
	ctx, cancel := context.WithCancel(context.Background())
	state := Calling
	if message.Method(request) != "INVITE" {
		state = Trying
	}
	return &testMockTransaction{
		id:       id,
		key:      key,
		isClient: true,
		state:    state,
		request:  request,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func newMockServerTransaction(id string, key Key, request message.Message) *testMockTransaction {
	ctx, cancel := context.WithCancel(context.Background())
	state := Trying
	if message.Method(request) == "INVITE" {
		state = Proceeding
	}
	return &testMockTransaction{
		id:       id,
		key:      key,
		isClient: false,
		state:    state,
		request:  request,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *testMockTransaction) ID() string               { return t.id }
func (t *testMockTransaction) Key() Key                  { return t.key }
func (t *testMockTransaction) IsClient() bool            { return t.isClient }
func (t *testMockTransaction) IsServer() bool            { return !t.isClient }
func (t *testMockTransaction) State() State              { return t.state }
func (t *testMockTransaction) IsCompleted() bool         { return t.state == Completed }
func (t *testMockTransaction) IsTerminated() bool        { return t.state == Terminated }
func (t *testMockTransaction) Request() message.Message  { return t.request }
func (t *testMockTransaction) Response() message.Message { return t.response }
func (t *testMockTransaction) LastResponse() message.Message {
	return t.lastResponse
}
func (t *testMockTransaction) Context() context.Context { return t.ctx }

func (t *testMockTransaction) SendResponse(resp message.Message) error {
	if t.isClient {
		return fmt.Errorf("client transaction cannot send responses")
	}
	t.response = resp
	t.lastResponse = resp
	return nil
}

func (t *testMockTransaction) SendRequest(req message.Message) error {
	if !t.isClient {
		return fmt.Errorf("server transaction cannot send requests")
	}
	return nil
}

func (t *testMockTransaction) Cancel() error {
	if !t.isClient {
		return fmt.Errorf("server transaction cannot be cancelled")
	}
	if t.state != Proceeding {
		return fmt.Errorf("can only cancel transaction in Proceeding state")
	}
	return nil
}

func (t *testMockTransaction) HandleRequest(req message.Message) error {
	if t.isClient {
		return fmt.Errorf("client transaction cannot handle requests")
	}
	return nil
}

func (t *testMockTransaction) HandleResponse(resp message.Message) error {
	if !t.isClient {
		return fmt.Errorf("server transaction cannot handle responses")
	}
	t.response = resp
	t.lastResponse = resp

	status := message.StatusCode(resp)
	if status >= 200 && status <= 299 {
		t.changeState(Terminated)
	} else if status >= 300 && status <= 699 {
		t.changeState(Completed)
	}

	return nil
}

func (t *testMockTransaction) OnStateChange(handler StateChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateChangeHandlers = append(t.stateChangeHandlers, handler)
}

func (t *testMockTransaction) OnResponse(handler ResponseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responseHandlers = append(t.responseHandlers, handler)
}

func (t *testMockTransaction) OnTimeout(handler TimeoutHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutHandlers = append(t.timeoutHandlers, handler)
}

func (t *testMockTransaction) OnTransportError(handler TransportErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transportErrorHandlers = append(t.transportErrorHandlers, handler)
}

func (t *testMockTransaction) changeState(newState State) {
	t.mu.Lock()
	oldState := t.state
	t.state = newState
	handlers := make([]StateChangeHandler, len(t.stateChangeHandlers))
	copy(handlers, t.stateChangeHandlers)
	t.mu.Unlock()

	for _, handler := range handlers {
		handler(t, oldState, newState)
	}
}

// mockTransactionCreator implements Creator for manager-level tests.
type mockTransactionCreator struct {
	transport Transport
}

func (c *mockTransactionCreator) CreateClientInviteTransaction(
	id string,
	key Key,
	request message.Message,
	transport Transport,
	timers Timers,
) Transaction {
	tx := newMockClientTransaction(id, key, request)
	go func() {
		transport.Send(request, "dummy:5060")
	}()
	return tx
}

func (c *mockTransactionCreator) CreateClientNonInviteTransaction(
	id string,
	key Key,
	request message.Message,
	transport Transport,
	timers Timers,
) Transaction {
	tx := newMockClientTransaction(id, key, request)
	go func() {
		transport.Send(request, "dummy:5060")
	}()
	return tx
}

func (c *mockTransactionCreator) CreateServerInviteTransaction(
	id string,
	key Key,
	request message.Message,
	transport Transport,
	timers Timers,
) Transaction {
	return newMockServerTransaction(id, key, request)
}

func (c *mockTransactionCreator) CreateServerNonInviteTransaction(
	id string,
	key Key,
	request message.Message,
	transport Transport,
	timers Timers,
) Transaction {
	return newMockServerTransaction(id, key, request)
}
