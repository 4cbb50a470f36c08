package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// BaseTransaction is the common state shared by the client INVITE and
// non-INVITE transactions.
type BaseTransaction struct {
	id  string
	key transaction.Key

	mu    sync.RWMutex
	state transaction.State

	request      message.Message
	lastResponse message.Message
	responses    []message.Message

	timerManager *transaction.TimerManager
	timers       transaction.Timers

	transport transaction.Transport
	reliable  bool

	stateChangeHandlers    []transaction.StateChangeHandler
	responseHandlers       []transaction.ResponseHandler
	timeoutHandlers        []transaction.TimeoutHandler
	transportErrorHandlers []transaction.TransportErrorHandler

	ctx    context.Context
	cancel context.CancelFunc

	cancelSent bool
}

// NewBaseTransaction builds the shared client transaction state.
func NewBaseTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	t transaction.Transport,
	timers transaction.Timers,
) *BaseTransaction {
	ctx, cancel := context.WithCancel(context.Background())

	if t.IsReliable() {
		timers = timers.AdjustForReliableTransport()
	}

	return &BaseTransaction{
		id:           id,
		key:          key,
		state:        transaction.Calling,
		request:      request,
		responses:    make([]message.Message, 0),
		timerManager: transaction.NewTimerManager(),
		timers:       timers,
		transport:    t,
		reliable:     t.IsReliable(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (t *BaseTransaction) ID() string { return t.id }

func (t *BaseTransaction) Key() transaction.Key { return t.key }

func (t *BaseTransaction) IsClient() bool { return true }

func (t *BaseTransaction) IsServer() bool { return false }

func (t *BaseTransaction) State() transaction.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *BaseTransaction) IsCompleted() bool {
	return t.State() == transaction.Completed
}

func (t *BaseTransaction) IsTerminated() bool {
	return t.State() == transaction.Terminated
}

func (t *BaseTransaction) Request() message.Message { return t.request }

func (t *BaseTransaction) Response() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[0]
	}
	return nil
}

func (t *BaseTransaction) LastResponse() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastResponse
}

// SendResponse is invalid on a client transaction.
func (t *BaseTransaction) SendResponse(resp message.Message) error {
	return fmt.Errorf("client transaction cannot send responses")
}

func (t *BaseTransaction) SendRequest(req message.Message) error {
	r, ok := req.(*message.Request)
	if !ok || r.RequestURI == nil {
		return fmt.Errorf("request URI is nil")
	}
	return t.transport.Send(req, targetForURI(r.RequestURI))
}

// Cancel builds a CANCEL for the pending INVITE (RFC 3261 section 9) and
// sends it over this transaction's own transport. It is allowed only in
// Proceeding. Once a CANCEL has gone out, further calls return nil
// without sending again; a failed send clears that mark.
func (t *BaseTransaction) Cancel() error {
	t.mu.Lock()

	if t.cancelSent {
		t.mu.Unlock()
		return nil
	}

	if t.state != transaction.Proceeding {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("can only cancel transaction in Proceeding state, current state: %s", state)
	}

	req, ok := t.request.(*message.Request)
	if !ok || req.Method != "INVITE" {
		t.mu.Unlock()
		return fmt.Errorf("CANCEL can only be sent for INVITE transactions")
	}

	t.cancelSent = true
	t.mu.Unlock()

	builder := transaction.NewMessageBuilder()
	cancel, err := builder.BuildCANCEL(req)
	if err != nil {
		return fmt.Errorf("failed to build CANCEL: %w", err)
	}

	if err := t.transport.Send(cancel, targetForURI(req.RequestURI)); err != nil {
		t.mu.Lock()
		t.cancelSent = false
		t.mu.Unlock()
		return fmt.Errorf("failed to send CANCEL: %w", err)
	}

	return nil
}

func targetForURI(uri *message.URI) string {
	if uri.Port == 0 {
		return fmt.Sprintf("%s:5060", uri.Host)
	}
	return fmt.Sprintf("%s:%d", uri.Host, uri.Port)
}

func (t *BaseTransaction) OnStateChange(handler transaction.StateChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateChangeHandlers = append(t.stateChangeHandlers, handler)
}

func (t *BaseTransaction) OnResponse(handler transaction.ResponseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responseHandlers = append(t.responseHandlers, handler)
}

func (t *BaseTransaction) OnTimeout(handler transaction.TimeoutHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutHandlers = append(t.timeoutHandlers, handler)
}

func (t *BaseTransaction) OnTransportError(handler transaction.TransportErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transportErrorHandlers = append(t.transportErrorHandlers, handler)
}

func (t *BaseTransaction) Context() context.Context { return t.ctx }

// HandleRequest is invalid on a client transaction.
func (t *BaseTransaction) HandleRequest(req message.Message) error {
	return fmt.Errorf("client transaction cannot handle requests")
}

func (t *BaseTransaction) HandleResponse(resp message.Message) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	reqCSeq := t.request.GetHeader("CSeq")
	respCSeq := resp.GetHeader("CSeq")
	if reqCSeq != respCSeq {
		return fmt.Errorf("CSeq mismatch: expected %s, got %s", reqCSeq, respCSeq)
	}

	t.mu.Lock()
	t.lastResponse = resp
	t.responses = append(t.responses, resp)
	t.mu.Unlock()

	t.notifyResponseHandlers(resp)

	return nil
}

func (t *BaseTransaction) Terminate() {
	t.changeState(transaction.Terminated)
	t.timerManager.StopAll()
	t.cancel()
}

func (t *BaseTransaction) changeState(newState transaction.State) {
	t.mu.Lock()
	oldState := t.state
	if oldState == newState {
		t.mu.Unlock()
		return
	}
	t.state = newState
	t.mu.Unlock()

	t.notifyStateChangeHandlers(oldState, newState)
}

func (t *BaseTransaction) notifyStateChangeHandlers(oldState, newState transaction.State) {
	t.mu.RLock()
	handlers := make([]transaction.StateChangeHandler, len(t.stateChangeHandlers))
	copy(handlers, t.stateChangeHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, oldState, newState)
	}
}

func (t *BaseTransaction) notifyResponseHandlers(resp message.Message) {
	t.mu.RLock()
	handlers := make([]transaction.ResponseHandler, len(t.responseHandlers))
	copy(handlers, t.responseHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, resp)
	}
}

func (t *BaseTransaction) notifyTimeoutHandlers(timer string) {
	t.mu.RLock()
	handlers := make([]transaction.TimeoutHandler, len(t.timeoutHandlers))
	copy(handlers, t.timeoutHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, timer)
	}
}

func (t *BaseTransaction) notifyTransportErrorHandlers(err error) {
	t.mu.RLock()
	handlers := make([]transaction.TransportErrorHandler, len(t.transportErrorHandlers))
	copy(handlers, t.transportErrorHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, err)
	}
}

func (t *BaseTransaction) startTimer(id transaction.TimerID, callback func()) {
	duration := t.timers.GetTimerDuration(id)
	if duration > 0 {
		t.timerManager.Start(id, duration, callback)
	}
}

func (t *BaseTransaction) stopTimer(id transaction.TimerID) {
	t.timerManager.Stop(id)
}

func (t *BaseTransaction) isTimerActive(id transaction.TimerID) bool {
	return t.timerManager.IsActive(id)
}
