package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// BaseTransaction is the shared state and behavior of a server transaction.
type BaseTransaction struct {
	id  string
	key transaction.Key

	mu    sync.RWMutex
	state transaction.State

	request   message.Message
	responses []message.Message

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
}

// NewBaseTransaction creates a server transaction in its initial state.
func NewBaseTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	transport transaction.Transport,
	timers transaction.Timers,
) *BaseTransaction {
	ctx, cancel := context.WithCancel(context.Background())

	if transport.IsReliable() {
		timers = timers.AdjustForReliableTransport()
	}

	return &BaseTransaction{
		id:           id,
		key:          key,
		state:        transaction.Trying,
		request:      request,
		responses:    make([]message.Message, 0),
		timerManager: transaction.NewTimerManager(),
		timers:       timers,
		transport:    transport,
		reliable:     transport.IsReliable(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (t *BaseTransaction) ID() string {
	return t.id
}

func (t *BaseTransaction) Key() transaction.Key {
	return t.key
}

func (t *BaseTransaction) IsClient() bool {
	return false
}

func (t *BaseTransaction) IsServer() bool {
	return true
}

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

func (t *BaseTransaction) Request() message.Message {
	return t.request
}

// Response returns the first response sent on this transaction.
func (t *BaseTransaction) Response() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[0]
	}
	return nil
}

// LastResponse returns the most recently sent response.
func (t *BaseTransaction) LastResponse() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[len(t.responses)-1]
	}
	return nil
}

// SendRequest always fails: a server transaction never originates requests.
func (t *BaseTransaction) SendRequest(req message.Message) error {
	return fmt.Errorf("server transaction cannot send requests")
}

// SendResponse sends resp to the address recorded in the request's Via header.
func (t *BaseTransaction) SendResponse(resp message.Message) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	reqCSeq := t.request.GetHeader("CSeq")
	respCSeq := resp.GetHeader("CSeq")
	if reqCSeq != respCSeq {
		return fmt.Errorf("CSeq mismatch: request has %s, response has %s", reqCSeq, respCSeq)
	}

	t.mu.Lock()
	t.responses = append(t.responses, resp)
	t.mu.Unlock()

	viaHeader := t.request.GetHeader("Via")
	if viaHeader == "" {
		return fmt.Errorf("no Via header in request")
	}

	via, err := message.ParseVia(viaHeader)
	if err != nil {
		return fmt.Errorf("failed to parse Via header: %v", err)
	}

	target := via.GetAddress()

	return t.transport.Send(resp, target)
}

// Cancel always fails: CANCEL targets a client transaction, never a server one.
func (t *BaseTransaction) Cancel() error {
	return fmt.Errorf("server transaction cannot be cancelled")
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

func (t *BaseTransaction) Context() context.Context {
	return t.ctx
}

// HandleRequest handles a retransmitted request by replaying the last
// response sent, if any (RFC 3261 17.2.1/17.2.2).
func (t *BaseTransaction) HandleRequest(req message.Message) error {
	lastResp := t.LastResponse()
	if lastResp != nil {
		return t.SendResponse(lastResp)
	}
	return nil
}

// Terminate moves the transaction to Terminated and stops its timers.
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

// HandleResponse always fails: a server transaction consumes requests and
// produces responses, never the other way round.
func (t *BaseTransaction) HandleResponse(resp message.Message) error {
	return fmt.Errorf("server transaction cannot handle responses")
}
