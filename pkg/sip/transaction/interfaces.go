// Package transaction implements the SIP transaction layer (RFC 3261
// section 17): client/server INVITE and non-INVITE state machines, the
// transaction table, and the retransmission timers that drive them.
package transaction

import (
	"context"
	"net"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// Transaction is one client or server transaction.
type Transaction interface {
	ID() string
	Key() Key
	IsClient() bool
	IsServer() bool

	State() State
	IsCompleted() bool
	IsTerminated() bool

	Request() message.Message
	Response() message.Message
	LastResponse() message.Message

	SendResponse(resp message.Message) error
	SendRequest(req message.Message) error
	Cancel() error

	HandleRequest(req message.Message) error
	HandleResponse(resp message.Message) error

	OnStateChange(handler StateChangeHandler)
	OnResponse(handler ResponseHandler)
	OnTimeout(handler TimeoutHandler)
	OnTransportError(handler TransportErrorHandler)

	Context() context.Context
}

// Manager owns the transaction table: it creates transactions, routes
// inbound messages to the matching one by key, and dispatches unmatched
// requests/responses to the layer above (dialog or TU).
type Manager interface {
	CreateClientTransaction(req message.Message) (Transaction, error)
	CreateServerTransaction(req message.Message) (Transaction, error)

	FindTransaction(key Key) (Transaction, bool)
	FindTransactionByMessage(msg message.Message) (Transaction, bool)

	HandleRequest(req message.Message, addr net.Addr) error
	HandleResponse(resp message.Message, addr net.Addr) error

	OnRequest(handler RequestHandler)
	OnResponse(handler ResponseHandler)

	SetTimers(timers Timers)
	Stats() Stats
	Close() error
}

// Key uniquely identifies a transaction: RFC 3261 section 17.1.3/17.2.3
// match on the top Via branch plus the CSeq method (ACK matches the
// INVITE transaction it acknowledges despite the different method).
type Key struct {
	Branch    string
	Method    string
	Direction bool // true = client, false = server
}

// State is a transaction's position in its RFC 3261 state machine.
type State int

const (
	Calling State = iota
	Proceeding
	Completed
	Terminated

	// Server-only states.
	Trying
	Confirmed
)

func (s State) String() string {
	switch s {
	case Calling:
		return "Calling"
	case Proceeding:
		return "Proceeding"
	case Completed:
		return "Completed"
	case Terminated:
		return "Terminated"
	case Trying:
		return "Trying"
	case Confirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// Timers holds the RFC 3261 section 17.1.1.1 retransmission timers.
type Timers struct {
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration

	TimerA time.Duration // INVITE client request retransmit
	TimerB time.Duration // INVITE client transaction timeout
	TimerC time.Duration // proxy INVITE timeout (unused in a UAC-only stack)
	TimerD time.Duration // INVITE client response retransmit wait
	TimerE time.Duration // non-INVITE client request retransmit
	TimerF time.Duration // non-INVITE client transaction timeout
	TimerG time.Duration // INVITE server response retransmit
	TimerH time.Duration // INVITE server ACK receipt wait
	TimerI time.Duration // INVITE server ACK retransmit absorb
	TimerJ time.Duration // non-INVITE server request retransmit absorb
	TimerK time.Duration // non-INVITE client response retransmit wait
}

// DefaultTimers returns the RFC 3261-recommended timer values for UDP.
func DefaultTimers() Timers {
	t1 := 500 * time.Millisecond
	t2 := 4 * time.Second
	t4 := 5 * time.Second

	return Timers{
		T1: t1,
		T2: t2,
		T4: t4,

		TimerA: t1,
		TimerB: 64 * t1,
		TimerC: 180 * time.Second,
		TimerD: 32 * time.Second,
		TimerE: t1,
		TimerF: 64 * t1,
		TimerG: t1,
		TimerH: 64 * t1,
		TimerI: t4,
		TimerJ: 64 * t1,
		TimerK: t4,
	}
}

// Stats counts transaction-layer activity for metrics export.
type Stats struct {
	ClientTransactions     uint64
	ServerTransactions     uint64
	ActiveTransactions     uint64
	CompletedTransactions  uint64
	TerminatedTransactions uint64
	TimedOutTransactions   uint64

	RequestsSent      uint64
	RequestsReceived  uint64
	ResponsesSent     uint64
	ResponsesReceived uint64

	Retransmissions    uint64
	DuplicateRequests  uint64
	DuplicateResponses uint64

	TransportErrors uint64
	InvalidMessages uint64
}

type StateChangeHandler func(tx Transaction, oldState, newState State)
type ResponseHandler func(tx Transaction, resp message.Message)
type TimeoutHandler func(tx Transaction, timer string)
type TransportErrorHandler func(tx Transaction, err error)
type RequestHandler func(tx Transaction, req message.Message)

// Transport is the subset of the transport layer transactions need:
// send a message, receive messages, and know whether retransmission
// timers apply (RFC 3261 17.1.1: timers A/E only run over unreliable
// transports).
type Transport interface {
	Send(msg message.Message, addr string) error
	OnMessage(handler func(msg message.Message, addr net.Addr))
	IsReliable() bool
}

// Error reports a failed transaction operation with its state at
// the time of failure.
type Error struct {
	Transaction string
	Operation   string
	State       State
	Err         error
}

func (e *Error) Error() string {
	return "transaction " + e.Transaction + " in state " + e.State.String() +
		": " + e.Operation + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the transaction/operation/state that produced it.
func NewError(tx, op string, state State, err error) error {
	return &Error{Transaction: tx, Operation: op, State: state, Err: err}
}
