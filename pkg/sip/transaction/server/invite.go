package server

import (
	"fmt"
	"time"

	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// InviteTransaction is an INVITE server transaction (RFC 3261 figure 7).
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
	finalResponse     message.Message
}

// NewInviteTransaction creates an INVITE server transaction, starting in
// Proceeding (RFC 3261 17.2.1: an IST never sits in Trying).
func NewInviteTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	transport transaction.Transport,
	timers transaction.Timers,
) *InviteTransaction {
	ist := &InviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, transport, timers),
		currentRetransmit: timers.TimerG,
	}

	ist.state = transaction.Proceeding

	return ist
}

// SendResponse sends resp and drives the IST's state machine off its status code.
func (t *InviteTransaction) SendResponse(resp message.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	statusCode := message.StatusCode(resp)
	state := t.State()

	switch state {
	case transaction.Proceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.Completed:
		return t.handleResponseInCompleted(resp, statusCode)
	case transaction.Confirmed:
		return fmt.Errorf("cannot send response in Confirmed state")
	case transaction.Terminated:
		return fmt.Errorf("cannot send response in Terminated state")
	default:
		return fmt.Errorf("unexpected state %s", state)
	}
}

func (t *InviteTransaction) handleResponseInProceeding(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		// No Completed state for a 2xx (RFC 3261 17.2.1): the dialog
		// layer owns retransmission of the 2xx, not this transaction.
		t.Terminate()
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.Completed)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *InviteTransaction) handleResponseInCompleted(resp message.Message, statusCode int) error {
	// Completed only replays the final response already sent.
	if t.finalResponse != nil && statusCode == message.StatusCode(t.finalResponse) {
		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("cannot send different response in Completed state")
}

func (t *InviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerG > 0 {
		t.startTimer(transaction.TimerG, func() {
			t.handleTimerG()
		})
	}

	t.startTimer(transaction.TimerH, func() {
		t.handleTimerH()
	})
}

func (t *InviteTransaction) handleTimerG() {
	if t.State() != transaction.Completed {
		return
	}

	if t.finalResponse != nil {
		if err := t.SendResponse(t.finalResponse); err != nil {
			t.notifyTransportErrorHandlers(err)
			return
		}

		t.retransmitCount++
		metrics.TransactionRetransmits.WithLabelValues("INVITE").Inc()

		t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)

		t.timerManager.Reset(transaction.TimerG, t.currentRetransmit)
	}
}

func (t *InviteTransaction) handleTimerH() {
	if t.State() == transaction.Completed {
		t.notifyTimeoutHandlers("Timer H")
		t.Terminate()
	}
}

// HandleACK processes an inbound ACK, moving Completed -> Confirmed.
func (t *InviteTransaction) HandleACK(ack message.Message) error {
	if message.Method(ack) != "ACK" {
		return fmt.Errorf("not an ACK request")
	}

	switch t.State() {
	case transaction.Completed:
		t.changeState(transaction.Confirmed)

		t.stopTimer(transaction.TimerG)
		t.stopTimer(transaction.TimerH)

		t.startConfirmedTimers()

		return nil

	case transaction.Confirmed:
		// Retransmitted ACKs are absorbed silently.
		return nil

	default:
		return fmt.Errorf("unexpected ACK in state %s", t.State())
	}
}

func (t *InviteTransaction) startConfirmedTimers() {
	if !t.reliable && t.timers.TimerI > 0 {
		t.startTimer(transaction.TimerI, func() {
			t.handleTimerI()
		})
	} else {
		t.Terminate()
	}
}

func (t *InviteTransaction) handleTimerI() {
	if t.State() == transaction.Confirmed {
		t.Terminate()
	}
}

// HandleRequest handles a retransmitted INVITE.
func (t *InviteTransaction) HandleRequest(req message.Message) error {
	if message.Method(req) != "INVITE" {
		return fmt.Errorf("expected INVITE, got %s", message.Method(req))
	}

	return t.BaseTransaction.HandleRequest(req)
}
