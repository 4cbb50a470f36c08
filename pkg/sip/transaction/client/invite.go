package client

import (
	"fmt"
	"time"

	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// InviteTransaction is the client INVITE transaction (ICT, RFC 3261
// figure 5).
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration

	finalResponse message.Message
}

// NewInviteTransaction creates and starts a client INVITE transaction.
func NewInviteTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	t transaction.Transport,
	timers transaction.Timers,
) *InviteTransaction {
	ict := &InviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, t, timers),
		currentRetransmit: timers.TimerA,
	}

	go ict.start()

	return ict
}

func (t *InviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.startCallingTimers()
}

func (t *InviteTransaction) startCallingTimers() {
	if !t.reliable && t.timers.TimerA > 0 {
		t.startTimer(transaction.TimerA, t.handleTimerA)
	}

	t.startTimer(transaction.TimerB, t.handleTimerB)
}

func (t *InviteTransaction) handleTimerA() {
	if t.State() != transaction.Calling {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++
	metrics.TransactionRetransmits.WithLabelValues("INVITE").Inc()

	t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	t.timerManager.Reset(transaction.TimerA, t.currentRetransmit)
}

func (t *InviteTransaction) handleTimerB() {
	state := t.State()
	if state == transaction.Calling || state == transaction.Proceeding {
		t.notifyTimeoutHandlers("Timer B")
		t.Terminate()
	}
}

func (t *InviteTransaction) HandleResponse(resp message.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
		return err
	}

	statusCode := message.StatusCode(resp)
	state := t.State()

	switch state {
	case transaction.Calling:
		return t.handleResponseInCalling(resp, statusCode)
	case transaction.Proceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.Completed:
		return t.handleResponseInCompleted(resp, statusCode)
	default:
		return fmt.Errorf("unexpected response in state %s", state)
	}
}

func (t *InviteTransaction) handleResponseInCalling(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.Proceeding)
		t.stopTimer(transaction.TimerA)
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		// No Completed state for a 2xx (RFC 3261 17.1.1.2): the dialog
		// layer owns the ACK for a 2xx, so this transaction is done.
		t.Terminate()
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.Completed)
		t.finalResponse = resp

		t.stopTimer(transaction.TimerA)
		t.stopTimer(transaction.TimerB)

		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *InviteTransaction) handleResponseInProceeding(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		return nil
	}

	if statusCode >= 200 && statusCode <= 299 {
		t.Terminate()
		return nil
	}

	if statusCode >= 300 && statusCode <= 699 {
		t.changeState(transaction.Completed)
		t.finalResponse = resp

		t.stopTimer(transaction.TimerB)

		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *InviteTransaction) handleResponseInCompleted(resp message.Message, statusCode int) error {
	// A retransmitted non-2xx final response gets another ACK (RFC
	// 3261 17.1.1.2); the TU is not notified again.
	if statusCode >= 300 && statusCode <= 699 {
		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to retransmit ACK: %w", err)
		}
	}

	return nil
}

func (t *InviteTransaction) startCompletedTimers() {
	t.startTimer(transaction.TimerD, t.handleTimerD)
}

func (t *InviteTransaction) handleTimerD() {
	if t.State() == transaction.Completed {
		t.Terminate()
	}
}

func (t *InviteTransaction) sendACK(resp message.Message) error {
	req, ok := t.request.(*message.Request)
	if !ok {
		return fmt.Errorf("transaction request is not a *message.Request")
	}
	respMsg, ok := resp.(*message.Response)
	if !ok {
		return fmt.Errorf("response is not a *message.Response")
	}

	builder := transaction.NewMessageBuilder()
	ack, err := builder.BuildACKForNon2xx(req, respMsg)
	if err != nil {
		return fmt.Errorf("failed to build ACK: %w", err)
	}

	if err := t.transport.Send(ack, targetForURI(req.RequestURI)); err != nil {
		return fmt.Errorf("failed to send ACK: %w", err)
	}

	return nil
}

func (t *InviteTransaction) Cancel() error {
	return t.BaseTransaction.Cancel()
}
