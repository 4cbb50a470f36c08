package server

import (
	"fmt"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// NonInviteTransaction is a non-INVITE server transaction (RFC 3261 figure 8).
type NonInviteTransaction struct {
	*BaseTransaction

	finalResponse message.Message
}

// NewNonInviteTransaction creates a non-INVITE server transaction, starting
// in Trying (set by NewBaseTransaction).
func NewNonInviteTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	transport transaction.Transport,
	timers transaction.Timers,
) *NonInviteTransaction {
	return &NonInviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers),
	}
}

// SendResponse sends resp and drives the NIST's state machine off its status code.
func (t *NonInviteTransaction) SendResponse(resp message.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	statusCode := message.StatusCode(resp)
	state := t.State()

	switch state {
	case transaction.Trying:
		return t.handleResponseInTrying(resp, statusCode)
	case transaction.Proceeding:
		return t.handleResponseInProceeding(resp, statusCode)
	case transaction.Completed:
		return t.handleResponseInCompleted(resp, statusCode)
	case transaction.Terminated:
		return fmt.Errorf("cannot send response in Terminated state")
	default:
		return fmt.Errorf("unexpected state %s", state)
	}
}

func (t *NonInviteTransaction) handleResponseInTrying(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.Proceeding)

		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.Completed)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) handleResponseInProceeding(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.notifyResponseHandlers(resp)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.Completed)
		t.finalResponse = resp

		t.startCompletedTimers()

		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) handleResponseInCompleted(resp message.Message, statusCode int) error {
	// Completed only replays the final response already sent.
	if t.finalResponse != nil && statusCode == message.StatusCode(t.finalResponse) {
		t.notifyResponseHandlers(resp)
		return nil
	}

	return fmt.Errorf("cannot send different response in Completed state")
}

func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerJ > 0 {
		t.startTimer(transaction.TimerJ, func() {
			t.handleTimerJ()
		})
	} else {
		t.Terminate()
	}
}

func (t *NonInviteTransaction) handleTimerJ() {
	if t.State() == transaction.Completed {
		t.Terminate()
	}
}

// HandleRequest handles a retransmitted request by replaying the last
// response sent.
func (t *NonInviteTransaction) HandleRequest(req message.Message) error {
	if message.Method(req) != message.Method(t.request) {
		return fmt.Errorf("method mismatch: expected %s, got %s", message.Method(t.request), message.Method(req))
	}

	return t.BaseTransaction.HandleRequest(req)
}
