package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// NonInviteTransaction is the client non-INVITE transaction (NICT,
// RFC 3261 figure 6).
type NonInviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
}

// NewNonInviteTransaction creates and starts a client non-INVITE
// transaction.
func NewNonInviteTransaction(
	id string,
	key transaction.Key,
	request message.Message,
	t transaction.Transport,
	timers transaction.Timers,
) *NonInviteTransaction {
	nict := &NonInviteTransaction{
		BaseTransaction:   NewBaseTransaction(id, key, request, t, timers),
		currentRetransmit: timers.TimerE,
	}

	nict.state = transaction.Trying

	go nict.start()

	return nict
}

func (t *NonInviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.startTryingTimers()
}

func (t *NonInviteTransaction) startTryingTimers() {
	if !t.reliable && t.timers.TimerE > 0 {
		t.startTimer(transaction.TimerE, t.handleTimerE)
	}

	t.startTimer(transaction.TimerF, t.handleTimerF)
}

func (t *NonInviteTransaction) handleTimerE() {
	state := t.State()
	if state != transaction.Trying && state != transaction.Proceeding {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++
	metrics.TransactionRetransmits.WithLabelValues(cseqMethod(t.request)).Inc()

	if state == transaction.Trying {
		t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	} else {
		t.currentRetransmit = t.timers.T2
	}

	t.timerManager.Reset(transaction.TimerE, t.currentRetransmit)
}

// cseqMethod pulls the method token out of a request's CSeq header
// ("1 BYE" -> "BYE"), falling back to "unknown" if it's missing or
// malformed.
func cseqMethod(req message.Message) string {
	fields := strings.Fields(req.GetHeader("CSeq"))
	if len(fields) != 2 {
		return "unknown"
	}
	return fields[1]
}

func (t *NonInviteTransaction) handleTimerF() {
	state := t.State()
	if state == transaction.Trying || state == transaction.Proceeding {
		t.notifyTimeoutHandlers("Timer F")
		t.Terminate()
	}
}

func (t *NonInviteTransaction) HandleResponse(resp message.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
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
		return nil
	default:
		return fmt.Errorf("unexpected response in state %s", state)
	}
}

func (t *NonInviteTransaction) handleResponseInTrying(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		t.changeState(transaction.Proceeding)
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.Completed)

		t.stopTimer(transaction.TimerE)
		t.stopTimer(transaction.TimerF)

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) handleResponseInProceeding(resp message.Message, statusCode int) error {
	if statusCode >= 100 && statusCode <= 199 {
		return nil
	}

	if statusCode >= 200 && statusCode <= 699 {
		t.changeState(transaction.Completed)

		t.stopTimer(transaction.TimerE)
		t.stopTimer(transaction.TimerF)

		t.startCompletedTimers()

		return nil
	}

	return fmt.Errorf("invalid status code: %d", statusCode)
}

func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerK > 0 {
		t.startTimer(transaction.TimerK, t.handleTimerK)
	} else {
		t.Terminate()
	}
}

func (t *NonInviteTransaction) handleTimerK() {
	if t.State() == transaction.Completed {
		t.Terminate()
	}
}

// Cancel is invalid for a non-INVITE transaction (RFC 3261 section 9).
func (t *NonInviteTransaction) Cancel() error {
	return fmt.Errorf("cannot cancel non-INVITE transaction")
}
