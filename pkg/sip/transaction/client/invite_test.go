package client

import (
	"sync"
	"testing"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

func TestInviteTransactionCreation(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
	}()

	ict := NewInviteTransaction("ict-1", key, req, transport, timers)
	wg.Wait()

	if ict.ID() != "ict-1" {
		t.Errorf("ID = %s, want ict-1", ict.ID())
	}

	if ict.State() != transaction.Calling {
		t.Errorf("State = %s, want Calling", ict.State())
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sentMessages))
	}
}

func TestInviteTransaction1xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}

	timers := transaction.Timers{
		T1:     50 * time.Millisecond,
		T2:     200 * time.Millisecond,
		T4:     500 * time.Millisecond,
		TimerA: 50 * time.Millisecond,
		TimerB: 32 * 50 * time.Millisecond,
		TimerD: 500 * time.Millisecond,
	}

	ict := NewInviteTransaction("ict-2", key, req, transport, timers)

	time.Sleep(10 * time.Millisecond)

	var stateChanged bool
	ict.OnStateChange(func(tx transaction.Transaction, old, new transaction.State) {
		if old == transaction.Calling && new == transaction.Proceeding {
			stateChanged = true
		}
	})

	resp100 := createTestResponse(100, "1 INVITE")
	err := ict.HandleResponse(resp100)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	if ict.State() != transaction.Proceeding {
		t.Errorf("State = %s, want Proceeding", ict.State())
	}

	if !stateChanged {
		t.Error("state change handler not invoked")
	}

	time.Sleep(150 * time.Millisecond)
	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1 (retransmissions should have stopped)",
			len(transport.sentMessages))
	}

	resp180 := createTestResponse(180, "1 INVITE")
	err = ict.HandleResponse(resp180)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	if ict.State() != transaction.Proceeding {
		t.Errorf("State = %s, want Proceeding", ict.State())
	}

	ict.Terminate()
}

func TestInviteTransaction2xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	ict := NewInviteTransaction("ict-3", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	resp200 := createTestResponse(200, "1 INVITE")
	err := ict.HandleResponse(resp200)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	if ict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated", ict.State())
	}
}

func TestInviteTransaction4xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}

	timers := transaction.DefaultTimers()
	timers.TimerD = 100 * time.Millisecond

	ict := NewInviteTransaction("ict-4", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	resp404 := createTestResponse(404, "1 INVITE")
	err := ict.HandleResponse(resp404)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	if ict.State() != transaction.Completed {
		t.Errorf("State = %s, want Completed", ict.State())
	}

	time.Sleep(150 * time.Millisecond)

	if ict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated after Timer D", ict.State())
	}
}

func TestInviteTransactionRetransmissions(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}

	timers := transaction.Timers{
		T1:     20 * time.Millisecond,
		T2:     80 * time.Millisecond,
		T4:     500 * time.Millisecond,
		TimerA: 20 * time.Millisecond,
		TimerB: 640 * time.Millisecond,
		TimerD: 500 * time.Millisecond,
	}

	ict := NewInviteTransaction("ict-5", key, req, transport, timers)

	// TimerA: 20ms, 40ms, 80ms, 80ms...
	time.Sleep(200 * time.Millisecond)

	if len(transport.sentMessages) < 4 {
		t.Errorf("sent %d messages, want at least 4", len(transport.sentMessages))
	}

	resp := createTestResponse(100, "1 INVITE")
	ict.HandleResponse(resp)

	ict.Terminate()
}

func TestInviteTransactionTimeout(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}

	timers := transaction.DefaultTimers()
	timers.TimerB = 50 * time.Millisecond

	ict := NewInviteTransaction("ict-6", key, req, transport, timers)

	var timedOut bool
	var timerName string
	ict.OnTimeout(func(tx transaction.Transaction, timer string) {
		timedOut = true
		timerName = timer
	})

	time.Sleep(100 * time.Millisecond)

	if !timedOut {
		t.Error("timeout handler not invoked")
	}

	if timerName != "Timer B" {
		t.Errorf("timerName = %s, want Timer B", timerName)
	}

	if ict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated", ict.State())
	}
}

func TestInviteTransactionCancel(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	ict := NewInviteTransaction("ict-7", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	err := ict.Cancel()
	if err == nil {
		t.Error("Cancel should return an error in state Calling")
	}

	resp := createTestResponse(100, "1 INVITE")
	ict.HandleResponse(resp)

	err = ict.Cancel()
	if err != nil {
		t.Errorf("Cancel returned error: %v", err)
	}

	if len(transport.sentMessages) < 2 {
		t.Error("CANCEL was not sent")
	} else {
		lastMsg := transport.sentMessages[len(transport.sentMessages)-1]
		if message.Method(lastMsg) != "CANCEL" {
			t.Errorf("last message is not CANCEL: %s", message.Method(lastMsg))
		}
	}

	ict.Terminate()
}

func TestInviteTransactionResponseRetransmission(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	ict := NewInviteTransaction("ict-8", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	resp486 := createTestResponse(486, "1 INVITE")
	ict.HandleResponse(resp486)

	if ict.State() != transaction.Completed {
		t.Errorf("State = %s, want Completed", ict.State())
	}

	sentBefore := len(transport.sentMessages)

	ict.HandleResponse(resp486)

	if got := len(transport.sentMessages); got != sentBefore+1 {
		t.Errorf("sent %d messages after the retransmitted 486, want %d (one more ACK)", got, sentBefore+1)
	}

	ict.Terminate()
}
