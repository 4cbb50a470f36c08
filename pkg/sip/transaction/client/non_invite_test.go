package client

import (
	"testing"
	"time"

	"github.com/outcall/sipvox/pkg/sip/transaction"
)

func TestNonInviteTransactionCreation(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("REGISTER")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	nict := NewNonInviteTransaction("nict-1", key, req, transport, timers)
	
	// allow time for the initial request to be sent
	time.Sleep(10 * time.Millisecond)

	// check basic properties
	if nict.ID() != "nict-1" {
		t.Errorf("ID = %s, want nict-1", nict.ID())
	}

	// non-INVITE starts in state Trying
	if nict.State() != transaction.Trying {
		t.Errorf("State = %s, want Trying", nict.State())
	}

	// check that the request was sent
	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sentMessages))
	}
}

func TestNonInviteTransaction1xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("OPTIONS")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: true,
	}
	
	// short timers for the test
	timers := transaction.Timers{
		T1:     50 * time.Millisecond,
		T2:     200 * time.Millisecond,
		T4:     500 * time.Millisecond,
		TimerE: 50 * time.Millisecond,
		TimerF: 32 * 50 * time.Millisecond, // 32*T1
		TimerK: 500 * time.Millisecond,
	}

	nict := NewNonInviteTransaction("nict-2", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	// state change handler
	var stateChanged bool
	nict.OnStateChange(func(tx transaction.Transaction, old, new transaction.State) {
		if old == transaction.Trying && new == transaction.Proceeding {
			stateChanged = true
		}
	})

	// send 100 Trying
	resp100 := createTestResponse(100, "1 OPTIONS")
	err := nict.HandleResponse(resp100)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	// check transition to Proceeding
	if nict.State() != transaction.Proceeding {
		t.Errorf("State = %s, want Proceeding", nict.State())
	}

	if !stateChanged {
		t.Error("state change handler not invoked")
	}

	// in Proceeding retransmissions continue at interval T2
	time.Sleep(250 * time.Millisecond) // more than T2
	
	// there should be at least one more retransmission
	if len(transport.sentMessages) < 2 {
		t.Errorf("sent %d messages, want at least 2", len(transport.sentMessages))
	}

	// clean up
	nict.Terminate()
}

func TestNonInviteTransaction2xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("REGISTER")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	nict := NewNonInviteTransaction("nict-3", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	// send 200 OK
	resp200 := createTestResponse(200, "1 REGISTER")
	err := nict.HandleResponse(resp200)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	// a reliable transport should move straight to Terminated
	// allow a little time for processing
	time.Sleep(10 * time.Millisecond)
	
	if nict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated for a reliable transport", nict.State())
	}
}

func TestNonInviteTransaction4xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("SUBSCRIBE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "SUBSCRIBE",
		Direction: true,
	}
	
	// short Timer K for the test
	timers := transaction.DefaultTimers()
	timers.TimerK = 100 * time.Millisecond

	nict := NewNonInviteTransaction("nict-4", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	// send 404 Not Found
	resp404 := createTestResponse(404, "1 SUBSCRIBE")
	err := nict.HandleResponse(resp404)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	// should move to Completed
	if nict.State() != transaction.Completed {
		t.Errorf("State = %s, want Completed", nict.State())
	}

	// wait for Timer K
	time.Sleep(150 * time.Millisecond)

	// should move to Terminated
	if nict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated after Timer K", nict.State())
	}
}

func TestNonInviteTransactionRetransmissions(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("MESSAGE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "MESSAGE",
		Direction: true,
	}
	
	// very short timers for the test
	timers := transaction.Timers{
		T1:     20 * time.Millisecond,
		T2:     80 * time.Millisecond,
		T4:     500 * time.Millisecond,
		TimerE: 20 * time.Millisecond,
		TimerF: 640 * time.Millisecond, // 32*T1
		TimerK: 500 * time.Millisecond,
	}

	nict := NewNonInviteTransaction("nict-5", key, req, transport, timers)

	// wait for a few retransmissions in state Trying
	// TimerE: 20ms, 40ms, 80ms, 80ms...
	time.Sleep(200 * time.Millisecond)

	// there should be at least 4 messages
	if len(transport.sentMessages) < 4 {
		t.Errorf("sent %d messages, want at least 4", len(transport.sentMessages))
	}

	// send a response to stop retransmissions
	resp := createTestResponse(200, "1 MESSAGE")
	nict.HandleResponse(resp)

	// clean up
	nict.Terminate()
}

func TestNonInviteTransactionTimeout(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("OPTIONS")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: true,
	}
	
	// very short Timer F for the test
	timers := transaction.DefaultTimers()
	timers.TimerF = 50 * time.Millisecond

	nict := NewNonInviteTransaction("nict-6", key, req, transport, timers)

	// timeout handler
	var timedOut bool
	var timerName string
	nict.OnTimeout(func(tx transaction.Transaction, timer string) {
		timedOut = true
		timerName = timer
	})

	// wait for Timer F
	time.Sleep(100 * time.Millisecond)

	// check the timeout
	if !timedOut {
		t.Error("timeout handler not invoked")
	}

	if timerName != "Timer F" {
		t.Errorf("timerName = %s, want Timer F", timerName)
	}

	// should be in Terminated
	if nict.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated", nict.State())
	}
}

func TestNonInviteTransactionCancel(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("REGISTER")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	nict := NewNonInviteTransaction("nict-7", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	// non-INVITE transactions cannot be cancelled
	err := nict.Cancel()
	if err == nil {
		t.Error("Cancel should return an error for a non-INVITE transaction")
	}

	// clean up
	nict.Terminate()
}

func TestNonInviteTransactionDirectToCompleted(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("NOTIFY")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "NOTIFY",
		Direction: true,
	}
	timers := transaction.DefaultTimers()

	nict := NewNonInviteTransaction("nict-8", key, req, transport, timers)
	time.Sleep(10 * time.Millisecond)

	// send a final response immediately (no 1xx)
	resp200 := createTestResponse(200, "1 NOTIFY")
	err := nict.HandleResponse(resp200)
	if err != nil {
		t.Errorf("HandleResponse returned error: %v", err)
	}

	// should move straight from Trying to Completed
	if nict.State() != transaction.Completed {
		t.Errorf("State = %s, want Completed", nict.State())
	}

	// clean up
	nict.Terminate()
}

func TestNonInviteTransactionReliableVsUnreliable(t *testing.T) {
	// test with a reliable transport
	reliableTransport := &mockTransport{reliable: true}
	req1 := createTestRequest("OPTIONS")
	key1 := transaction.Key{
		Branch:    "z9hG4bK11111",
		Method:    "OPTIONS",
		Direction: true,
	}
	timers1 := transaction.DefaultTimers()

	nict1 := NewNonInviteTransaction("nict-rel", key1, req1, reliableTransport, timers1)
	time.Sleep(50 * time.Millisecond)

	// a reliable transport should have no retransmissions
	if len(reliableTransport.sentMessages) != 1 {
		t.Errorf("reliable transport sent %d messages, want 1", 
			len(reliableTransport.sentMessages))
	}

	// test with an unreliable transport
	unreliableTransport := &mockTransport{reliable: false}
	req2 := createTestRequest("OPTIONS")
	key2 := transaction.Key{
		Branch:    "z9hG4bK22222",
		Method:    "OPTIONS",
		Direction: true,
	}
	
	// short timers for quick retransmissions
	timers2 := transaction.DefaultTimers()
	timers2.TimerE = 20 * time.Millisecond
	timers2.T2 = 80 * time.Millisecond

	nict2 := NewNonInviteTransaction("nict-unrel", key2, req2, unreliableTransport, timers2)
	time.Sleep(100 * time.Millisecond)

	// an unreliable transport should retransmit
	if len(unreliableTransport.sentMessages) < 2 {
		t.Errorf("unreliable transport sent %d messages, want at least 2", 
			len(unreliableTransport.sentMessages))
	}

	// clean up
	nict1.Terminate()
	nict2.Terminate()
}