package client

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// TestCancelIntegration walks the full CANCEL flow for an INVITE
// transaction: INVITE sent, 100 Trying received, CANCEL sent, 487
// received and ACKed.
func TestCancelIntegration(t *testing.T) {
	transport := &MockTransportWithChannels{
		messages: make(chan message.Message, 10),
		targets:  make(chan string, 10),
	}

	invite := createTestINVITE()
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: true,
	}

	inviteTx := NewInviteTransaction(
		"invite-tx-1",
		key,
		invite,
		transport,
		transaction.DefaultTimers(),
	)

	select {
	case msg := <-transport.messages:
		if message.Method(msg) != "INVITE" {
			t.Fatalf("expected INVITE, got %s", message.Method(msg))
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("INVITE was not sent")
	}

	trying := message.NewResponse(100, "Trying")
	trying.SetHeader("Via", invite.GetHeader("Via"))
	trying.SetHeader("From", invite.GetHeader("From"))
	trying.SetHeader("To", invite.GetHeader("To"))
	trying.SetHeader("Call-ID", invite.GetHeader("Call-ID"))
	trying.SetHeader("CSeq", invite.GetHeader("CSeq"))

	err := inviteTx.HandleResponse(trying)
	if err != nil {
		t.Fatalf("error handling 100 Trying: %v", err)
	}

	if inviteTx.State() != transaction.Proceeding {
		t.Fatalf("expected state Proceeding, got %s", inviteTx.State())
	}

	err = inviteTx.Cancel()
	if err != nil {
		t.Fatalf("error sending CANCEL: %v", err)
	}

	select {
	case msg := <-transport.messages:
		if message.Method(msg) != "CANCEL" {
			t.Fatalf("expected CANCEL, got %s", message.Method(msg))
		}

		if msg.GetHeader("Via") != invite.GetHeader("Via") {
			t.Error("CANCEL's Via header should match the INVITE")
		}
		if msg.GetHeader("Call-ID") != invite.GetHeader("Call-ID") {
			t.Error("CANCEL's Call-ID header should match the INVITE")
		}

		cancelCSeq := msg.GetHeader("CSeq")
		if cancelCSeq != "1 CANCEL" {
			t.Errorf("expected CSeq '1 CANCEL', got '%s'", cancelCSeq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("CANCEL was not sent")
	}

	terminated := message.NewResponse(487, "Request Terminated")
	terminated.SetHeader("Via", invite.GetHeader("Via"))
	terminated.SetHeader("From", invite.GetHeader("From"))
	terminated.SetHeader("To", invite.GetHeader("To")+";tag=287447")
	terminated.SetHeader("Call-ID", invite.GetHeader("Call-ID"))
	terminated.SetHeader("CSeq", invite.GetHeader("CSeq"))

	err = inviteTx.HandleResponse(terminated)
	if err != nil {
		t.Fatalf("error handling 487: %v", err)
	}

	if inviteTx.State() != transaction.Completed {
		t.Fatalf("expected state Completed, got %s", inviteTx.State())
	}

	select {
	case msg := <-transport.messages:
		if message.Method(msg) != "ACK" {
			t.Fatalf("expected ACK, got %s", message.Method(msg))
		}

		if msg.GetHeader("Via") != invite.GetHeader("Via") {
			t.Error("ACK's Via header should match the INVITE")
		}
		if msg.GetHeader("Call-ID") != invite.GetHeader("Call-ID") {
			t.Error("ACK's Call-ID header should match the INVITE")
		}
		if msg.GetHeader("To") != terminated.GetHeader("To") {
			t.Error("ACK's To header should carry the response's tag")
		}

		ackCSeq := msg.GetHeader("CSeq")
		if ackCSeq != "1 ACK" {
			t.Errorf("expected CSeq '1 ACK', got '%s'", ackCSeq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ACK was not sent")
	}
}

// MockTransportWithChannels hands every sent message off through a
// channel so tests can synchronize on it instead of polling.
type MockTransportWithChannels struct {
	messages chan message.Message
	targets  chan string
	reliable bool
	mu       sync.Mutex
}

func (m *MockTransportWithChannels) Send(msg message.Message, addr string) error {
	m.messages <- msg
	m.targets <- addr
	return nil
}

func (m *MockTransportWithChannels) OnMessage(handler func(msg message.Message, addr net.Addr)) {}

func (m *MockTransportWithChannels) IsReliable() bool {
	return m.reliable
}

func TestCancelRaceCondition(t *testing.T) {
	transport := &MockTransport{}
	invite := createTestINVITE()
	key := transaction.Key{
		Branch:    "z9hG4bKrace",
		Method:    "INVITE",
		Direction: true,
	}

	tx := &InviteTransaction{
		BaseTransaction: NewBaseTransaction(
			"race-tx",
			key,
			invite,
			transport,
			transaction.DefaultTimers(),
		),
	}

	tx.BaseTransaction.state = transaction.Proceeding

	transport.sentMessages = nil

	var wg sync.WaitGroup
	errors := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := tx.Cancel()
			if err != nil {
				errors <- fmt.Errorf("goroutine %d: %v", id, err)
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Logf("error: %v", err)
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("expected 1 CANCEL, sent %d", len(transport.sentMessages))
	}

	if len(transport.sentMessages) > 0 {
		cancel := transport.sentMessages[0]
		if message.Method(cancel) != "CANCEL" {
			t.Errorf("expected CANCEL, got %s", message.Method(cancel))
		}
	}
}

func TestCancelAfterFinalResponse(t *testing.T) {
	transport := &MockTransport{}
	invite := createTestINVITE()
	key := transaction.Key{
		Branch:    "z9hG4bKfinal",
		Method:    "INVITE",
		Direction: true,
	}

	tx := NewInviteTransaction(
		"final-tx",
		key,
		invite,
		transport,
		transaction.DefaultTimers(),
	)

	tx.BaseTransaction.state = transaction.Terminated

	err := tx.Cancel()
	if err == nil {
		t.Error("expected an error cancelling a terminated transaction")
	}

	expectedError := "can only cancel transaction in Proceeding state, current state: Terminated"
	if err.Error() != expectedError {
		t.Errorf("expected error %q, got %q", expectedError, err.Error())
	}

	if len(transport.sentMessages) != 0 {
		t.Errorf("expected no sent messages, sent %d", len(transport.sentMessages))
	}
}

func TestCancelRequestURIHandling(t *testing.T) {
	testCases := []struct {
		name        string
		host        string
		port        int
		expectedURI string
	}{
		{
			name:        "explicit port",
			host:        "example.com",
			port:        5070,
			expectedURI: "example.com:5070",
		},
		{
			name:        "no port (defaults to 5060)",
			host:        "example.com",
			port:        0,
			expectedURI: "example.com:5060",
		},
		{
			name:        "IPv6 address with port",
			host:        "2001:db8::1",
			port:        5060,
			expectedURI: "2001:db8::1:5060",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &MockTransport{}

			uri := &message.URI{Scheme: "sip", User: "bob", Host: tc.host, Port: tc.port}

			invite := message.NewRequest("INVITE", uri)
			invite.SetHeader("Via", "SIP/2.0/UDP client.example.com:5060;branch=z9hG4bKuri")
			invite.SetHeader("From", "Alice <sip:alice@example.com>;tag=9fxced76sl")
			invite.SetHeader("To", "Bob <sip:bob@example.com>")
			invite.SetHeader("Call-ID", "uri-test@example.com")
			invite.SetHeader("CSeq", "1 INVITE")

			key := transaction.Key{
				Branch:    "z9hG4bKuri",
				Method:    "INVITE",
				Direction: true,
			}

			tx := NewBaseTransaction(
				"uri-tx",
				key,
				invite,
				transport,
				transaction.DefaultTimers(),
			)

			tx.state = transaction.Proceeding

			err := tx.Cancel()
			if err != nil {
				t.Fatalf("error sending CANCEL: %v", err)
			}

			if len(transport.sentTargets) != 1 {
				t.Fatalf("expected 1 target address, got %d", len(transport.sentTargets))
			}

			if transport.sentTargets[0] != tc.expectedURI {
				t.Errorf("expected address %q, got %q", tc.expectedURI, transport.sentTargets[0])
			}
		})
	}
}
