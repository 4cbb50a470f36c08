package server

import (
	"net"
	"testing"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// mockTransport implements transaction.Transport for tests.
type mockTransport struct {
	sentMessages []sentMessage
	reliable     bool
	sendError    error
}

type sentMessage struct {
	msg    message.Message
	target string
}

func (m *mockTransport) Send(msg message.Message, addr string) error {
	if m.sendError != nil {
		return m.sendError
	}
	m.sentMessages = append(m.sentMessages, sentMessage{msg: msg, target: addr})
	return nil
}

func (m *mockTransport) OnMessage(handler func(msg message.Message, addr net.Addr)) {}

func (m *mockTransport) IsReliable() bool {
	return m.reliable
}

func createTestRequest(method string) *message.Request {
	uri := &message.URI{Scheme: "sip", User: "bob", Host: "example.com", Port: 5060}
	req := message.NewRequest(method, uri)
	req.SetHeader("Via", "SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK74bf9")
	req.SetHeader("From", "Alice <sip:alice@example.com>;tag=9fxced76sl")
	req.SetHeader("To", "Bob <sip:bob@example.com>")
	req.SetHeader("Call-ID", "3848276298220188511@example.com")
	req.SetHeader("CSeq", "1 "+method)
	return req
}

func createTestResponse(statusCode int, cseq string) *message.Response {
	resp := message.NewResponse(statusCode, getReasonPhrase(statusCode))
	resp.SetHeader("Via", "SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK74bf9")
	resp.SetHeader("From", "Alice <sip:alice@example.com>;tag=9fxced76sl")
	resp.SetHeader("To", "Bob <sip:bob@example.com>;tag=8321234356")
	resp.SetHeader("Call-ID", "3848276298220188511@example.com")
	resp.SetHeader("CSeq", cseq)
	return resp
}

func getReasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 200:
		return "OK"
	case 404:
		return "Not Found"
	case 486:
		return "Busy Here"
	case 500:
		return "Server Internal Error"
	default:
		return ""
	}
}

func TestBaseTransaction(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("OPTIONS")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: false, // server
	}
	timers := transaction.DefaultTimers()

	tx := NewBaseTransaction("test-tx-1", key, req, transport, timers)

	if tx.ID() != "test-tx-1" {
		t.Errorf("ID = %s, want test-tx-1", tx.ID())
	}

	if tx.IsClient() || !tx.IsServer() {
		t.Error("expected a server transaction")
	}

	if tx.State() != transaction.Trying {
		t.Errorf("State = %s, want Trying", tx.State())
	}

	if tx.Request() != message.Message(req) {
		t.Error("Request does not match")
	}

	err := tx.SendRequest(req)
	if err == nil {
		t.Error("SendRequest should return an error for a server transaction")
	}

	err = tx.Cancel()
	if err == nil {
		t.Error("Cancel should return an error for a server transaction")
	}
}

func TestBaseTransactionSendResponse(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("REGISTER")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	tx := NewBaseTransaction("test-tx-2", key, req, transport, timers)

	responseSent := false
	tx.OnResponse(func(t transaction.Transaction, resp message.Message) {
		responseSent = true
	})

	resp := createTestResponse(200, "1 REGISTER")
	err := tx.SendResponse(resp)
	if err != nil {
		t.Errorf("SendResponse returned an error: %v", err)
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sentMessages))
	}

	if transport.sentMessages[0].target != "client.example.com:5060" {
		t.Errorf("target = %s, want client.example.com:5060", transport.sentMessages[0].target)
	}

	if tx.Response() != message.Message(resp) {
		t.Error("Response was not saved")
	}

	// The base implementation records the response but does not notify
	// handlers; that happens in the INVITE/non-INVITE implementations.
	_ = responseSent

	badResp := createTestResponse(200, "2 REGISTER")
	err = tx.SendResponse(badResp)
	if err == nil {
		t.Error("SendResponse should return an error for a mismatched CSeq")
	}
}

func TestBaseTransactionHandleRequest(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("OPTIONS")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	tx := NewBaseTransaction("test-tx-3", key, req, transport, timers)

	resp := createTestResponse(200, "1 OPTIONS")
	tx.SendResponse(resp)

	transport.sentMessages = nil

	err := tx.HandleRequest(req)
	if err != nil {
		t.Errorf("HandleRequest returned an error: %v", err)
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1 (retransmission)", len(transport.sentMessages))
	}

	if message.StatusCode(transport.sentMessages[0].msg) != 200 {
		t.Error("retransmitted the wrong response")
	}
}

func TestBaseTransactionTerminate(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.Key{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	tx := NewBaseTransaction("test-tx-4", key, req, transport, timers)

	timerFired := false
	tx.startTimer(transaction.TimerG, func() {
		timerFired = true
	})

	tx.Terminate()

	if tx.State() != transaction.Terminated {
		t.Errorf("State = %s, want Terminated", tx.State())
	}

	if !tx.IsTerminated() {
		t.Error("IsTerminated should return true")
	}

	time.Sleep(100 * time.Millisecond)
	if timerFired {
		t.Error("timer should not fire after termination")
	}
}

func TestViaAddressExtraction(t *testing.T) {
	tests := []struct {
		name     string
		via      string
		expected string
		wantErr  bool
	}{
		{
			name:     "simple UDP via",
			via:      "SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK74bf9",
			expected: "client.example.com:5060",
		},
		{
			name:     "TCP via with parameters",
			via:      "SIP/2.0/TCP 192.168.1.1:5061;branch=z9hG4bK74bf9;rport",
			expected: "192.168.1.1:5061",
		},
		{
			name:     "via without port",
			via:      "SIP/2.0/UDP example.com;branch=z9hG4bK74bf9",
			expected: "example.com",
		},
		{
			name:     "via with received and rport",
			via:      "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK74bf9;received=10.0.0.1;rport=5061",
			expected: "10.0.0.1:5061",
		},
		{
			name:    "malformed via",
			via:     "invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			via, err := message.ParseVia(tt.via)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseVia() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			result := via.GetAddress()
			if result != tt.expected {
				t.Errorf("Via.GetAddress() = %s, want %s", result, tt.expected)
			}
		})
	}
}
