package server

import (
	"testing"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// TestViaIntegration checks that transactions resolve response targets
// correctly from a request's Via header (RFC 3261 18.2.1).
func TestViaIntegration(t *testing.T) {
	tests := []struct {
		name           string
		viaHeader      string
		expectedTarget string
		description    string
	}{
		{
			name:           "basic UDP address",
			viaHeader:      "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds",
			expectedTarget: "192.168.1.1:5060",
			description:    "extracts the basic address from Via",
		},
		{
			name:           "with received parameter",
			viaHeader:      "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds;received=10.0.0.1",
			expectedTarget: "10.0.0.1:5060",
			description:    "prefers received over the original host",
		},
		{
			name:           "with rport parameter",
			viaHeader:      "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds;rport=5061",
			expectedTarget: "192.168.1.1:5061",
			description:    "prefers rport over the original port",
		},
		{
			name:           "with both received and rport",
			viaHeader:      "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds;received=10.0.0.1;rport=5061",
			expectedTarget: "10.0.0.1:5061",
			description:    "uses both received and rport",
		},
		{
			name:           "IPv6 address",
			viaHeader:      "SIP/2.0/UDP [2001:db8::1]:5060;branch=z9hG4bK776asdhds",
			expectedTarget: "[2001:db8::1]:5060",
			description:    "handles an IPv6 address correctly",
		},
		{
			name:           "IPv6 with received",
			viaHeader:      "SIP/2.0/UDP [2001:db8::1]:5060;branch=z9hG4bK776asdhds;received=2001:db8::2;rport=5061",
			expectedTarget: "[2001:db8::2]:5061",
			description:    "formats an IPv6 received address correctly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sentTarget string

			transport := &mockTransport{}

			uri := &message.URI{Scheme: "sip", Host: "example.com"}
			req := message.NewRequest("REGISTER", uri)
			req.SetHeader("Via", tt.viaHeader)
			req.SetHeader("From", "<sip:alice@example.com>;tag=1234")
			req.SetHeader("To", "<sip:alice@example.com>")
			req.SetHeader("Call-ID", "test-call-id")
			req.SetHeader("CSeq", "1 REGISTER")
			req.SetHeader("Contact", "<sip:alice@192.168.1.1:5060>")
			req.SetHeader("Max-Forwards", "70")

			key := transaction.Key{
				Branch:    "z9hG4bK776asdhds",
				Method:    "REGISTER",
				Direction: false, // server transaction
			}

			timers := transaction.Timers{
				TimerG: 100 * time.Millisecond,
				TimerH: 64 * 100 * time.Millisecond,
				TimerI: 5 * time.Second,
				TimerJ: 64 * 100 * time.Millisecond,
			}

			tx := NewNonInviteTransaction("test-tx", key, req, transport, timers)

			resp := message.NewResponse(200, "OK")
			resp.SetHeader("Via", tt.viaHeader)
			resp.SetHeader("From", "<sip:alice@example.com>;tag=1234")
			resp.SetHeader("To", "<sip:alice@example.com>;tag=5678")
			resp.SetHeader("Call-ID", "test-call-id")
			resp.SetHeader("CSeq", "1 REGISTER")
			resp.SetHeader("Contact", "<sip:alice@192.168.1.1:5060>")

			err := tx.SendResponse(resp)
			if err != nil {
				t.Errorf("error sending response: %v", err)
			}

			if len(transport.sentMessages) == 0 {
				t.Error("no message was sent")
				return
			}

			sentTarget = transport.sentMessages[0].target
			if sentTarget != tt.expectedTarget {
				t.Errorf("wrong target address: got %s, want %s", sentTarget, tt.expectedTarget)
			}
		})
	}
}
