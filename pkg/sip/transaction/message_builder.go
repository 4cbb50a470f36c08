package transaction

import (
	"fmt"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// MessageBuilder constructs the few request types whose content is
// fully determined by an existing request/response pair (ACK, CANCEL)
// rather than by caller-supplied fields.
type MessageBuilder struct{}

func NewMessageBuilder() *MessageBuilder { return &MessageBuilder{} }

// BuildACKForNon2xx builds the ACK for a non-2xx final response to
// invite (RFC 3261 17.1.1.3): same Via/From/Call-ID/Route as the
// INVITE, To from the response (it carries the tag), CSeq number kept
// but method changed to ACK. This ACK belongs to the INVITE
// transaction itself, unlike the ACK for a 2xx response which is a
// new request the dialog layer sends end-to-end.
func (b *MessageBuilder) BuildACKForNon2xx(invite *message.Request, response *message.Response) (*message.Request, error) {
	if invite.Method != "INVITE" {
		return nil, fmt.Errorf("not an INVITE request")
	}
	if response.StatusCode < 300 {
		return nil, fmt.Errorf("not a non-2xx response")
	}

	ack := message.NewRequest("ACK", invite.RequestURI)
	if via := invite.GetHeader("Via"); via != "" {
		ack.SetHeader("Via", via)
	}
	if from := invite.GetHeader("From"); from != "" {
		ack.SetHeader("From", from)
	}
	if to := response.GetHeader("To"); to != "" {
		ack.SetHeader("To", to)
	}
	if callID := invite.GetHeader("Call-ID"); callID != "" {
		ack.SetHeader("Call-ID", callID)
	}
	if cseq, err := message.ParseCSeq(invite.GetHeader("CSeq")); err == nil {
		ack.SetHeader("CSeq", message.CSeq{Seq: cseq.Seq, Method: "ACK"}.String())
	}
	for _, route := range invite.GetHeaders("Route") {
		ack.AddHeader("Route", route)
	}
	ack.SetHeader("Max-Forwards", "70")
	ack.SetHeader("Content-Length", "0")
	return ack, nil
}

// BuildCANCEL builds the CANCEL for an outstanding request (RFC 3261
// section 9.1): identical Via/From/To/Call-ID/Route, CSeq number kept
// but method changed to CANCEL.
func (b *MessageBuilder) BuildCANCEL(request *message.Request) (*message.Request, error) {
	if request.Method == "ACK" || request.Method == "CANCEL" {
		return nil, fmt.Errorf("cannot cancel %s request", request.Method)
	}

	cancel := message.NewRequest("CANCEL", request.RequestURI)
	if via := request.GetHeader("Via"); via != "" {
		cancel.SetHeader("Via", via)
	}
	if from := request.GetHeader("From"); from != "" {
		cancel.SetHeader("From", from)
	}
	if to := request.GetHeader("To"); to != "" {
		cancel.SetHeader("To", to)
	}
	if callID := request.GetHeader("Call-ID"); callID != "" {
		cancel.SetHeader("Call-ID", callID)
	}
	if cseq, err := message.ParseCSeq(request.GetHeader("CSeq")); err == nil {
		cancel.SetHeader("CSeq", message.CSeq{Seq: cseq.Seq, Method: "CANCEL"}.String())
	}
	for _, route := range request.GetHeaders("Route") {
		cancel.AddHeader("Route", route)
	}
	cancel.SetHeader("Max-Forwards", "70")
	cancel.SetHeader("Content-Length", "0")
	return cancel, nil
}
