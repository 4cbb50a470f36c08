package transaction

import (
	"fmt"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// CancelSupport implements CANCEL (RFC 3261 section 9): building and
// sending the CANCEL request for an outstanding client transaction,
// and matching an inbound CANCEL to the server transaction it targets.
type CancelSupport struct {
	manager Manager
	builder *MessageBuilder
}

func NewCancelSupport(manager Manager) *CancelSupport {
	return &CancelSupport{manager: manager, builder: NewMessageBuilder()}
}

// CancelTransaction sends CANCEL for tx. Only valid while tx is still
// Proceeding (RFC 3261 9.1: CANCEL has no effect once a final response
// has been received).
func (cs *CancelSupport) CancelTransaction(tx Transaction) error {
	if !tx.IsClient() {
		return fmt.Errorf("can only cancel client transactions")
	}
	if tx.State() != Proceeding {
		return fmt.Errorf("can only cancel transaction in Proceeding state, current: %s", tx.State())
	}

	request, ok := tx.Request().(*message.Request)
	if !ok || request == nil {
		return fmt.Errorf("no request found in transaction")
	}
	if request.Method == "ACK" || request.Method == "CANCEL" {
		return fmt.Errorf("cannot cancel %s request", request.Method)
	}

	cancel, err := cs.builder.BuildCANCEL(request)
	if err != nil {
		return fmt.Errorf("failed to build CANCEL: %w", err)
	}

	cancelTx, err := cs.manager.CreateClientTransaction(cancel)
	if err != nil {
		return fmt.Errorf("failed to create CANCEL transaction: %w", err)
	}

	cancelTx.OnResponse(func(t Transaction, resp message.Message) {
		// A 2xx to CANCEL just confirms receipt; the original
		// transaction's own 487 (if any) is what actually ends it.
	})
	return nil
}

// HandleCANCELRequest matches an inbound CANCEL to the INVITE server
// transaction it targets (same branch, method INVITE) and answers that
// INVITE with 487 Request Terminated.
func (cs *CancelSupport) HandleCANCELRequest(cancel message.Message) error {
	if !cancel.IsRequest() || message.Method(cancel) != "CANCEL" {
		return fmt.Errorf("not a CANCEL request")
	}

	branch := extractBranch(cancel.GetHeader("Via"))
	searchKey := Key{Branch: branch, Method: "INVITE", Direction: false}

	originalTx, found := cs.manager.FindTransaction(searchKey)
	if !found {
		return fmt.Errorf("matching transaction not found")
	}

	if originalTx.State() != Proceeding {
		return fmt.Errorf("transaction in wrong state: %s", originalTx.State())
	}

	// Answer the cancelled INVITE with 487 through its server
	// transaction (RFC 3261 9.2).
	req, ok := originalTx.Request().(*message.Request)
	if !ok || req == nil {
		return fmt.Errorf("no request found in transaction")
	}
	return originalTx.SendResponse(message.ResponseFor(req, 487, getReasonPhrase(487)))
}

// CreateCANCELResponse builds the response to an inbound CANCEL
// request (always answered directly, regardless of the target
// transaction's own fate).
func (cs *CancelSupport) CreateCANCELResponse(cancel *message.Request, statusCode int) (*message.Response, error) {
	if cancel.Method != "CANCEL" {
		return nil, fmt.Errorf("not a CANCEL request")
	}
	resp := message.ResponseFor(cancel, statusCode, getReasonPhrase(statusCode))
	resp.SetHeader("Content-Length", "0")
	return resp, nil
}

func getReasonPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 487:
		return "Request Terminated"
	default:
		return ""
	}
}
