package dialog

import (
	"context"
	"net"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// mockTx is a minimal transaction.Transaction: it records sent
// requests/responses and lets a test push a response in.
type mockTx struct {
	key             transaction.Key
	client          bool
	req             message.Message
	sentResponses   []message.Message
	sentRequests    []message.Message
	responseHandler transaction.ResponseHandler
}

func (t *mockTx) ID() string       { return "mock-tx" }
func (t *mockTx) Key() transaction.Key { return t.key }
func (t *mockTx) IsClient() bool   { return t.client }
func (t *mockTx) IsServer() bool   { return !t.client }
func (t *mockTx) State() transaction.State { return transaction.Proceeding }
func (t *mockTx) IsCompleted() bool { return false }
func (t *mockTx) IsTerminated() bool { return false }
func (t *mockTx) Request() message.Message  { return t.req }
func (t *mockTx) Response() message.Message { return nil }
func (t *mockTx) LastResponse() message.Message { return nil }
func (t *mockTx) SendResponse(resp message.Message) error {
	t.sentResponses = append(t.sentResponses, resp)
	return nil
}
func (t *mockTx) SendRequest(req message.Message) error {
	t.sentRequests = append(t.sentRequests, req)
	return nil
}
func (t *mockTx) Cancel() error { return nil }
func (t *mockTx) OnStateChange(handler transaction.StateChangeHandler) {}
func (t *mockTx) OnResponse(handler transaction.ResponseHandler) { t.responseHandler = handler }
func (t *mockTx) OnTimeout(handler transaction.TimeoutHandler)   {}
func (t *mockTx) OnTransportError(handler transaction.TransportErrorHandler) {}
func (t *mockTx) Context() context.Context { return context.Background() }
func (t *mockTx) HandleRequest(req message.Message) error   { return nil }
func (t *mockTx) HandleResponse(resp message.Message) error {
	if t.responseHandler != nil {
		t.responseHandler(t, resp)
	}
	return nil
}

// feedResponse delivers resp to this transaction's response handler, as
// the transaction manager would after matching an inbound response.
func (t *mockTx) feedResponse(resp message.Message) {
	if t.responseHandler != nil {
		t.responseHandler(t, resp)
	}
}

// mockTxManager implements transaction.Manager for dialog-package tests.
type mockTxManager struct {
	clientTxs        []*mockTx
	serverTxs        []*mockTx
	requestHandlers  []transaction.RequestHandler
	responseHandlers []transaction.ResponseHandler
	failClient       bool
}

func (m *mockTxManager) CreateClientTransaction(req message.Message) (transaction.Transaction, error) {
	tx := &mockTx{client: true, req: req}
	m.clientTxs = append(m.clientTxs, tx)
	return tx, nil
}

func (m *mockTxManager) CreateServerTransaction(req message.Message) (transaction.Transaction, error) {
	tx := &mockTx{client: false, req: req}
	m.serverTxs = append(m.serverTxs, tx)
	return tx, nil
}

func (m *mockTxManager) FindTransaction(key transaction.Key) (transaction.Transaction, bool) {
	return nil, false
}

func (m *mockTxManager) FindTransactionByMessage(msg message.Message) (transaction.Transaction, bool) {
	return nil, false
}

func (m *mockTxManager) HandleRequest(req message.Message, addr net.Addr) error {
	tx, _ := m.CreateServerTransaction(req)
	for _, h := range m.requestHandlers {
		h(tx, req)
	}
	return nil
}

func (m *mockTxManager) HandleResponse(resp message.Message, addr net.Addr) error {
	for _, h := range m.responseHandlers {
		h(nil, resp)
	}
	return nil
}

func (m *mockTxManager) OnRequest(handler transaction.RequestHandler) {
	m.requestHandlers = append(m.requestHandlers, handler)
}

func (m *mockTxManager) OnResponse(handler transaction.ResponseHandler) {
	m.responseHandlers = append(m.responseHandlers, handler)
}

func (m *mockTxManager) SetTimers(timers transaction.Timers) {}
func (m *mockTxManager) Stats() transaction.Stats            { return transaction.Stats{} }
func (m *mockTxManager) Close() error                        { return nil }

// dispatchRequest feeds req through the registered request handlers as
// if it had just arrived over the wire, the way manager.NewManager
// wires txManager.OnRequest.
func (m *mockTxManager) dispatchRequest(req message.Message) *mockTx {
	tx := &mockTx{client: false, req: req}
	m.serverTxs = append(m.serverTxs, tx)
	for _, h := range m.requestHandlers {
		h(tx, req)
	}
	return tx
}

// dispatchResponse feeds resp through the registered response handlers,
// as manager.NewManager wires txManager.OnResponse.
func (m *mockTxManager) dispatchResponse(resp message.Message) {
	for _, h := range m.responseHandlers {
		h(nil, resp)
	}
}

func buildTestInvite(callID, fromTag string) *message.Request {
	req := message.NewRequest("INVITE", message.NewURI("bob", "example.com"))
	from := message.Address{URI: message.NewURI("alice", "ua1.example.com")}
	from.SetTag(fromTag)
	req.SetHeader("From", from.String())
	req.SetHeader("To", (message.Address{URI: message.NewURI("bob", "example.com")}).String())
	req.SetHeader("Call-ID", callID)
	req.SetHeader("CSeq", "1 INVITE")
	req.SetHeader("Via", "SIP/2.0/UDP ua1.example.com:5060;branch=z9hG4bK1")
	req.SetHeader("Contact", "<sip:alice@ua1.example.com:5060>")
	return req
}

func buildTestResponse(req *message.Request, code int, reason, toTag string) *message.Response {
	resp := message.ResponseFor(req, code, reason)
	toAddr, _ := message.ParseAddress(req.GetHeader("To"))
	toAddr.SetTag(toTag)
	resp.SetHeader("To", toAddr.String())
	resp.SetHeader("Contact", "<sip:bob@ua2.example.com:5060>")
	return resp
}
