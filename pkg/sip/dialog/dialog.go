package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

// dialogImpl is the concrete Dialog. It owns the parts of a call that
// outlive any single transaction: the target/route set, the CSeq
// counters, and the confirmed/early/terminated lifecycle.
type dialogImpl struct {
	mu        sync.RWMutex
	key       Key
	role      Role
	localURI  *message.URI
	remoteURI *message.URI

	localHost string
	localPort int

	target *target
	seq    *sequencer
	fsm    *dialogFSM

	txManager transaction.Manager
	inviteTx  transaction.Transaction
	inviteReq *message.Request

	referSubs sync.Map // ID -> *ReferSubscription
	referTx   transaction.Transaction

	handlersMu       sync.RWMutex
	requestHandlers  []func(*message.Request)
	responseHandlers []func(*message.Response)

	ctx    context.Context
	cancel context.CancelFunc
}

func newDialog(role Role, localURI, remoteURI *message.URI, key Key, txManager transaction.Manager, localHost string, localPort int) *dialogImpl {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dialogImpl{
		key:       key,
		role:      role,
		localURI:  localURI,
		remoteURI: remoteURI,
		localHost: localHost,
		localPort: localPort,
		target:    newTarget(remoteURI, role == RoleUAC),
		seq:       newSequencer(0),
		fsm:       newDialogFSM(),
		txManager: txManager,
		ctx:       ctx,
		cancel:    cancel,
	}
	return d
}

func (d *dialogImpl) Key() Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key
}

func (d *dialogImpl) CallID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key.CallID
}

func (d *dialogImpl) LocalTag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key.LocalTag
}

func (d *dialogImpl) RemoteTag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key.RemoteTag
}

// setRemoteTag records the tag learned from the peer's first response
// (UAC) or is a no-op if already set (UAS dialogs learn it at creation).
func (d *dialogImpl) setRemoteTag(tag string) (old Key, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old = d.key
	if d.key.RemoteTag == tag || tag == "" {
		return old, false
	}
	d.key.RemoteTag = tag
	return old, true
}

func (d *dialogImpl) Role() Role   { return d.role }
func (d *dialogImpl) State() State { return d.fsm.Current() }
func (d *dialogImpl) Context() context.Context { return d.ctx }
func (d *dialogImpl) Terminate() {
	_ = d.fsm.fire(evTerminate)
	d.cancel()
}

func (d *dialogImpl) OnStateChange(fn func(State)) { d.fsm.OnChange(fn) }

func (d *dialogImpl) OnRequest(fn func(*message.Request)) {
	d.handlersMu.Lock()
	d.requestHandlers = append(d.requestHandlers, fn)
	d.handlersMu.Unlock()
}

func (d *dialogImpl) OnResponse(fn func(*message.Response)) {
	d.handlersMu.Lock()
	d.responseHandlers = append(d.responseHandlers, fn)
	d.handlersMu.Unlock()
}

func (d *dialogImpl) notifyRequest(req *message.Request) {
	d.handlersMu.RLock()
	handlers := append([]func(*message.Request){}, d.requestHandlers...)
	d.handlersMu.RUnlock()
	for _, h := range handlers {
		h(req)
	}
}

func (d *dialogImpl) notifyResponse(resp *message.Response) {
	d.handlersMu.RLock()
	handlers := append([]func(*message.Response){}, d.responseHandlers...)
	d.handlersMu.RUnlock()
	for _, h := range handlers {
		h(resp)
	}
}

func (d *dialogImpl) contactHeader() string {
	return message.Address{URI: message.NewURI(d.localURI.User, contactHost(d.localHost, d.localPort))}.String()
}

// Accept answers the pending INVITE with a 2xx, moving the dialog to
// StateConfirmed. Only valid for a UAS dialog that hasn't already
// answered.
func (d *dialogImpl) Accept(ctx context.Context, body Body, opts ...ResponseOpt) error {
	if d.role != RoleUAS {
		return fmt.Errorf("dialog: Accept is only valid for a UAS dialog")
	}
	resp := message.ResponseFor(d.inviteReq, 200, "OK")
	toAddr, err := message.ParseAddress(resp.GetHeader("To"))
	if err != nil {
		return err
	}
	toAddr.SetTag(d.LocalTag())
	resp.SetHeader("To", toAddr.String())
	resp.SetHeader("Contact", d.contactHeader())

	for _, opt := range opts {
		opt(resp)
	}
	if body != nil {
		resp.SetBody(body.ContentType(), body.Data())
	}

	if err := d.inviteTx.SendResponse(resp); err != nil {
		return err
	}
	return d.fsm.fire(evConfirm)
}

// Reject answers the pending INVITE with a non-2xx final response,
// terminating the dialog.
func (d *dialogImpl) Reject(ctx context.Context, code int, reason string) error {
	if d.role != RoleUAS {
		return fmt.Errorf("dialog: Reject is only valid for a UAS dialog")
	}
	if code < 300 {
		return fmt.Errorf("dialog: Reject requires a non-2xx status code, got %d", code)
	}
	resp := message.ResponseFor(d.inviteReq, code, reason)
	toAddr, err := message.ParseAddress(resp.GetHeader("To"))
	if err != nil {
		return err
	}
	toAddr.SetTag(d.LocalTag())
	resp.SetHeader("To", toAddr.String())

	if err := d.inviteTx.SendResponse(resp); err != nil {
		return err
	}
	return d.fsm.fire(evTerminate)
}

// Bye sends a BYE for an established dialog and tears it down locally;
// it does not wait for the peer's 200 OK.
func (d *dialogImpl) Bye(ctx context.Context, reason string) error {
	if d.State() != StateConfirmed {
		return ErrInvalidState
	}
	headers := map[string]string{}
	if reason != "" {
		headers["Reason"] = reason
	}
	if _, err := d.sendRequest("BYE", nil, "", headers); err != nil {
		return err
	}
	return d.fsm.fire(evTerminate)
}

// sendRequest builds and sends an in-dialog request, honoring the
// dialog's learned route set and strict/loose routing rule.
func (d *dialogImpl) sendRequest(method string, body []byte, contentType string, extraHeaders map[string]string) (transaction.Transaction, error) {
	requestURI, routeSet := d.target.RouteHeaders()

	tmpl := message.RequestTemplate{
		Method:      method,
		RequestURI:  requestURI,
		From:        message.Address{URI: d.localURI},
		To:          message.Address{URI: d.remoteURI},
		CallID:      d.CallID(),
		CSeq:        d.seq.NextLocalCSeq(),
		Branch:      transaction.NewBranch(),
		ViaHost:     d.localHost,
		ViaPort:     d.localPort,
		ViaTransport: "UDP",
		Contact:     message.Address{URI: message.NewURI(d.localURI.User, d.localHost)},
		RouteSet:    routeSet,
	}
	tmpl.From.SetTag(d.LocalTag())
	tmpl.To.SetTag(d.RemoteTag())

	req := message.BuildRequest(tmpl)
	for k, v := range extraHeaders {
		req.SetHeader(k, v)
	}
	if body != nil {
		req.SetBody(contentType, body)
	}

	tx, err := d.txManager.CreateClientTransaction(req)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// processRequest applies an in-dialog request to the dialog's sequence
// and target state, then notifies application handlers.
func (d *dialogImpl) processRequest(req *message.Request) error {
	cseq, err := cseqNumber(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !d.seq.ValidateRemote(cseq, req.Method) {
		return ErrCSeqOutOfOrder
	}
	if req.Method == "INVITE" || req.Method == "UPDATE" {
		if err := d.target.RefreshFromContact(req); err != nil {
			return err
		}
	}
	if req.Method == "BYE" {
		_ = d.fsm.fire(evTerminate)
	}
	d.notifyRequest(req)
	return nil
}

// processResponse applies an in-dialog or INVITE response to the
// dialog's target/route state and lifecycle, then notifies handlers.
func (d *dialogImpl) processResponse(resp *message.Response) error {
	method := message.Method(resp)

	if method == "INVITE" {
		if err := d.target.LearnRouteSet(resp); err != nil {
			return err
		}
		if resp.IsProvisional() && resp.StatusCode != 100 {
			if err := d.target.RefreshFromContact(resp); err != nil {
				return err
			}
			_ = d.fsm.fire(evProvisional)
		} else if resp.IsSuccess() {
			if err := d.target.RefreshFromContact(resp); err != nil {
				return err
			}
			_ = d.fsm.fire(evConfirm)
		} else if resp.StatusCode == 401 || resp.StatusCode == 407 {
			// Not a dialog-lifecycle transition: the orchestrator decides
			// whether to resubmit the INVITE with credentials or give up.
		} else if resp.StatusCode >= 300 {
			_ = d.fsm.fire(evTerminate)
		}
	}
	if method == "BYE" {
		_ = d.fsm.fire(evTerminate)
	}

	d.notifyResponse(resp)
	return nil
}
