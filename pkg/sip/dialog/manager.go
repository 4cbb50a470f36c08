package dialog

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

const dialogCleanupInterval = 30 * time.Second

// manager owns every dialog for one SIP stack and routes incoming
// transaction-layer requests/responses to the dialog (or out-of-dialog
// handler) they belong to.
type manager struct {
	dialogs sync.Map // keyString -> *dialogImpl

	txManager transaction.Manager
	localHost string
	localPort int

	incomingMu      sync.RWMutex
	incomingHandler func(Dialog)

	handlersMu      sync.RWMutex
	requestHandlers map[string]RequestHandler

	cleanupTicker *time.Ticker
	done          chan struct{}
}

// NewManager builds a dialog Manager on top of an already-running
// transaction.Manager, using localHost/localPort for the Via/Contact of
// requests this stack originates.
func NewManager(txManager transaction.Manager, localHost string, localPort int) Manager {
	m := &manager{
		txManager:       txManager,
		localHost:       localHost,
		localPort:       localPort,
		requestHandlers: make(map[string]RequestHandler),
		cleanupTicker:   time.NewTicker(dialogCleanupInterval),
		done:            make(chan struct{}),
	}
	txManager.OnRequest(func(tx transaction.Transaction, req message.Message) {
		r, ok := req.(*message.Request)
		if !ok {
			return
		}
		_ = m.routeRequest(r, tx)
	})
	txManager.OnResponse(func(tx transaction.Transaction, resp message.Message) {
		r, ok := resp.(*message.Response)
		if !ok {
			return
		}
		_ = m.HandleResponse(r)
	})
	go m.cleanupLoop()
	return m
}

func keyString(k Key) string { return k.CallID + "|" + k.LocalTag + "|" + k.RemoteTag }

func (m *manager) store(d *dialogImpl) {
	m.dialogs.Store(keyString(d.Key()), d)
}

func (m *manager) rekey(old, newKey Key, d *dialogImpl) {
	m.dialogs.Delete(keyString(old))
	m.dialogs.Store(keyString(newKey), d)
}

// trackMetrics registers the Prometheus bookkeeping for a freshly created
// dialog: bump the active gauge now, fold it back into the outcome
// counter once the dialog leaves the lifecycle.
func trackMetrics(d *dialogImpl) {
	metrics.DialogsActive.Inc()
	var wasConfirmed bool
	d.OnStateChange(func(s State) {
		switch s {
		case StateConfirmed:
			wasConfirmed = true
		case StateTerminated:
			metrics.DialogsActive.Dec()
			outcome := "unanswered"
			if wasConfirmed {
				outcome = "confirmed"
			}
			metrics.DialogsTotal.WithLabelValues(outcome).Inc()
		}
	})
}

// NewInvite builds and sends an INVITE, creating and registering a UAC
// dialog for it.
func (m *manager) NewInvite(ctx context.Context, target *message.URI, localURI *message.URI, opts ...InviteOpts) (Dialog, error) {
	localTag := NewTag()
	callID := NewCallID(m.localHost)
	key := Key{CallID: callID, LocalTag: localTag}

	d := newDialog(RoleUAC, localURI, target, key, m.txManager, m.localHost, m.localPort)
	trackMetrics(d)

	tmpl := message.RequestTemplate{
		Method:       "INVITE",
		RequestURI:   target,
		From:         message.Address{URI: localURI},
		To:           message.Address{URI: target},
		CallID:       callID,
		CSeq:         d.seq.NextLocalCSeq(),
		Branch:       transaction.NewBranch(),
		ViaHost:      m.localHost,
		ViaPort:      m.localPort,
		ViaTransport: "UDP",
		Contact:      message.Address{URI: message.NewURI(localURI.User, contactHost(m.localHost, m.localPort))},
	}
	tmpl.From.SetTag(localTag)
	req := message.BuildRequest(tmpl)
	d.seq.setInviteCSeq(tmpl.CSeq)

	for _, opt := range opts {
		opt(req)
	}
	d.inviteReq = req

	tx, err := m.txManager.CreateClientTransaction(req)
	if err != nil {
		return nil, err
	}
	d.inviteTx = tx

	m.store(d)
	return d, nil
}

// CreateDialog registers a dialog for an invite the caller already has
// in hand: role UAC for one about to be sent (bypassing NewInvite),
// role UAS for one just received via HandleRequest.
func (m *manager) CreateDialog(invite *message.Request, role Role) (Dialog, error) {
	if invite.Method != "INVITE" {
		return nil, fmt.Errorf("%w: CreateDialog requires an INVITE", ErrInvalidRequest)
	}

	var key Key
	var localURI, remoteURI *message.URI
	if role == RoleUAS {
		key = KeyFromRequest(invite)
		if key.LocalTag == "" {
			var dup bool
			m.dialogs.Range(func(_, v interface{}) bool {
				d := v.(*dialogImpl)
				k := d.Key()
				dup = d.role == RoleUAS && k.CallID == key.CallID && k.RemoteTag == key.RemoteTag
				return !dup
			})
			if dup {
				return nil, ErrDialogExists
			}
			key.LocalTag = NewTag()
		}
		toAddr, err := invite.ToAddress()
		if err != nil {
			return nil, err
		}
		fromAddr, err := invite.FromAddress()
		if err != nil {
			return nil, err
		}
		localURI, remoteURI = toAddr.URI, fromAddr.URI
	} else {
		key = Key{CallID: invite.GetHeader("Call-ID"), LocalTag: message.FromTag(invite), RemoteTag: message.ToTag(invite)}
		fromAddr, err := invite.FromAddress()
		if err != nil {
			return nil, err
		}
		toAddr, err := invite.ToAddress()
		if err != nil {
			return nil, err
		}
		localURI, remoteURI = fromAddr.URI, toAddr.URI
	}

	if _, exists := m.dialogs.Load(keyString(key)); exists {
		return nil, ErrDialogExists
	}

	d := newDialog(role, localURI, remoteURI, key, m.txManager, m.localHost, m.localPort)
	trackMetrics(d)
	d.inviteReq = invite
	if err := d.target.LearnRouteSet(invite); err != nil {
		return nil, err
	}
	if cseq, err := cseqNumber(invite); err == nil {
		d.seq.setInviteCSeq(cseq)
		d.seq.ValidateRemote(cseq, "INVITE")
	}

	m.store(d)
	return d, nil
}

func (m *manager) FindDialog(callID, localTag, remoteTag string) (Dialog, bool) {
	v, ok := m.dialogs.Load(keyString(Key{CallID: callID, LocalTag: localTag, RemoteTag: remoteTag}))
	if !ok {
		return nil, false
	}
	return v.(*dialogImpl), true
}

// routeRequest delivers a request to its dialog (or builds a new UAS
// dialog for an INVITE, or dispatches to an out-of-dialog handler),
// answering it through tx as required.
func (m *manager) routeRequest(req *message.Request, tx transaction.Transaction) error {
	key := KeyFromRequest(req)
	if d, ok := m.dialogs.Load(keyString(key)); ok {
		dlg := d.(*dialogImpl)
		if tx != nil {
			dlg.inviteTx = tx
			if req.Method == "BYE" {
				_ = tx.SendResponse(message.ResponseFor(req, 200, "OK"))
			}
		}
		return dlg.processRequest(req)
	}

	if req.Method == "INVITE" {
		dlg, err := m.CreateDialog(req, RoleUAS)
		if err != nil {
			return err
		}
		di := dlg.(*dialogImpl)
		di.inviteTx = tx
		_ = tx.SendResponse(message.ResponseFor(req, 100, "Trying"))

		m.incomingMu.RLock()
		handler := m.incomingHandler
		m.incomingMu.RUnlock()
		if handler != nil {
			handler(dlg)
		}
		return nil
	}

	m.handlersMu.RLock()
	handler := m.requestHandlers[req.Method]
	m.handlersMu.RUnlock()
	if handler == nil {
		_ = tx.SendResponse(message.ResponseFor(req, 405, "Method Not Allowed"))
		return fmt.Errorf("dialog: no handler registered for %s", req.Method)
	}
	resp := handler(req)
	if resp == nil {
		resp = message.ResponseFor(req, 200, "OK")
	}
	return tx.SendResponse(resp)
}

// HandleRequest is the synchronous entry point used directly by tests
// and by any caller that already demultiplexed the transaction layer.
func (m *manager) HandleRequest(req *message.Request) error {
	key := KeyFromRequest(req)
	if d, ok := m.dialogs.Load(keyString(key)); ok {
		return d.(*dialogImpl).processRequest(req)
	}
	if req.Method == "INVITE" {
		_, err := m.CreateDialog(req, RoleUAS)
		return err
	}
	return ErrDialogNotFound
}

// HandleResponse routes a response to the dialog it belongs to,
// learning the remote tag (and re-keying) on the first response of a
// UAC dialog.
func (m *manager) HandleResponse(resp *message.Response) error {
	key := KeyFromResponse(resp)
	if d, ok := m.dialogs.Load(keyString(key)); ok {
		return d.(*dialogImpl).processResponse(resp)
	}

	// The remote tag may not be known yet: look for a UAC dialog with
	// this Call-ID/local-tag and no remote tag recorded.
	var found *dialogImpl
	m.dialogs.Range(func(_, v interface{}) bool {
		d := v.(*dialogImpl)
		k := d.Key()
		if k.CallID == key.CallID && k.LocalTag == key.LocalTag {
			found = d
			return false
		}
		return true
	})
	if found == nil {
		return ErrDialogNotFound
	}
	if old, changed := found.setRemoteTag(key.RemoteTag); changed {
		m.rekey(old, found.Key(), found)
	}
	return found.processResponse(resp)
}

func (m *manager) Dialogs() []Dialog {
	var out []Dialog
	m.dialogs.Range(func(_, v interface{}) bool {
		out = append(out, v.(*dialogImpl))
		return true
	})
	return out
}

func (m *manager) OnIncomingDialog(fn func(Dialog)) {
	m.incomingMu.Lock()
	m.incomingHandler = fn
	m.incomingMu.Unlock()
}

func (m *manager) OnRequest(method string, handler RequestHandler) {
	m.handlersMu.Lock()
	m.requestHandlers[method] = handler
	m.handlersMu.Unlock()
}

func (m *manager) Close() error {
	close(m.done)
	m.cleanupTicker.Stop()
	m.dialogs.Range(func(_, v interface{}) bool {
		v.(*dialogImpl).Terminate()
		return true
	})
	return nil
}

func (m *manager) cleanupLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.cleanupTicker.C:
			m.dialogs.Range(func(k, v interface{}) bool {
				if v.(*dialogImpl).State() == StateTerminated {
					m.dialogs.Delete(k)
				}
				return true
			})
		}
	}
}

func contactHost(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
