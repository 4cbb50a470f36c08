package dialog

import (
	"context"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// RequestHandler handles an out-of-dialog request (e.g. OPTIONS) that
// does not belong to any existing dialog.
type RequestHandler func(req *message.Request) *message.Response

// InviteOpts customizes an outgoing INVITE before it is sent.
type InviteOpts func(req *message.Request)

// ResponseOpt customizes an outgoing response (Accept/Reject) before it
// is sent.
type ResponseOpt func(resp *message.Response)

// Dialog is one SIP dialog: a long-lived peer relationship identified by
// Call-ID plus local/remote tags (RFC 3261 section 12).
type Dialog interface {
	Key() Key
	CallID() string
	LocalTag() string
	RemoteTag() string
	Role() Role
	State() State

	// Accept answers a UAS dialog's INVITE with a 2xx.
	Accept(ctx context.Context, body Body, opts ...ResponseOpt) error
	// Reject answers a UAS dialog's INVITE with a non-2xx final response.
	Reject(ctx context.Context, code int, reason string) error
	// Bye terminates an established dialog.
	Bye(ctx context.Context, reason string) error

	// Refer starts an RFC 3515 blind or attended transfer.
	Refer(ctx context.Context, target *message.URI, opts ReferOpts) error
	// ReferReplace starts an RFC 3891 attended transfer, replacing an
	// existing dialog at the transferee.
	ReferReplace(ctx context.Context, replaces Dialog, opts ReferOpts) error
	// WaitRefer blocks until the REFER's NOTIFY progress reports finish.
	WaitRefer(ctx context.Context) (*ReferSubscription, error)

	OnStateChange(fn func(State))
	OnRequest(fn func(*message.Request))
	OnResponse(fn func(*message.Response))

	Context() context.Context
	Terminate()
}

// Manager owns every dialog for one SIP stack: it creates them,
// routes incoming requests/responses into the right one, and offers a
// stack-level entry point for starting new calls.
type Manager interface {
	// NewInvite starts a UAC dialog by sending an INVITE to target.
	NewInvite(ctx context.Context, target *message.URI, localURI *message.URI, opts ...InviteOpts) (Dialog, error)
	// CreateDialog registers a dialog for an already-built INVITE
	// (UAC: about to be sent; UAS: just received).
	CreateDialog(invite *message.Request, role Role) (Dialog, error)
	FindDialog(callID, localTag, remoteTag string) (Dialog, bool)

	HandleRequest(req *message.Request) error
	HandleResponse(resp *message.Response) error

	Dialogs() []Dialog

	// OnIncomingDialog is called once per new UAS dialog, right after
	// the 100 Trying is sent and before any application decision.
	OnIncomingDialog(fn func(Dialog))
	// OnRequest registers a handler for an out-of-dialog method (e.g.
	// OPTIONS, MESSAGE) that doesn't belong to any existing dialog.
	OnRequest(method string, handler RequestHandler)

	Close() error
}
