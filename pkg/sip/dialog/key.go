package dialog

import (
	"github.com/google/uuid"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// KeyFromRequest builds the dialog key a UAS sees for an incoming in-dialog
// request: its own tag is the To tag, the peer's is the From tag.
func KeyFromRequest(req message.Message) Key {
	return Key{
		CallID:    req.GetHeader("Call-ID"),
		LocalTag:  message.ToTag(req),
		RemoteTag: message.FromTag(req),
	}
}

// KeyFromResponse builds the dialog key a UAC sees for a response: its own
// tag is the From tag, the peer's is the To tag.
func KeyFromResponse(resp message.Message) Key {
	return Key{
		CallID:    resp.GetHeader("Call-ID"),
		LocalTag:  message.FromTag(resp),
		RemoteTag: message.ToTag(resp),
	}
}

// NewTag generates a opaque, globally unique From/To tag.
func NewTag() string {
	return uuid.NewString()[:8]
}

// NewCallID generates a globally unique Call-ID.
func NewCallID(localHost string) string {
	return uuid.NewString() + "@" + localHost
}
