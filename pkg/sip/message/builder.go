package message

import (
	"fmt"
	"strconv"
)

// RequestTemplate carries everything a new out-of-dialog or in-dialog
// request needs to fill in its required headers (§6: Via/Max-Forwards/
// From/To/Call-ID/CSeq/Contact/Content-Length, Content-Type on INVITE).
type RequestTemplate struct {
	Method      string
	RequestURI  *URI
	From        Address
	To          Address
	CallID      string
	CSeq        uint32
	Branch      string
	ViaHost     string
	ViaPort     int
	ViaTransport string // "UDP", "TCP", "TLS"
	Contact     Address
	RouteSet    []Address // Route headers, in order, from the dialog's route set
	MaxForwards int
}

// BuildRequest builds a complete request from a template. Content-Type/body
// are attached afterward via Request.SetBody when present (e.g. the SDP
// offer on INVITE).
func BuildRequest(t RequestTemplate) *Request {
	req := &Request{Method: t.Method, RequestURI: t.RequestURI, Headers: NewHeaders()}

	via := &Via{
		Transport: t.ViaTransport,
		Host:      t.ViaHost,
		Port:      t.ViaPort,
		Branch:    t.Branch,
		RPort:     -1,
		Params:    map[string]string{"alias": ""},
	}
	req.Headers.Add("Via", via.String())

	maxFwd := t.MaxForwards
	if maxFwd == 0 {
		maxFwd = 70
	}
	req.Headers.Set("Max-Forwards", strconv.Itoa(maxFwd))
	req.Headers.Set("From", t.From.String())
	req.Headers.Set("To", t.To.String())
	req.Headers.Set("Call-ID", t.CallID)
	req.Headers.Set("CSeq", CSeq{Seq: t.CSeq, Method: t.Method}.String())
	if t.Contact.URI != nil {
		req.Headers.Set("Contact", t.Contact.String())
	}
	for _, route := range t.RouteSet {
		req.Headers.Add("Route", route.String())
	}
	req.Headers.Set("Content-Length", "0")
	return req
}

// ResponseFor builds a response to req, copying its full Via chain
// (§6: "Response generation mirrors the request's Via chain") and its
// From header verbatim. Callers fill in To (adding a tag on the first
// response that creates a dialog) before sending.
func ResponseFor(req *Request, statusCode int, reason string) *Response {
	resp := NewResponse(statusCode, reason)
	for _, v := range req.Headers.GetAll("Via") {
		resp.Headers.Add("Via", v)
	}
	resp.Headers.Set("From", req.GetHeader("From"))
	resp.Headers.Set("To", req.GetHeader("To"))
	resp.Headers.Set("Call-ID", req.GetHeader("Call-ID"))
	resp.Headers.Set("CSeq", req.GetHeader("CSeq"))
	resp.Headers.Set("Content-Length", "0")
	return resp
}

// NewBranch generates a transaction branch token per §6/§8.1: it must
// begin with the magic cookie "z9hG4bK" and be unique within the dialog's
// lifetime. Uniqueness is delegated to the caller-supplied id generator
// (pkg/sip/transaction's own NewBranch hex-encodes crypto/rand bytes).
func NewBranch(uniquePart string) string {
	return fmt.Sprintf("z9hG4bK%s", uniquePart)
}
