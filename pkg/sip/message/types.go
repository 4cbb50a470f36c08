// Package message implements SIP message parsing and serialization
// (RFC 3261 section 7/25) plus SDP session description handling
// (RFC 4566, via github.com/pion/sdp/v3).
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Message is the common surface shared by Request and Response.
type Message interface {
	IsRequest() bool
	IsResponse() bool
	GetHeader(name string) string
	GetHeaders(name string) []string
	SetHeader(name, value string)
	AddHeader(name, value string)
	RemoveHeader(name string)
	Body() []byte
	SetBody(contentType string, body []byte)
	ContentType() string
	String() string
}

// Headers is an ordered, case-insensitive multimap of SIP header values.
// Compact forms (i, m, f, t, v, c, l) are normalized to their long form on
// both read and write so callers never have to special-case them.
type Headers struct {
	values map[string][]string
	order  []string // long-form names, insertion order, one entry per distinct name
}

// NewHeaders returns an empty header multimap.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

var compactForms = map[string]string{
	"i": "call-id",
	"m": "contact",
	"f": "from",
	"t": "to",
	"v": "via",
	"c": "content-type",
	"l": "content-length",
	"k": "supported",
	"s": "subject",
}

func normalize(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if full, ok := compactForms[lower]; ok {
		return full
	}
	return lower
}

// canonicalForm renders a normalized (lowercase) header name the way it
// should appear on the wire, e.g. "call-id" -> "Call-ID".
func canonicalForm(normalized string) string {
	switch normalized {
	case "call-id":
		return "Call-ID"
	case "cseq":
		return "CSeq"
	case "www-authenticate":
		return "WWW-Authenticate"
	case "mime-version":
		return "MIME-Version"
	}
	parts := strings.Split(normalized, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// Get returns the first value for name, or "".
func (h *Headers) Get(name string) string {
	if v := h.GetAll(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// GetAll returns every value recorded for name, in the order added.
func (h *Headers) GetAll(name string) []string {
	return h.values[normalize(name)]
}

// Set replaces any existing values for name with a single value.
func (h *Headers) Set(name, value string) {
	n := normalize(name)
	if _, exists := h.values[n]; !exists {
		h.order = append(h.order, n)
	}
	h.values[n] = []string{value}
}

// Add appends a value for name, preserving any existing ones.
func (h *Headers) Add(name, value string) {
	n := normalize(name)
	if _, exists := h.values[n]; !exists {
		h.order = append(h.order, n)
	}
	h.values[n] = append(h.values[n], value)
}

// Remove deletes every value recorded for name.
func (h *Headers) Remove(name string) {
	n := normalize(name)
	delete(h.values, n)
	for i, existing := range h.order {
		if existing == n {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	c.order = append([]string(nil), h.order...)
	for k, v := range h.values {
		c.values[k] = append([]string(nil), v...)
	}
	return c
}

// WriteTo appends the header block (each "Name: value\r\n") to sb, in
// insertion order, one line per value for multi-valued headers.
func (h *Headers) WriteTo(sb *strings.Builder) {
	for _, n := range h.order {
		canon := canonicalForm(n)
		for _, v := range h.values[n] {
			sb.WriteString(canon)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
}

// Address is a SIP name-addr: an optional display name, a URI, and
// optional parameters (most importantly "tag" on From/To).
type Address struct {
	DisplayName string
	URI         *URI
	Parameters  map[string]string
}

// Tag returns the address's "tag" parameter, or "".
func (a Address) Tag() string { return a.Parameters["tag"] }

// SetTag sets the "tag" parameter.
func (a *Address) SetTag(tag string) {
	if a.Parameters == nil {
		a.Parameters = make(map[string]string)
	}
	a.Parameters["tag"] = tag
}

// ParseAddress parses a From/To/Contact-style header value:
// ["display name"] "<" uri ">" *(";" param).
func ParseAddress(value string) (Address, error) {
	value = strings.TrimSpace(value)
	addr := Address{Parameters: make(map[string]string)}

	var uriPart, paramPart string
	if lt := strings.Index(value, "<"); lt != -1 {
		gt := strings.Index(value, ">")
		if gt == -1 || gt < lt {
			return addr, fmt.Errorf("%w: unbalanced <> in address %q", ErrMalformedMessage, value)
		}
		addr.DisplayName = strings.Trim(strings.TrimSpace(value[:lt]), `"`)
		uriPart = value[lt+1 : gt]
		paramPart = value[gt+1:]
	} else {
		// bare URI, parameters belong to the URI itself rather than the
		// address (RFC 3261 allows this form for Contact only, but we
		// accept it permissively for any name-addr header).
		if sc := strings.Index(value, ";"); sc != -1 {
			uriPart = value[:sc]
			paramPart = value[sc:]
		} else {
			uriPart = value
		}
	}

	uri, err := ParseURI(strings.TrimSpace(uriPart))
	if err != nil {
		return addr, err
	}
	addr.URI = uri

	for _, seg := range strings.Split(paramPart, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if kv := strings.SplitN(seg, "=", 2); len(kv) == 2 {
			addr.Parameters[strings.ToLower(kv[0])] = kv[1]
		} else {
			addr.Parameters[strings.ToLower(seg)] = ""
		}
	}
	return addr, nil
}

// String renders the address back to wire form.
func (a Address) String() string {
	var sb strings.Builder
	if a.DisplayName != "" {
		sb.WriteString(`"`)
		sb.WriteString(a.DisplayName)
		sb.WriteString(`" `)
	}
	sb.WriteString("<")
	if a.URI != nil {
		sb.WriteString(a.URI.String())
	}
	sb.WriteString(">")
	for _, k := range sortedKeys(a.Parameters) {
		sb.WriteString(";")
		sb.WriteString(k)
		if v := a.Parameters[k]; v != "" {
			sb.WriteString("=")
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// Via represents one hop of a Via header chain.
type Via struct {
	Transport string // UDP, TCP, TLS
	Host      string
	Port      int
	Branch    string
	Received  string
	RPort     int // -1 means "rport present, no value yet"
	Params    map[string]string
}

// ParseVia parses a single Via header value (one hop; a folded multi-hop
// Via line is split by the caller before calling this).
func ParseVia(value string) (*Via, error) {
	via := &Via{Params: make(map[string]string)}
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: malformed Via %q", ErrMalformedMessage, value)
	}
	protoParts := strings.Split(fields[0], "/")
	if len(protoParts) != 3 {
		return nil, fmt.Errorf("%w: malformed Via protocol %q", ErrMalformedMessage, fields[0])
	}
	via.Transport = strings.ToUpper(protoParts[2])

	segments := strings.Split(strings.Join(fields[1:], " "), ";")
	hostPort := strings.TrimSpace(segments[0])
	if ci := strings.LastIndex(hostPort, ":"); ci != -1 {
		via.Host = hostPort[:ci]
		if port, err := strconv.Atoi(hostPort[ci+1:]); err == nil {
			via.Port = port
		}
	} else {
		via.Host = hostPort
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		kv := strings.SplitN(seg, "=", 2)
		name := strings.ToLower(kv[0])
		value := ""
		if len(kv) == 2 {
			value = kv[1]
		}
		switch name {
		case "branch":
			via.Branch = value
		case "received":
			via.Received = value
		case "rport":
			if value == "" {
				via.RPort = -1
			} else if p, err := strconv.Atoi(value); err == nil {
				via.RPort = p
			}
		default:
			via.Params[name] = value
		}
	}
	return via, nil
}

// String renders the Via hop back to wire form.
func (v *Via) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SIP/2.0/%s %s", v.Transport, v.Host)
	if v.Port > 0 {
		fmt.Fprintf(&sb, ":%d", v.Port)
	}
	if v.Branch != "" {
		sb.WriteString(";branch=")
		sb.WriteString(v.Branch)
	}
	if v.RPort == -1 {
		sb.WriteString(";rport")
	} else if v.RPort > 0 {
		fmt.Fprintf(&sb, ";rport=%d", v.RPort)
	}
	if v.Received != "" {
		sb.WriteString(";received=")
		sb.WriteString(v.Received)
	}
	for _, k := range sortedKeys(v.Params) {
		sb.WriteString(";")
		sb.WriteString(k)
		if val := v.Params[k]; val != "" {
			sb.WriteString("=")
			sb.WriteString(val)
		}
	}
	return sb.String()
}

// GetAddress resolves the address a response to this Via hop should be
// sent to: the received/rport parameters (RFC 3261 section 18.2.1) take
// priority over the Via's own host/port when present.
func (v *Via) GetAddress() string {
	host := v.Host
	if v.Received != "" {
		host = v.Received
	}
	port := v.Port
	if v.RPort > 0 {
		port = v.RPort
	}

	if port == 0 {
		return host
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// CSeq is a parsed CSeq header.
type CSeq struct {
	Seq    uint32
	Method string
}

// ParseCSeq parses a "<seq> <method>" CSeq header value.
func ParseCSeq(value string) (CSeq, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return CSeq{}, fmt.Errorf("%w: malformed CSeq %q", ErrMalformedMessage, value)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return CSeq{}, fmt.Errorf("%w: malformed CSeq number %q", ErrMalformedMessage, fields[0])
	}
	return CSeq{Seq: uint32(n), Method: fields[1]}, nil
}

func (c CSeq) String() string { return fmt.Sprintf("%d %s", c.Seq, c.Method) }

// Request is a SIP request line + headers + optional body.
type Request struct {
	Method     string
	RequestURI *URI
	Headers    *Headers
	body       []byte
}

// NewRequest builds an empty request for method against requestURI.
func NewRequest(method string, requestURI *URI) *Request {
	return &Request{Method: method, RequestURI: requestURI, Headers: NewHeaders()}
}

func (r *Request) IsRequest() bool  { return true }
func (r *Request) IsResponse() bool { return false }

func (r *Request) GetHeader(name string) string      { return r.Headers.Get(name) }
func (r *Request) GetHeaders(name string) []string   { return r.Headers.GetAll(name) }
func (r *Request) SetHeader(name, value string)      { r.Headers.Set(name, value) }
func (r *Request) AddHeader(name, value string)      { r.Headers.Add(name, value) }
func (r *Request) RemoveHeader(name string)          { r.Headers.Remove(name) }
func (r *Request) Body() []byte                      { return r.body }
func (r *Request) ContentType() string               { return r.Headers.Get("Content-Type") }

// SetBody sets the body and the matching Content-Type/Content-Length headers.
func (r *Request) SetBody(contentType string, body []byte) {
	r.body = body
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	r.Headers.Set("Content-Length", strconv.Itoa(len(body)))
}

// TopVia returns the first (most recent) Via hop, or nil.
func (r *Request) TopVia() (*Via, error) {
	v := r.Headers.Get("Via")
	if v == "" {
		return nil, nil
	}
	return ParseVia(v)
}

// String serializes the request to wire bytes.
func (r *Request) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s SIP/2.0\r\n", r.Method, r.RequestURI.String())
	r.Headers.WriteTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}

// Response is a SIP status line + headers + optional body.
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      *Headers
	body         []byte
}

// NewResponse builds an empty response with the given status.
func NewResponse(statusCode int, reason string) *Response {
	return &Response{StatusCode: statusCode, ReasonPhrase: reason, Headers: NewHeaders()}
}

func (r *Response) IsRequest() bool  { return false }
func (r *Response) IsResponse() bool { return true }

func (r *Response) GetHeader(name string) string    { return r.Headers.Get(name) }
func (r *Response) GetHeaders(name string) []string { return r.Headers.GetAll(name) }
func (r *Response) SetHeader(name, value string)    { r.Headers.Set(name, value) }
func (r *Response) AddHeader(name, value string)    { r.Headers.Add(name, value) }
func (r *Response) RemoveHeader(name string)        { r.Headers.Remove(name) }
func (r *Response) Body() []byte                    { return r.body }
func (r *Response) ContentType() string             { return r.Headers.Get("Content-Type") }

func (r *Response) SetBody(contentType string, body []byte) {
	r.body = body
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	r.Headers.Set("Content-Length", strconv.Itoa(len(body)))
}

// IsProvisional reports whether this is a 1xx response.
func (r *Response) IsProvisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }

// IsSuccess reports whether this is a 2xx response.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsFinal reports whether this is a final (non-1xx) response.
func (r *Response) IsFinal() bool { return r.StatusCode >= 200 }

func (r *Response) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SIP/2.0 %d %s\r\n", r.StatusCode, r.ReasonPhrase)
	r.Headers.WriteTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}
