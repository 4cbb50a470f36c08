package message

import "strings"

// FromAddress parses the From header into an Address.
func (r *Request) FromAddress() (Address, error) { return ParseAddress(r.GetHeader("From")) }

// ToAddress parses the To header into an Address.
func (r *Request) ToAddress() (Address, error) { return ParseAddress(r.GetHeader("To")) }

// FromAddress parses the From header into an Address.
func (r *Response) FromAddress() (Address, error) { return ParseAddress(r.GetHeader("From")) }

// ToAddress parses the To header into an Address.
func (r *Response) ToAddress() (Address, error) { return ParseAddress(r.GetHeader("To")) }

// FromTag returns the From header's tag parameter, or "".
func FromTag(m Message) string {
	addr, err := ParseAddress(m.GetHeader("From"))
	if err != nil {
		return ""
	}
	return addr.Tag()
}

// ToTag returns the To header's tag parameter, or "".
func ToTag(m Message) string {
	addr, err := ParseAddress(m.GetHeader("To"))
	if err != nil {
		return ""
	}
	return addr.Tag()
}

// Method returns a request's method, or the method named in a
// response's CSeq header.
func Method(m Message) string {
	if req, ok := m.(*Request); ok {
		return req.Method
	}
	if cseq, err := ParseCSeq(m.GetHeader("CSeq")); err == nil {
		return cseq.Method
	}
	return ""
}

// StatusCode returns a response's status code, or 0 for a request.
func StatusCode(m Message) int {
	if resp, ok := m.(*Response); ok {
		return resp.StatusCode
	}
	return 0
}

// Branch returns the branch parameter of the top Via header, or "".
func Branch(m Message) string {
	via := m.GetHeader("Via")
	if via == "" {
		return ""
	}
	v, err := ParseVia(firstViaHop(via))
	if err != nil {
		return ""
	}
	return v.Branch
}

// firstViaHop isolates the first comma-separated hop of a (possibly
// folded) Via header value.
func firstViaHop(value string) string {
	depth := 0
	for i, r := range value {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return value[:i]
			}
		}
	}
	return value
}

// AuthChallenge holds the fields of a WWW-Authenticate/Proxy-Authenticate
// Digest challenge (RFC 2617).
type AuthChallenge struct {
	Scheme    string
	Realm     string
	Nonce     string
	Algorithm string
	QOP       string
	Opaque    string
	Stale     bool
}

// ParseAuthChallenge parses a WWW-Authenticate or Proxy-Authenticate
// header value into its Digest fields.
func ParseAuthChallenge(value string) (AuthChallenge, bool) {
	value = strings.TrimSpace(value)
	sp := strings.IndexByte(value, ' ')
	if sp == -1 {
		return AuthChallenge{}, false
	}
	chal := AuthChallenge{Scheme: value[:sp]}
	if !strings.EqualFold(chal.Scheme, "Digest") {
		return AuthChallenge{}, false
	}
	for _, part := range splitAuthParams(value[sp+1:]) {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		v := strings.Trim(kv[1], `"`)
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "realm":
			chal.Realm = v
		case "nonce":
			chal.Nonce = v
		case "algorithm":
			chal.Algorithm = v
		case "qop":
			chal.QOP = v
		case "opaque":
			chal.Opaque = v
		case "stale":
			chal.Stale = strings.EqualFold(v, "true")
		}
	}
	return chal, true
}

// splitAuthParams splits comma-separated auth-params while respecting
// quoted strings (qop lists like qop="auth,auth-int" must not be split).
func splitAuthParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
