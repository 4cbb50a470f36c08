// Package auth applies RFC 2617 Digest authentication to outbound SIP
// requests challenged with a 401 or 407.
package auth

import (
	"fmt"
	"strings"

	"github.com/icholy/digest"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// Credentials is the username/password pair a Digest challenge is
// answered with.
type Credentials struct {
	Username string
	Password string
}

// Challenged reports whether resp is a Digest challenge this package can
// answer, and which header carried it.
func Challenged(resp *message.Response) (header string, challenged bool) {
	switch resp.StatusCode {
	case 401:
		return "WWW-Authenticate", resp.GetHeader("WWW-Authenticate") != ""
	case 407:
		return "Proxy-Authenticate", resp.GetHeader("Proxy-Authenticate") != ""
	default:
		return "", false
	}
}

// Authorize builds the Authorization (or Proxy-Authorization) header
// value answering resp's Digest challenge for a request with the given
// method and Request-URI. nc is the client nonce count for this
// credential's use against the challenge's nonce (1 on first use).
func Authorize(resp *message.Response, method, requestURI string, creds Credentials, nc int) (headerName, headerValue string, err error) {
	headerName, challenged := Challenged(resp)
	if !challenged {
		return "", "", fmt.Errorf("auth: response is not a 401/407 Digest challenge")
	}

	chal, ok := message.ParseAuthChallenge(resp.GetHeader(headerName))
	if !ok {
		return "", "", fmt.Errorf("auth: could not parse %s", headerName)
	}

	dchal := &digest.Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		Opaque:    chal.Opaque,
		Algorithm: strings.ToUpper(chal.Algorithm),
		QOP:       chal.QOP,
		Stale:     chal.Stale,
	}

	cred, err := digest.Digest(dchal, digest.Options{
		Method:   method,
		URI:      requestURI,
		Username: creds.Username,
		Password: creds.Password,
		Count:    nc,
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: failed to compute digest: %w", err)
	}

	respHeaderName := "Authorization"
	if headerName == "Proxy-Authenticate" {
		respHeaderName = "Proxy-Authorization"
	}
	return respHeaderName, cred.String(), nil
}

// ApplyToRequest re-signs req in place for retransmission against a
// challenge carried by resp: it sets the Authorization/Proxy-Authorization
// header, bumps CSeq, and assigns a fresh Via branch, mirroring what a UAC
// must do before resending a challenged request (RFC 3261 section 22.1 and
// RFC 2617 section 3.2.2). newBranch is supplied by the caller (the
// transaction layer owns branch generation) rather than computed here.
func ApplyToRequest(req *message.Request, resp *message.Response, creds Credentials, cseq uint32, newBranch string) error {
	headerName, headerValue, err := Authorize(resp, req.Method, req.RequestURI.String(), creds, 1)
	if err != nil {
		return err
	}

	req.RemoveHeader("Authorization")
	req.RemoveHeader("Proxy-Authorization")
	req.SetHeader(headerName, headerValue)
	req.SetHeader("CSeq", message.CSeq{Seq: cseq, Method: req.Method}.String())

	via, err := req.TopVia()
	if err != nil {
		return err
	}
	if via != nil {
		via.Branch = newBranch
		req.SetHeader("Via", via.String())
	}
	return nil
}
