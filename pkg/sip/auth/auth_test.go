package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcall/sipvox/pkg/sip/message"
)

func newChallengeResponse(statusCode int, header, value string) *message.Response {
	resp := message.NewResponse(statusCode, "Unauthorized")
	resp.SetHeader(header, value)
	return resp
}

func TestChallenged_401(t *testing.T) {
	resp := newChallengeResponse(401, "WWW-Authenticate", `Digest realm="sipvox", nonce="abc123"`)
	header, ok := Challenged(resp)
	assert.True(t, ok)
	assert.Equal(t, "WWW-Authenticate", header)
}

func TestChallenged_407(t *testing.T) {
	resp := newChallengeResponse(407, "Proxy-Authenticate", `Digest realm="sipvox", nonce="abc123"`)
	header, ok := Challenged(resp)
	assert.True(t, ok)
	assert.Equal(t, "Proxy-Authenticate", header)
}

func TestChallenged_NonChallengeStatus(t *testing.T) {
	resp := message.NewResponse(200, "OK")
	_, ok := Challenged(resp)
	assert.False(t, ok)
}

func TestAuthorize_BuildsAuthorizationHeader(t *testing.T) {
	resp := newChallengeResponse(401, "WWW-Authenticate",
		`Digest realm="sipvox", nonce="662d65a084b88c6d2a745a9de086fa91"`)

	headerName, headerValue, err := Authorize(resp, "INVITE", "sip:bob@example.com",
		Credentials{Username: "alice", Password: "secret"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Authorization", headerName)
	assert.Contains(t, headerValue, `username="alice"`)
	assert.Contains(t, headerValue, `realm="sipvox"`)
}

func TestAuthorize_ProxyChallengeUsesProxyAuthorization(t *testing.T) {
	resp := newChallengeResponse(407, "Proxy-Authenticate",
		`Digest realm="sipvox", nonce="662d65a084b88c6d2a745a9de086fa91"`)

	headerName, _, err := Authorize(resp, "INVITE", "sip:bob@example.com",
		Credentials{Username: "alice", Password: "secret"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Proxy-Authorization", headerName)
}

func TestAuthorize_LowercaseAlgorithmAccepted(t *testing.T) {
	// RFC 2617 requires an uppercase algorithm token, but some servers send
	// it lowercase; the challenge must still be answered.
	resp := newChallengeResponse(401, "WWW-Authenticate",
		`Digest realm="sipvox", nonce="662d65a084b88c6d2a745a9de086fa91", algorithm=md5`)

	_, _, err := Authorize(resp, "INVITE", "sip:bob@example.com",
		Credentials{Username: "alice", Password: "secret"}, 1)
	require.NoError(t, err)
}

func TestAuthorize_RejectsNonChallenge(t *testing.T) {
	resp := message.NewResponse(200, "OK")
	_, _, err := Authorize(resp, "INVITE", "sip:bob@example.com", Credentials{}, 1)
	assert.Error(t, err)
}

func TestApplyToRequest_SetsHeaderCSeqAndBranch(t *testing.T) {
	req := message.NewRequest("INVITE", message.NewURI("bob", "example.com"))
	req.SetHeader("CSeq", "1 INVITE")
	req.SetHeader("Via", "SIP/2.0/UDP ua1.example.com:5060;branch=z9hG4bK1")

	resp := newChallengeResponse(401, "WWW-Authenticate",
		`Digest realm="sipvox", nonce="662d65a084b88c6d2a745a9de086fa91"`)

	err := ApplyToRequest(req, resp, Credentials{Username: "alice", Password: "secret"}, 2, "z9hG4bK2")
	require.NoError(t, err)

	assert.NotEmpty(t, req.GetHeader("Authorization"))
	assert.Equal(t, "2 INVITE", req.GetHeader("CSeq"))

	via, err := req.TopVia()
	require.NoError(t, err)
	assert.Equal(t, "z9hG4bK2", via.Branch)
}
