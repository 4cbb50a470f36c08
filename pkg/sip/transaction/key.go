package transaction

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// KeyFor computes the transaction key a message belongs to (RFC 3261
// 17.1.3/17.2.3: top Via branch + CSeq method, direction fixed by the
// caller since the same branch/method pair names a different
// transaction on the client and server side).
func KeyFor(msg message.Message, isClient bool) (Key, error) {
	via := msg.GetHeader("Via")
	if via == "" {
		return Key{}, fmt.Errorf("missing Via header")
	}

	branch := extractBranch(via)
	if branch == "" {
		return Key{}, fmt.Errorf("missing branch parameter in Via header")
	}
	if !strings.HasPrefix(branch, "z9hG4bK") {
		return Key{}, fmt.Errorf("invalid branch parameter: must start with z9hG4bK")
	}

	method := message.Method(msg)
	if method == "" {
		return Key{}, fmt.Errorf("missing method")
	}

	return Key{Branch: branch, Method: method, Direction: isClient}, nil
}

// NewBranch generates a fresh RFC 3261 branch token.
func NewBranch() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "z9hG4bK" + hex.EncodeToString(b)
}

func extractBranch(via string) string {
	for _, part := range strings.Split(via, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "branch") {
			if idx := strings.Index(part, "="); idx != -1 {
				return strings.TrimSpace(part[idx+1:])
			}
		}
	}
	return ""
}

func (k Key) String() string {
	direction := "server"
	if k.Direction {
		direction = "client"
	}
	return fmt.Sprintf("%s|%s|%s", k.Branch, k.Method, direction)
}

func (k Key) Equals(other Key) bool {
	return k.Branch == other.Branch && k.Method == other.Method && k.Direction == other.Direction
}

func (k Key) IsClientKey() bool { return k.Direction }
func (k Key) IsServerKey() bool { return !k.Direction }

// ValidateKey checks that a key's fields are well formed.
func ValidateKey(key Key) error {
	if key.Branch == "" {
		return fmt.Errorf("empty branch")
	}
	if !strings.HasPrefix(key.Branch, "z9hG4bK") {
		return fmt.Errorf("invalid branch: must start with z9hG4bK")
	}
	if key.Method == "" {
		return fmt.Errorf("empty method")
	}
	return nil
}

// MatchingKey computes the key of the transaction msg would match:
// a request matches its server transaction, a response matches the
// client transaction it answers.
func MatchingKey(msg message.Message) (Key, error) {
	if msg.IsRequest() {
		return KeyFor(msg, false)
	}
	return KeyFor(msg, true)
}
