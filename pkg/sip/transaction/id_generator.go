package transaction

import "github.com/google/uuid"

// GenerateTransactionID returns a unique identifier for a new
// transaction (used only as a log/debug handle; matching is by Key).
func GenerateTransactionID() string {
	return uuid.NewString()
}
