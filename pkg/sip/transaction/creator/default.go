// Package creator wires the default Transaction factory so that
// pkg/sip/transaction does not need to import its client/server
// subpackages directly (which would cycle back to it).
package creator

import (
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
	"github.com/outcall/sipvox/pkg/sip/transaction/client"
	"github.com/outcall/sipvox/pkg/sip/transaction/server"
)

// DefaultCreator builds transactions from the client and server
// subpackages.
type DefaultCreator struct{}

func NewDefaultCreator() transaction.Creator {
	return &DefaultCreator{}
}

func (c *DefaultCreator) CreateClientInviteTransaction(
	id string, key transaction.Key, request message.Message,
	t transaction.Transport, timers transaction.Timers,
) transaction.Transaction {
	return client.NewInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateClientNonInviteTransaction(
	id string, key transaction.Key, request message.Message,
	t transaction.Transport, timers transaction.Timers,
) transaction.Transaction {
	return client.NewNonInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateServerInviteTransaction(
	id string, key transaction.Key, request message.Message,
	t transaction.Transport, timers transaction.Timers,
) transaction.Transaction {
	return server.NewInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateServerNonInviteTransaction(
	id string, key transaction.Key, request message.Message,
	t transaction.Transport, timers transaction.Timers,
) transaction.Transaction {
	return server.NewNonInviteTransaction(id, key, request, t, timers)
}
