// Package room provides per-project rooms of live connections and
// best-effort broadcast delivery to their members.
package room

import (
	"context"

	"github.com/avekdev/devroom/internal/auth"
	"github.com/google/uuid"
)

// Event is one JSON frame on the wire: an event name plus its payload.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Transport delivers a single event frame to one client.
type Transport interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// Connection is one live client attached to a room. Identity and RoomKey
// are set at admission time and never change afterwards.
type Connection struct {
	ID        string
	Identity  auth.Identity
	RoomKey   string
	transport Transport
}

// NewConnection creates a connection for an admitted client.
func NewConnection(identity auth.Identity, roomKey string, transport Transport) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		Identity:  identity,
		RoomKey:   roomKey,
		transport: transport,
	}
}

// Send delivers an event frame to this connection's client.
func (c *Connection) Send(ctx context.Context, ev Event) error {
	return c.transport.WriteEvent(ctx, ev)
}
