package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/avekdev/devroom/internal/assistant"
	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/room"
)

// Trigger is the literal substring that summons the assistant.
// Matching is case-sensitive.
const Trigger = "@ai"

// Router decides, per inbound chat message, between a plain relay and a
// relay plus assistant invocation.
type Router struct {
	rooms   *room.Registry
	gateway assistant.Gateway // nil when the assistant is disabled
}

// NewRouter creates a message router. gateway may be nil, in which case
// tagged messages are relayed like plain ones.
func NewRouter(rooms *room.Registry, gateway assistant.Gateway) *Router {
	return &Router{rooms: rooms, gateway: gateway}
}

// HandleProjectMessage relays an inbound chat message to the rest of the
// sender's room and, when the trigger is present, invokes the assistant
// asynchronously. The relay always happens first; the sender keeps its
// own optimistic local copy and is excluded.
func (r *Router) HandleProjectMessage(ctx context.Context, conn *room.Connection, data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed project-message payload", "error", err, "conn_id", conn.ID)
		return
	}

	r.rooms.BroadcastExcluding(ctx, conn.RoomKey, room.Event{
		Event: EventProjectMessage,
		Data:  msg,
	}, conn)

	if r.gateway == nil || !strings.Contains(msg.Message, Trigger) {
		return
	}

	prompt := strings.TrimSpace(strings.Replace(msg.Message, Trigger, "", 1))

	// Capture the room key now: a late reply goes to whoever is in the
	// room when it lands, even if this connection has left by then.
	roomKey := conn.RoomKey
	go r.invoke(roomKey, prompt)
}

// invoke runs one assistant call and broadcasts the reply to the whole
// room, sender included. In-flight calls are never cancelled; a reply to
// an empty room is delivered to an empty set. On failure nothing is
// broadcast.
func (r *Router) invoke(roomKey, prompt string) {
	ctx := context.Background()

	reply, err := r.gateway.Generate(ctx, prompt)
	if err != nil {
		slog.Error("assistant invocation failed", "room_id", roomKey, "error", err)
		return
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to encode assistant reply", "room_id", roomKey, "error", err)
		return
	}

	r.rooms.BroadcastAll(ctx, roomKey, room.Event{
		Event: EventProjectMessage,
		Data: domain.ChatMessage{
			Message: string(payload),
			Sender:  domain.AssistantSender,
		},
	})
}
