package room

import (
	"context"
	"log/slog"
	"sync"
)

// Registry maps room keys to the set of currently joined connections.
// It is the only shared mutable state of the realtime layer: all joins,
// leaves and membership reads are serialized through its lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Connection]struct{}),
	}
}

// Join adds the connection to its room's member set. Joining twice with
// the same connection is a no-op.
func (r *Registry) Join(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conn.RoomKey]
	if !ok {
		members = make(map[*Connection]struct{})
		r.rooms[conn.RoomKey] = members
	}
	members[conn] = struct{}{}
	slog.Info("connection joined room", "room_id", conn.RoomKey, "conn_id", conn.ID, "user_id", conn.Identity.ID)
}

// Leave removes the connection from its room. A no-op when the connection
// is not a member. Empty rooms are dropped from the map.
func (r *Registry) Leave(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conn.RoomKey]
	if !ok {
		return
	}
	if _, ok := members[conn]; !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, conn.RoomKey)
	}
	slog.Info("connection left room", "room_id", conn.RoomKey, "conn_id", conn.ID, "user_id", conn.Identity.ID)
}

// MemberCount returns the number of connections currently in the room.
func (r *Registry) MemberCount(roomKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomKey])
}

// BroadcastExcluding delivers the event to every current member of the
// room except the given connection. Delivery is best-effort: write
// failures are logged and never propagated. An unknown room key is a
// safe no-op.
func (r *Registry) BroadcastExcluding(ctx context.Context, roomKey string, ev Event, except *Connection) {
	r.deliver(ctx, roomKey, ev, except)
}

// BroadcastAll delivers the event to every current member of the room,
// including the original sender if still joined.
func (r *Registry) BroadcastAll(ctx context.Context, roomKey string, ev Event) {
	r.deliver(ctx, roomKey, ev, nil)
}

func (r *Registry) deliver(ctx context.Context, roomKey string, ev Event, except *Connection) {
	// Snapshot membership under the read lock so a concurrent join/leave
	// cannot mutate the set mid-iteration.
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[roomKey]))
	for conn := range r.rooms[roomKey] {
		if conn != except {
			members = append(members, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range members {
		if err := conn.Send(ctx, ev); err != nil {
			slog.Debug("broadcast write failed", "room_id", roomKey, "conn_id", conn.ID, "error", err)
		}
	}
}
