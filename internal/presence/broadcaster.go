package presence

import (
	"log"

	"classlobby/internal/roster"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// Broadcaster translates roster mutations into presence events delivered to
// every connection in the affected room. Delivery is fire-and-forget: write
// failures are logged and never surfaced to the triggering client, since a
// stalled peer must not block the rest of the room.
type Broadcaster struct {
	registry *roster.Registry
}

// NewBroadcaster creates a broadcaster over an injected registry.
func NewBroadcaster(registry *roster.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// OnJoin registers the connection in the room and emits the two join events:
// a presence-update with the full roster to everyone in the room, including
// the joiner, then a user-joined with just the new descriptor to every other
// connection. Peers use the latter to tell "someone new" apart from a roster
// refresh.
func (b *Broadcaster) OnJoin(room string, descriptor types.UserDescriptor, conn interfaces.Connection) {
	b.registry.Add(room, conn.ID(), descriptor, conn)

	b.BroadcastRoster(room)
	b.notifyJoined(room, descriptor, conn.ID())
}

// Leave removes a connection from a room without any broadcast. Callers
// decide when the remaining members hear about it: immediately on an explicit
// room switch, or after the rebroadcast delay on disconnect. Reports whether
// the connection was actually present.
func (b *Broadcaster) Leave(room, connID string) bool {
	return b.registry.Remove(room, connID)
}

// BroadcastRoster emits a presence-update with the room's current roster to
// every connection in the room. The roster is computed at call time, so a
// delayed rebroadcast after a disconnect reflects any reconnect that landed
// inside the delay window.
func (b *Broadcaster) BroadcastRoster(room string) {
	env, err := types.NewEnvelope(types.EventPresenceUpdate, b.registry.Members(room))
	if err != nil {
		log.Printf("Failed to encode presence update for room %s: %v", room, err)
		return
	}

	for _, conn := range b.registry.Connections(room) {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver presence update to %s in room %s: %v", conn.ID(), room, err)
		}
	}
}

// notifyJoined emits a user-joined event to everyone in the room except the
// joining connection.
func (b *Broadcaster) notifyJoined(room string, descriptor types.UserDescriptor, joinerID string) {
	env, err := types.NewEnvelope(types.EventUserJoined, descriptor)
	if err != nil {
		log.Printf("Failed to encode user-joined for room %s: %v", room, err)
		return
	}

	for _, conn := range b.registry.ConnectionsExcept(room, joinerID) {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver user-joined to %s in room %s: %v", conn.ID(), room, err)
		}
	}
}
