package roster

import (
	"sort"
	"sync"

	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// member is one connection's presence in a room. The connection id is the
// key; the descriptor is client-supplied metadata. Two connections carrying
// identical descriptors remain independent entries, so removing one never
// evicts the other.
type member struct {
	connID     string
	descriptor types.UserDescriptor
	conn       interfaces.Connection
	seq        uint64 // join order within the registry
}

// Registry tracks which connections are present in which room. It is the
// only shared mutable state in the presence core and is always passed in
// explicitly, never held as a package-level singleton.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*member // room -> connID -> member
	seq   uint64
}

// NewRegistry creates an empty registry. Presence is inherently ephemeral:
// the registry starts empty on every process start and is never persisted.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*member),
	}
}

// Add inserts or replaces a connection's presence in a room. Re-adding the
// same connection id updates its descriptor but keeps its join order.
func (r *Registry) Add(room, connID string, descriptor types.UserDescriptor, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*member)
		r.rooms[room] = members
	}

	if existing, ok := members[connID]; ok {
		existing.descriptor = descriptor
		existing.conn = conn
		return
	}

	r.seq++
	members[connID] = &member{
		connID:     connID,
		descriptor: descriptor,
		conn:       conn,
		seq:        r.seq,
	}
}

// Remove deletes a connection's presence from a room. It is idempotent:
// unknown rooms and unknown connection ids are no-ops. Reports whether an
// entry was actually removed.
func (r *Registry) Remove(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}

	delete(members, connID)
	// Drop empty rooms so the map doesn't grow with churned class ids
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	return true
}

// Members returns the room roster in join order. Structurally identical
// descriptors collapse to a single roster entry: the wire roster shows one
// "Ana" even when two connections present the same descriptor, while both
// connections stay tracked underneath.
func (r *Registry) Members(room string) []types.UserDescriptor {
	ordered := r.orderedMembers(room)

	descriptors := make([]types.UserDescriptor, 0, len(ordered))
	for _, m := range ordered {
		duplicate := false
		for _, seen := range descriptors {
			if seen.Equal(m.descriptor) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			descriptors = append(descriptors, m.descriptor)
		}
	}

	return descriptors
}

// Connections returns every live connection in a room.
func (r *Registry) Connections(room string) []interfaces.Connection {
	ordered := r.orderedMembers(room)

	conns := make([]interfaces.Connection, 0, len(ordered))
	for _, m := range ordered {
		conns = append(conns, m.conn)
	}

	return conns
}

// ConnectionsExcept returns every live connection in a room except connID.
func (r *Registry) ConnectionsExcept(room, connID string) []interfaces.Connection {
	ordered := r.orderedMembers(room)

	conns := make([]interfaces.Connection, 0, len(ordered))
	for _, m := range ordered {
		if m.connID == connID {
			continue
		}
		conns = append(conns, m.conn)
	}

	return conns
}

// Stats returns registry statistics for the health endpoint
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}

	return map[string]int{
		"active_rooms":  len(r.rooms),
		"total_members": total,
	}
}

// orderedMembers snapshots a room's members sorted by join order.
func (r *Registry) orderedMembers(room string) []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	ordered := make([]*member, 0, len(members))
	for _, m := range members {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	return ordered
}
