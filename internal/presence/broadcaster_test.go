package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlobby/internal/roster"
	"classlobby/pkg/types"
)

// recordingConn captures every envelope written to it
type recordingConn struct {
	id       string
	mu       sync.Mutex
	received []*types.Envelope
	writeErr error
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) WriteJSON(v interface{}) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	env, ok := v.(*types.Envelope)
	if !ok {
		return errors.New("unexpected payload type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, env)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) events(name string) []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Envelope
	for _, env := range c.received {
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func decodeRoster(t *testing.T, env *types.Envelope) []types.UserDescriptor {
	t.Helper()
	var roster []types.UserDescriptor
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	return roster
}

func desc(name string) types.UserDescriptor {
	return types.UserDescriptor{Name: name, Avatar: "cat", Character: "mage"}
}

func newTestBroadcaster() (*Broadcaster, *roster.Registry) {
	registry := roster.NewRegistry()
	return NewBroadcaster(registry), registry
}

func TestBroadcaster_JoinEventFanout(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	ana := &recordingConn{id: "conn-ana"}
	luis := &recordingConn{id: "conn-luis"}

	broadcaster.OnJoin("C1", desc("Ana"), ana)
	broadcaster.OnJoin("C1", desc("Luis"), luis)

	// Ana: presence-update for her own join and for Luis's join
	anaUpdates := ana.events(types.EventPresenceUpdate)
	require.Len(t, anaUpdates, 2)
	assert.Len(t, decodeRoster(t, anaUpdates[0]), 1)
	assert.Len(t, decodeRoster(t, anaUpdates[1]), 2)

	// Rosters grow in join order
	second := decodeRoster(t, anaUpdates[1])
	assert.Equal(t, "Ana", second[0].Name)
	assert.Equal(t, "Luis", second[1].Name)

	// The joiner never receives its own user-joined
	assert.Empty(t, luis.events(types.EventUserJoined))

	// Peers receive exactly one user-joined with the new descriptor
	anaJoins := ana.events(types.EventUserJoined)
	require.Len(t, anaJoins, 1)
	var joined types.UserDescriptor
	require.NoError(t, json.Unmarshal(anaJoins[0].Data, &joined))
	assert.Equal(t, "Luis", joined.Name)
}

func TestBroadcaster_JoinerReceivesOwnRoster(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	ana := &recordingConn{id: "conn-ana"}
	broadcaster.OnJoin("C1", desc("Ana"), ana)

	updates := ana.events(types.EventPresenceUpdate)
	require.Len(t, updates, 1)
	members := decodeRoster(t, updates[0])
	require.Len(t, members, 1)
	assert.Equal(t, "Ana", members[0].Name)
}

func TestBroadcaster_LeaveThenBroadcast(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	ana := &recordingConn{id: "conn-ana"}
	luis := &recordingConn{id: "conn-luis"}
	broadcaster.OnJoin("C1", desc("Ana"), ana)
	broadcaster.OnJoin("C1", desc("Luis"), luis)

	require.True(t, broadcaster.Leave("C1", "conn-ana"))
	broadcaster.BroadcastRoster("C1")

	updates := luis.events(types.EventPresenceUpdate)
	last := decodeRoster(t, updates[len(updates)-1])
	require.Len(t, last, 1)
	assert.Equal(t, "Luis", last[0].Name)
}

func TestBroadcaster_LeaveIdempotent(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	ana := &recordingConn{id: "conn-ana"}
	broadcaster.OnJoin("C1", desc("Ana"), ana)

	assert.True(t, broadcaster.Leave("C1", "conn-ana"))
	assert.False(t, broadcaster.Leave("C1", "conn-ana"))
}

func TestBroadcaster_SlowPeerDoesNotStopFanout(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	broken := &recordingConn{id: "conn-broken", writeErr: errors.New("peer gone")}
	luis := &recordingConn{id: "conn-luis"}

	broadcaster.OnJoin("C1", desc("Broken"), broken)
	broadcaster.OnJoin("C1", desc("Luis"), luis)

	// Luis still got his roster despite the failing peer
	updates := luis.events(types.EventPresenceUpdate)
	require.Len(t, updates, 1)
	assert.Len(t, decodeRoster(t, updates[0]), 2)
}

func TestBroadcaster_RosterRecomputedAtBroadcastTime(t *testing.T) {
	broadcaster, _ := newTestBroadcaster()

	ana := &recordingConn{id: "conn-ana"}
	luis := &recordingConn{id: "conn-luis"}
	broadcaster.OnJoin("C1", desc("Ana"), ana)
	broadcaster.OnJoin("C1", desc("Luis"), luis)

	// Ana disconnects but reconnects before the delayed rebroadcast fires
	broadcaster.Leave("C1", "conn-ana")
	ana2 := &recordingConn{id: "conn-ana-2"}
	broadcaster.OnJoin("C1", desc("Ana"), ana2)

	// The delayed rebroadcast computes the roster lazily at fire time
	broadcaster.BroadcastRoster("C1")

	updates := luis.events(types.EventPresenceUpdate)
	last := decodeRoster(t, updates[len(updates)-1])
	assert.Len(t, last, 2, "rebroadcast should include the reconnected member")
}
