package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlobby/internal/roster"
	"classlobby/pkg/types"
)

// recordingConn captures envelopes written to it
type recordingConn struct {
	id       string
	mu       sync.Mutex
	received []*types.Envelope
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) WriteJSON(v interface{}) error {
	env := v.(*types.Envelope)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, env)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) chatMessages(t *testing.T) []types.ChatMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.ChatMessage
	for _, env := range c.received {
		if env.Event != types.EventChatMessage {
			continue
		}
		var msg types.ChatMessage
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		out = append(out, msg)
	}
	return out
}

// stubChatLog records appends and can be made to fail or block
type stubChatLog struct {
	mu        sync.Mutex
	appended  []*types.ChatMessage
	appendErr error
	block     chan struct{} // when set, AppendMessage waits on it
}

func (s *stubChatLog) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, message)
	return nil
}

func (s *stubChatLog) RoomHistory(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (s *stubChatLog) HealthCheck(ctx context.Context) error { return nil }
func (s *stubChatLog) Close() error                          { return nil }

func (s *stubChatLog) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func joinRoom(registry *roster.Registry, room, name string) *recordingConn {
	conn := &recordingConn{id: "conn-" + name}
	registry.Add(room, conn.ID(), types.UserDescriptor{Name: name}, conn)
	return conn
}

func TestRelay_DeliversToRoom(t *testing.T) {
	registry := roster.NewRegistry()
	chatLog := &stubChatLog{}
	relay := NewRelay(registry, chatLog, 16)
	defer relay.Close()

	ana := joinRoom(registry, "C1", "Ana")
	luis := joinRoom(registry, "C1", "Luis")
	outsider := joinRoom(registry, "C2", "Eva")

	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "hola"})

	anaMsgs := ana.chatMessages(t)
	require.Len(t, anaMsgs, 1)
	assert.Equal(t, "hola", anaMsgs[0].Body)

	luisMsgs := luis.chatMessages(t)
	require.Len(t, luisMsgs, 1)
	assert.Equal(t, "hola", luisMsgs[0].Body)

	assert.Empty(t, outsider.chatMessages(t), "messages must not leak across rooms")
}

func TestRelay_ServerAssignsIDAndTimestamp(t *testing.T) {
	registry := roster.NewRegistry()
	chatLog := &stubChatLog{}
	relay := NewRelay(registry, chatLog, 16)
	defer relay.Close()

	luis := joinRoom(registry, "C1", "Luis")

	stale := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "hola", ID: "client-id", CreatedAt: stale})

	msgs := luis.chatMessages(t)
	require.Len(t, msgs, 1)
	assert.NotEqual(t, "client-id", msgs[0].ID, "client-supplied id must be replaced")
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, "C1", msgs[0].ClassID)
	assert.WithinDuration(t, time.Now().UTC(), msgs[0].CreatedAt, time.Minute)
}

func TestRelay_PersistsAsynchronously(t *testing.T) {
	registry := roster.NewRegistry()
	chatLog := &stubChatLog{}
	relay := NewRelay(registry, chatLog, 16)
	defer relay.Close()

	joinRoom(registry, "C1", "Luis")
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "hola"})

	waitFor(t, time.Second, func() bool { return chatLog.count() == 1 })
	assert.Equal(t, uint64(1), relay.Stats()["messages_persisted"])
}

func TestRelay_PersistFailureDoesNotAffectDelivery(t *testing.T) {
	registry := roster.NewRegistry()
	chatLog := &stubChatLog{appendErr: errors.New("gateway unreachable")}
	relay := NewRelay(registry, chatLog, 16)
	defer relay.Close()

	luis := joinRoom(registry, "C1", "Luis")
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "hola"})

	// Delivery already happened synchronously
	require.Len(t, luis.chatMessages(t), 1)

	// The failure is counted, not propagated
	waitFor(t, time.Second, func() bool { return relay.Stats()["persist_failures"] == 1 })
	assert.Equal(t, 0, chatLog.count())
}

func TestRelay_FullOutboxShedsDurableWrite(t *testing.T) {
	registry := roster.NewRegistry()
	block := make(chan struct{})
	chatLog := &stubChatLog{block: block}
	relay := NewRelay(registry, chatLog, 1)
	defer func() {
		close(block)
		relay.Close()
	}()

	luis := joinRoom(registry, "C1", "Luis")

	// First message occupies the writer, second fills the outbox,
	// third has nowhere to go
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "uno"})
	waitFor(t, time.Second, func() bool { return len(relay.outbox) == 0 || relay.Stats()["outbox_drops"] > 0 })
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "dos"})
	relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "tres"})

	assert.Len(t, luis.chatMessages(t), 3, "every message is delivered live")
	assert.True(t, relay.Stats()["outbox_drops"] >= 1, "overflow must be counted")
}

func TestRelay_CloseFlushesOutbox(t *testing.T) {
	registry := roster.NewRegistry()
	chatLog := &stubChatLog{}
	relay := NewRelay(registry, chatLog, 16)

	joinRoom(registry, "C1", "Luis")
	for i := 0; i < 5; i++ {
		relay.OnChatMessage("C1", types.ChatMessage{User: "Ana", Body: "msg"})
	}

	require.NoError(t, relay.Close())
	assert.Equal(t, 5, chatLog.count())
	require.NoError(t, relay.Close(), "Close must be idempotent")
}
