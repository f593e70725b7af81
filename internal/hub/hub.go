package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"classlobby/internal/presence"
	"classlobby/internal/relay"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// Hub serializes all lobby events through a single goroutine. Connection
// read loops enqueue; only the hub goroutine calls into the broadcaster and
// relay, so roster mutations and fan-outs never interleave mid-operation.
//
// Join, chat and disconnect share ONE buffered channel. A connection's read
// loop enqueues its events in the order it read them, and a single channel
// preserves that order through the hub: a disconnect can never overtake the
// join that preceded it, and a chat can never be relayed before its sender's
// join is processed.
type Hub struct {
	eventChannel    chan lobbyEvent
	refreshChannel  chan string   // room ids awaiting a delayed roster rebroadcast
	shutdownChannel chan struct{} // Unbuffered for immediate shutdown signaling

	broadcaster *presence.Broadcaster
	relay       *relay.Relay

	// rebroadcastDelay is how long a disconnect waits before the remaining
	// members see a refreshed roster. The window absorbs rapid reconnects:
	// the roster is recomputed when the timer fires, not when it is set.
	rebroadcastDelay time.Duration

	running bool
	mu      sync.RWMutex
}

// lobbyEvent is the ordered event stream's element type.
type lobbyEvent interface {
	lobbyEvent()
}

// joinEvent carries a join request together with the connection's previous
// room, so the hub can make leaving it an explicit transition.
type joinEvent struct {
	conn     interfaces.Connection
	prevRoom string
	request  types.JoinRequest
}

type chatEvent struct {
	room    string
	message types.ChatMessage
}

type disconnectEvent struct {
	room   string
	connID string
}

func (*joinEvent) lobbyEvent()       {}
func (*chatEvent) lobbyEvent()       {}
func (*disconnectEvent) lobbyEvent() {}

// NewHub creates a new hub over an injected broadcaster and relay.
func NewHub(broadcaster *presence.Broadcaster, chatRelay *relay.Relay, rebroadcastDelay time.Duration) *Hub {
	return &Hub{
		eventChannel:     make(chan lobbyEvent, 1000),
		refreshChannel:   make(chan string, 100),
		shutdownChannel:  make(chan struct{}),
		broadcaster:      broadcaster,
		relay:            chatRelay,
		rebroadcastDelay: rebroadcastDelay,
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting lobby hub...")

	go h.run(ctx)

	return nil
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping lobby hub...")

	select {
	case <-h.shutdownChannel:
		// Channel already closed
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Join queues a room join for a connection. prevRoom is the room the
// connection was in before this join, or empty for a first join.
func (h *Hub) Join(conn interfaces.Connection, prevRoom string, request types.JoinRequest) error {
	return h.enqueue(&joinEvent{conn: conn, prevRoom: prevRoom, request: request})
}

// Chat queues a chat message for relay to a room.
func (h *Hub) Chat(room string, message types.ChatMessage) error {
	return h.enqueue(&chatEvent{room: room, message: message})
}

// Disconnect queues cleanup for a connection that was joined to room.
// Safe to call more than once for the same connection.
func (h *Hub) Disconnect(room, connID string) error {
	return h.enqueue(&disconnectEvent{room: room, connID: connID})
}

// enqueue puts an event on the ordered stream without blocking the caller.
func (h *Hub) enqueue(event lobbyEvent) error {
	if err := h.ensureRunning(); err != nil {
		return err
	}

	select {
	case h.eventChannel <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (h *Hub) ensureRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	return nil
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			switch e := event.(type) {
			case *joinEvent:
				h.handleJoin(e)
			case *chatEvent:
				h.relay.OnChatMessage(e.room, e.message)
			case *disconnectEvent:
				h.handleDisconnect(e)
			}

		case room := <-h.refreshChannel:
			h.broadcaster.BroadcastRoster(room)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// handleJoin processes a room join. A connection holds at most one room:
// joining a new room first leaves the old one explicitly and tells its
// remaining members right away. Rejoining the same room just refreshes the
// descriptor.
func (h *Hub) handleJoin(event *joinEvent) {
	room := event.request.Room

	if event.prevRoom != "" && event.prevRoom != room {
		if h.broadcaster.Leave(event.prevRoom, event.conn.ID()) {
			h.broadcaster.BroadcastRoster(event.prevRoom)
		}
	}

	h.broadcaster.OnJoin(room, event.request.User, event.conn)
	log.Printf("Joined room: room=%s user=%s conn=%s", room, event.request.User.Name, event.conn.ID())
}

// handleDisconnect removes the connection now and schedules the roster
// rebroadcast for later. The timer callback only enqueues the room id; the
// roster itself is computed on the hub goroutine when the refresh runs, so a
// reconnect landing inside the window shows up in the rebroadcast.
func (h *Hub) handleDisconnect(event *disconnectEvent) {
	if !h.broadcaster.Leave(event.room, event.connID) {
		// Already removed, nothing to announce
		return
	}

	log.Printf("Left room: room=%s conn=%s", event.room, event.connID)

	room := event.room
	time.AfterFunc(h.rebroadcastDelay, func() {
		if err := h.ensureRunning(); err != nil {
			return
		}
		select {
		case h.refreshChannel <- room:
		default:
			log.Printf("Refresh channel full, dropping roster rebroadcast for room %s", room)
		}
	})
}
