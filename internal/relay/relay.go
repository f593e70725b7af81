package relay

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"classlobby/internal/roster"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// persistTimeout bounds a single outbox write against the chat log.
const persistTimeout = 10 * time.Second

// Relay fans chat messages out to a room and best-effort persists them.
// Delivery to live peers is synchronous relative to receipt; the durable
// write goes through an outbox drained by a single background goroutine.
// Persistence is at-most-once: a message that fails to persist was still
// delivered to everyone connected at send time, and is simply absent from
// later catch-up reads.
type Relay struct {
	registry *roster.Registry
	chatLog  interfaces.ChatLog

	outbox   chan *types.ChatMessage
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.Mutex

	// Failure counters exposed through Stats. Drops and failed writes are
	// observable here and in the log, never surfaced to the sender.
	dropped   atomic.Uint64
	failed    atomic.Uint64
	persisted atomic.Uint64
}

// NewRelay creates a relay and starts its outbox writer.
func NewRelay(registry *roster.Registry, chatLog interfaces.ChatLog, outboxSize int) *Relay {
	r := &Relay{
		registry: registry,
		chatLog:  chatLog,
		outbox:   make(chan *types.ChatMessage, outboxSize),
		shutdown: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.persistLoop()

	return r
}

// OnChatMessage stamps the message with a server-assigned id and receipt
// timestamp, delivers it to every connection in the room, then enqueues the
// durable write. Client-supplied id and timestamp are ignored.
func (r *Relay) OnChatMessage(room string, message types.ChatMessage) {
	message.ID = uuid.New().String()
	message.ClassID = room
	message.CreatedAt = time.Now().UTC()

	env, err := types.NewEnvelope(types.EventChatMessage, message)
	if err != nil {
		log.Printf("Failed to encode chat message for room %s: %v", room, err)
		return
	}

	// Deliver first: live fan-out must not wait on persistence
	for _, conn := range r.registry.Connections(room) {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver chat message to %s in room %s: %v", conn.ID(), room, err)
		}
	}

	select {
	case r.outbox <- &message:
	default:
		// A full outbox sheds the durable copy, not the delivery
		r.dropped.Add(1)
		log.Printf("Chat outbox full, dropping durable write for room %s", room)
	}
}

// persistLoop drains the outbox into the chat log.
func (r *Relay) persistLoop() {
	defer r.wg.Done()

	for {
		select {
		case message := <-r.outbox:
			r.persist(message)

		case <-r.shutdown:
			// Flush whatever is already queued before exiting
			for {
				select {
				case message := <-r.outbox:
					r.persist(message)
				default:
					log.Println("Chat relay persist loop stopped")
					return
				}
			}
		}
	}
}

func (r *Relay) persist(message *types.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.chatLog.AppendMessage(ctx, message); err != nil {
		r.failed.Add(1)
		log.Printf("Failed to persist chat message %s for room %s: %v", message.ID, message.ClassID, err)
		return
	}
	r.persisted.Add(1)
}

// Stats returns relay counters for the health endpoint
func (r *Relay) Stats() map[string]uint64 {
	return map[string]uint64{
		"messages_persisted": r.persisted.Load(),
		"persist_failures":   r.failed.Load(),
		"outbox_drops":       r.dropped.Load(),
	}
}

// Close stops the outbox writer after flushing queued messages.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdown)
	r.wg.Wait()
	return nil
}
