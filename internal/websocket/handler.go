package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classlobby/internal/hub"
	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options carries the tunables the handler needs from configuration.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
	HistoryLimit int
}

// Handler manages WebSocket connections and the per-connection event loop.
// Incoming frames are decoded here and enqueued on the hub; all roster and
// relay work happens on the hub goroutine.
type Handler struct {
	hub     *hub.Hub
	chatLog interfaces.ChatLog
	opts    Options
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(lobbyHub *hub.Hub, chatLog interfaces.ChatLog, opts Options) *Handler {
	return &Handler{
		hub:     lobbyHub,
		chatLog: chatLog,
		opts:    opts,
	}
}

// HandleWebSocket upgrades the request and starts the connection lifecycle.
// There is no join information at upgrade time: clients announce their room
// and descriptor with a join-class event once connected.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.BufferSize)
	session := NewClientSession()

	log.Printf("Connection established: conn=%s remote=%s", wsConn.ID(), r.RemoteAddr)

	go h.handleConnection(wsConn, session)
}

// handleConnection runs the read loop and heartbeat for one connection and
// guarantees roster cleanup on the way out.
func (h *Handler) handleConnection(conn *Connection, session *ClientSession) {
	defer func() {
		// The session yields its last join state exactly once, so cleanup
		// cannot double-remove even if this path races a handler panic
		if room, _, wasJoined := session.End(); wasJoined {
			if err := h.hub.Disconnect(room, conn.ID()); err != nil {
				log.Printf("Disconnect cleanup failed for conn %s: %v", conn.ID(), err)
			}
		}
		_ = conn.Close()
		log.Printf("Connection closed: conn=%s", conn.ID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	// Heartbeat keeps the read deadline honest across idle lobbies
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on conn %s: %v", conn.ID(), err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.handleFrame(conn, session, data)
	}
}

// handleFrame decodes one envelope and dispatches it. Malformed frames are
// logged and dropped; the connection stays up.
func (h *Handler) handleFrame(conn *Connection, session *ClientSession, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Dropping malformed frame from conn %s: %v", conn.ID(), err)
		return
	}

	switch env.Event {
	case types.EventJoinClass:
		h.handleJoin(conn, session, env.Data)

	case types.EventChatMessage:
		h.handleChat(conn, session, env.Data)

	default:
		log.Printf("Dropping unknown event %q from conn %s", env.Event, conn.ID())
	}
}

func (h *Handler) handleJoin(conn *Connection, session *ClientSession, data json.RawMessage) {
	var req types.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("Dropping malformed join from conn %s: %v", conn.ID(), err)
		return
	}
	if err := req.Validate(); err != nil {
		log.Printf("Dropping invalid join from conn %s: %v", conn.ID(), err)
		return
	}

	prevRoom, hadPrev, err := session.Join(req.Room, req.User)
	if err != nil {
		log.Printf("Join on ended session for conn %s", conn.ID())
		return
	}
	if !hadPrev {
		prevRoom = ""
	}

	if err := h.hub.Join(conn, prevRoom, req); err != nil {
		log.Printf("Failed to enqueue join for conn %s: %v", conn.ID(), err)
		return
	}

	// One-shot catch-up read, outside the live relay
	go h.sendRoomHistory(conn, req.Room)
}

func (h *Handler) handleChat(conn *Connection, session *ClientSession, data json.RawMessage) {
	var req types.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("Dropping malformed chat from conn %s: %v", conn.ID(), err)
		return
	}
	if err := req.Validate(); err != nil {
		log.Printf("Dropping invalid chat from conn %s: %v", conn.ID(), err)
		return
	}

	if err := h.hub.Chat(req.ClassID, req.Message); err != nil {
		log.Printf("Failed to enqueue chat for conn %s: %v", conn.ID(), err)
	}
}

// sendRoomHistory seeds a newly joined client with the persisted tail of the
// room's chat. Best-effort: a failed read is logged and the client simply
// starts with an empty history.
func (h *Handler) sendRoomHistory(conn *Connection, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messages, err := h.chatLog.RoomHistory(ctx, room, h.opts.HistoryLimit)
	if err != nil {
		log.Printf("Failed to load history for room %s: %v", room, err)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}

	env, err := types.NewEnvelope(types.EventChatHistory, messages)
	if err != nil {
		log.Printf("Failed to encode history for room %s: %v", room, err)
		return
	}

	if err := conn.WriteJSON(env); err != nil {
		log.Printf("Failed to send history to conn %s: %v", conn.ID(), err)
	}
}
