package types

import (
	"encoding/json"
	"time"
)

// Event names carried in the wire envelope. The client-facing names are fixed
// by the existing lobby clients and must not change.
const (
	EventJoinClass      = "join-class"
	EventChatMessage    = "chat-message"
	EventPresenceUpdate = "presence-update"
	EventUserJoined     = "user-joined"
	EventChatHistory    = "chat-history"
)

// UserDescriptor is the identity a client presents when joining a room.
// It is not a stable identifier: two connections may present identical
// descriptors, and the roster layer must keep them apart. JSON field names
// match the lobby client payloads.
type UserDescriptor struct {
	Name      string `json:"nombre"`
	Avatar    string `json:"avatar"`
	Character string `json:"personaje"`
}

// Equal reports structural equality over all descriptor fields.
func (d UserDescriptor) Equal(other UserDescriptor) bool {
	return d.Name == other.Name &&
		d.Avatar == other.Avatar &&
		d.Character == other.Character
}

// ChatMessage is a single lobby chat message. ID and CreatedAt are assigned
// server-side at receipt; client-supplied values are ignored.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	ClassID   string    `json:"classId,omitempty"`
	User      string    `json:"user"`
	Avatar    string    `json:"avatar"`
	Body      string    `json:"msg"`
	CreatedAt time.Time `json:"created_at"`
}

// JoinRequest is the payload of a join-class event.
type JoinRequest struct {
	Room string         `json:"room"`
	User UserDescriptor `json:"user"`
}

// ChatRequest is the payload of a client chat-message event.
type ChatRequest struct {
	ClassID string      `json:"classId"`
	Message ChatMessage `json:"message"`
}

// Envelope frames every event on the WebSocket connection
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals v into the data field of an envelope for event.
func NewEnvelope(event string, v interface{}) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: data}, nil
}
