package interfaces

import (
	"context"

	"classlobby/pkg/types"
)

// ChatLog is the persistence collaborator for lobby chat history. It is the
// only part of the application's document store this service owns; class,
// user and mission storage live elsewhere and are never touched here.
//
// Durability is best-effort: the relay delivers to live peers before the
// append happens, and an append failure must never roll back delivery.
type ChatLog interface {
	// AppendMessage persists one message to the room's chat log.
	AppendMessage(ctx context.Context, message *types.ChatMessage) error

	// RoomHistory returns up to limit messages for a room in ascending
	// created_at order. When more than limit messages exist, the most
	// recent ones are returned. Unknown rooms yield an empty slice.
	RoomHistory(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error)

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases resources.
	Close() error
}
