package interfaces

// Connection represents one client connection to the lobby
// Pure abstraction without transport details: the roster, presence and relay
// layers never touch the underlying WebSocket.
type Connection interface {
	// ID returns the server-assigned connection identifier. It is stable for
	// the lifetime of the connection and is the true roster key: the user
	// descriptor a client presents is metadata, never identity.
	ID() string

	// WriteJSON sends a JSON message to the client (thread-safe)
	// Implementations must serialize writes; callers may fan out from
	// multiple goroutines.
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error
}
