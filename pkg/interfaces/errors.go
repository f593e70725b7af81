package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrChatLogClosed = errors.New("chat log is closed")
)
