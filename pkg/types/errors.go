package types

import "errors"

// Specific error types enable proper error handling and user-friendly
// error messages throughout the system
var (
	ErrEmptyRoom       = errors.New("room identifier cannot be empty")
	ErrRoomTooLong     = errors.New("room identifier exceeds 200 characters")
	ErrMessageTooLarge = errors.New("message body exceeds 64KB limit")
)
