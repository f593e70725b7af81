package types

// maxBodyBytes caps a single chat message body. UTF-8 text at classroom
// scale never approaches this; the cap exists to bound fan-out cost.
const maxBodyBytes = 65536

// maxRoomLength bounds the opaque room identifier for storage sanity.
// Beyond length, room identifiers are intentionally not validated.
const maxRoomLength = 200

// IsValidRoomID checks that a room identifier is present and bounded.
func IsValidRoomID(room string) bool {
	return len(room) >= 1 && len(room) <= maxRoomLength
}

// Validate ensures the join request can be processed.
// The user descriptor is deliberately unvalidated: it is opaque client
// metadata and any value is an acceptable roster entry.
func (r *JoinRequest) Validate() error {
	if r.Room == "" {
		return ErrEmptyRoom
	}
	if len(r.Room) > maxRoomLength {
		return ErrRoomTooLong
	}
	return nil
}

// Validate ensures the chat request can be relayed.
func (r *ChatRequest) Validate() error {
	if r.ClassID == "" {
		return ErrEmptyRoom
	}
	if len(r.ClassID) > maxRoomLength {
		return ErrRoomTooLong
	}
	if len(r.Message.Body) > maxBodyBytes {
		return ErrMessageTooLarge
	}
	return nil
}
