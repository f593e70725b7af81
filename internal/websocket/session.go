package websocket

import (
	"sync"

	"classlobby/pkg/types"
)

// ClientSession tracks the join state of one physical connection so that
// disconnect cleanup is exact. It moves Unjoined -> Joined -> Ended; End is
// terminal and idempotent.
type ClientSession struct {
	mu         sync.Mutex
	room       string
	descriptor types.UserDescriptor
	joined     bool
	ended      bool
}

// NewClientSession creates a session in the Unjoined state.
func NewClientSession() *ClientSession {
	return &ClientSession{}
}

// Join records the room and descriptor for this connection and returns the
// previously joined room, if any. The caller uses the previous room to leave
// it explicitly before the new membership takes effect.
func (s *ClientSession) Join(room string, descriptor types.UserDescriptor) (prevRoom string, hadPrev bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return "", false, ErrSessionEnded
	}

	if s.joined {
		prevRoom, hadPrev = s.room, true
	}

	s.room = room
	s.descriptor = descriptor
	s.joined = true

	return prevRoom, hadPrev, nil
}

// Current returns the currently joined room and descriptor.
func (s *ClientSession) Current() (room string, descriptor types.UserDescriptor, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.descriptor, s.joined && !s.ended
}

// End tears the session down and returns the last join state exactly once.
// A second End, or an End on a session that never joined, reports
// wasJoined=false so disconnect cleanup stays idempotent.
func (s *ClientSession) End() (room string, descriptor types.UserDescriptor, wasJoined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return "", types.UserDescriptor{}, false
	}
	s.ended = true

	if !s.joined {
		return "", types.UserDescriptor{}, false
	}

	return s.room, s.descriptor, true
}
