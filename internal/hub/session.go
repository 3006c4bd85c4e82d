package hub

import (
	"sync"
	"time"
)

// Session holds the authenticated identity and current room of one
// connection.
type Session struct {
	mu           sync.RWMutex
	userID       string
	username     string
	roomID       string
	lastActiveAt time.Time
}

func NewSession(userID, username, roomID string) *Session {
	return &Session{
		userID:       userID,
		username:     username,
		roomID:       roomID,
		lastActiveAt: time.Now(),
	}
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) SetRoomID(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.lastActiveAt = time.Now()
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}
