package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrBlankCoding/ChannelChat/internal/domain"
)

// MemoryStore is an in-memory Store for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	members  map[string][]string // roomID -> member user ids
	tokens   map[string][]string // userID -> push tokens
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*domain.Message),
		members:  make(map[string][]string),
		tokens:   make(map[string][]string),
	}
}

// SetRoomMembers seeds room membership, used for push notification fan-out.
func (s *MemoryStore) SetRoomMembers(roomID string, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[roomID] = append([]string(nil), members...)
}

// SetPushTokens seeds a user's device tokens.
func (s *MemoryStore) SetPushTokens(userID string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = append([]string(nil), tokens...)
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	stored := *msg
	s.messages[msg.ID] = &stored
	return msg.ID, nil
}

func (s *MemoryStore) FindMessage(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, id string, upd domain.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = upd.Content
	msg.Nonce = upd.Nonce
	msg.KeyEpoch = upd.KeyEpoch
	msg.Compressed = upd.Compressed
	msg.Edited = true
	editedAt := upd.EditedAt
	msg.EditedAt = &editedAt
	if upd.ReplyTo != nil {
		msg.ReplyTo = upd.ReplyTo
	}
	return nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AddReaction(ctx context.Context, id, emoji, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.HasReactor(emoji, username) {
		return nil
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	msg.Reactions[emoji] = append(msg.Reactions[emoji], username)
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, roomID, userID string, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok || msg.RoomID != roomID {
			continue
		}
		already := false
		for _, r := range msg.ReadBy {
			if r == userID {
				already = true
				break
			}
		}
		if !already {
			msg.ReadBy = append(msg.ReadBy, userID)
			modified++
		}
	}
	return modified, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, roomID string, before time.Time, beforeID string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []*domain.Message
	for _, msg := range s.messages {
		if msg.RoomID != roomID {
			continue
		}
		if !before.IsZero() {
			if msg.Timestamp.After(before) {
				continue
			}
			// Same-timestamp messages page through the id tie-break.
			if msg.Timestamp.Equal(before) && msg.ID >= beforeID {
				continue
			}
		}
		cp := *msg
		messages = append(messages, &cp)
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].Timestamp.After(messages[j].Timestamp)
		}
		return messages[i].ID > messages[j].ID
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (s *MemoryStore) MemberPushTokens(ctx context.Context, roomID, excludeUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []string
	for _, member := range s.members[roomID] {
		if member == excludeUserID {
			continue
		}
		tokens = append(tokens, s.tokens[member]...)
	}
	return tokens, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
