// Package pipeline drives the per-message processing flow: compress,
// encrypt, persist, decrypt-for-echo, broadcast and notify, plus the
// symmetric logic for edits, deletes, reactions and read receipts.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrBlankCoding/ChannelChat/internal/audit"
	"github.com/MrBlankCoding/ChannelChat/internal/compress"
	"github.com/MrBlankCoding/ChannelChat/internal/crypto"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
	"github.com/MrBlankCoding/ChannelChat/internal/notify"
	"github.com/MrBlankCoding/ChannelChat/internal/store"
)

type handlerFunc func(ctx context.Context, c *hub.Client, raw []byte)

// Service dispatches inbound socket events by kind through a handler table,
// giving O(1) dispatch on the connection's serial read loop.
//
// New-message handling is detached onto a per-room FIFO worker so it never
// blocks the read loop, while keeping per-room persist order equal to
// broadcast order.
type Service struct {
	registry *hub.Registry
	store    store.Store
	cipher   *crypto.Cipher
	comp     *compress.Compressor
	gateway  notify.Gateway
	logger   zerolog.Logger

	handlers map[string]handlerFunc

	mu         sync.Mutex
	roomQueues map[string]chan func()
	closed     bool
	wg         sync.WaitGroup
}

const roomQueueDepth = 64

func NewService(
	registry *hub.Registry,
	st store.Store,
	cipher *crypto.Cipher,
	comp *compress.Compressor,
	gateway notify.Gateway,
	logger zerolog.Logger,
) *Service {
	s := &Service{
		registry:   registry,
		store:      st,
		cipher:     cipher,
		comp:       comp,
		gateway:    gateway,
		logger:     logger,
		roomQueues: make(map[string]chan func()),
	}
	s.handlers = map[string]handlerFunc{
		domain.EventMessage:        s.handleNewMessage,
		domain.EventEditMessage:    s.handleEditMessage,
		domain.EventDeleteMessage:  s.handleDeleteMessage,
		domain.EventEmojiReaction:  s.handleEmojiReaction,
		domain.EventReadReceipt:    s.handleReadReceipt,
		domain.EventPresenceUpdate: s.handlePresenceUpdate,
		domain.EventTypingStatus:   s.handleTypingStatus,
		domain.EventSwitchRoom:     s.handleSwitchRoom,
	}
	return s
}

// HandleFrame processes one inbound frame from a connection. The literal
// "ping" is a fast path that refreshes active presence without touching the
// JSON parser; malformed JSON and unknown kinds are silently dropped. No
// frame, however hostile, may terminate the connection's processing loop.
func (s *Service) HandleFrame(ctx context.Context, c *hub.Client, data []byte) {
	if string(data) == domain.RawPing {
		s.registry.UpdatePresence(c.Session.UserID(), c.Session.RoomID(), domain.StatusActive, time.Time{})
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	handler, ok := s.handlers[env.Type]
	if !ok {
		s.logger.Debug().Str(log.FieldEventType, env.Type).Msg("unhandled event type")
		return
	}
	handler(ctx, c, data)
}

// HandleDisconnect runs on the owning connection's exit path and transitions
// the user to offline if this was their last connection in the room.
func (s *Service) HandleDisconnect(ctx context.Context, c *hub.Client) {
	userID := c.Session.UserID()
	roomID := c.Session.RoomID()
	s.registry.Disconnect(c, userID, roomID)
	audit.Log(ctx, audit.ActionDisconnect, userID, roomID, "connection closed")
}

// FetchHistory returns up to limit stored messages for a room, newest first,
// rewritten to plaintext for delivery. The (before, beforeID) pair is the
// paging position from the previous page's oldest message.
func (s *Service) FetchHistory(ctx context.Context, roomID string, before time.Time, beforeID string, limit int) ([]*domain.Message, error) {
	messages, err := s.store.RecentMessages(ctx, roomID, before, beforeID, limit)
	if err != nil {
		return nil, err
	}
	s.comp.ProcessBatch(messages, roomID, s.cipher)
	return messages, nil
}

// Close drains the per-room workers. In-flight tasks run to completion.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.roomQueues {
		close(q)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// enqueueRoomTask schedules fn on the room's FIFO worker, creating the
// worker on first use. Tasks for one room never interleave, which is what
// keeps same-sender submission order equal to persist and broadcast order.
//
// The lock is held across the send: Close closes the queues under the same
// lock, so a queue can never be closed between the closed check and the
// send. Workers never take the lock, so a full queue drains without
// deadlocking the sender.
func (s *Service) enqueueRoomTask(roomID string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	q, ok := s.roomQueues[roomID]
	if !ok {
		q = make(chan func(), roomQueueDepth)
		s.roomQueues[roomID] = q
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for task := range q {
				task()
			}
		}()
	}

	q <- fn
}
