// Package store persists chat documents. The document store is the durable
// source of truth; the realtime core only references it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrBlankCoding/ChannelChat/internal/domain"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the document-store boundary used by the message pipeline.
// Implementations do not enforce unique-key semantics; idempotent upserts
// for reactions and read receipts are expressed through $addToSet-style
// operations here.
type Store interface {
	// InsertMessage persists a message and returns its id. Implementations
	// use a low-durability write tier to favor latency for chat traffic.
	InsertMessage(ctx context.Context, msg *domain.Message) (string, error)

	FindMessage(ctx context.Context, id string) (*domain.Message, error)

	// UpdateMessage applies an edit to an existing message.
	UpdateMessage(ctx context.Context, id string, upd domain.MessageUpdate) error

	DeleteMessage(ctx context.Context, id string) error

	// AddReaction adds username under the emoji's reactor set. Adding the
	// same reactor twice is a no-op.
	AddReaction(ctx context.Context, id, emoji, username string) error

	// MarkRead bulk-adds userID to the read-by set of the given messages in
	// the room, skipping invalid ids, and returns how many documents were
	// actually modified.
	MarkRead(ctx context.Context, roomID, userID string, messageIDs []string) (int64, error)

	// RecentMessages returns up to limit messages for a room, newest first.
	// When before is non-zero it returns messages strictly older than the
	// (before, beforeID) position, with beforeID breaking timestamp ties so
	// paging never skips messages sharing a boundary timestamp.
	RecentMessages(ctx context.Context, roomID string, before time.Time, beforeID string, limit int) ([]*domain.Message, error)

	// MemberPushTokens returns the push tokens of the room's members,
	// excluding excludeUserID.
	MemberPushTokens(ctx context.Context, roomID, excludeUserID string) ([]string, error)

	Close(ctx context.Context) error
}
