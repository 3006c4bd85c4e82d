package domain

import "time"

// Message kinds.
const (
	KindText  = "text"
	KindImage = "image"
)

// ReplyRef points at the message being replied to. Content is stored in the
// same form as message content: encrypted when a nonce is present.
type ReplyRef struct {
	MessageID string `bson:"message_id" json:"message_id"`
	Content   string `bson:"content" json:"content"`
	Nonce     string `bson:"nonce,omitempty" json:"nonce,omitempty"`
	KeyEpoch  int64  `bson:"key_epoch,omitempty" json:"key_epoch,omitempty"`
	Username  string `bson:"username" json:"username"`
}

// Message is the stored form of a chat message. The pipeline is the sole
// writer of Content, Nonce, KeyEpoch and the Encrypted/Compressed flags;
// broadcast payloads always carry decrypted, decompressed plaintext.
type Message struct {
	ID         string              `bson:"_id,omitempty" json:"id"`
	RoomID     string              `bson:"room_id" json:"room_id"`
	RoomName   string              `bson:"room_name,omitempty" json:"room_name,omitempty"`
	UserID     string              `bson:"user_id" json:"user_id"`
	Username   string              `bson:"username" json:"username"`
	Content    string              `bson:"content" json:"content"`
	Nonce      string              `bson:"nonce,omitempty" json:"nonce,omitempty"`
	KeyEpoch   int64               `bson:"key_epoch,omitempty" json:"key_epoch,omitempty"`
	Kind       string              `bson:"message_type" json:"message_type"`
	Encrypted  bool                `bson:"encrypted" json:"encrypted"`
	Compressed bool                `bson:"compressed" json:"compressed"`
	Timestamp  time.Time           `bson:"timestamp" json:"timestamp"`
	ReplyTo    *ReplyRef           `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Reactions  map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Edited     bool                `bson:"edited,omitempty" json:"edited,omitempty"`
	EditedAt   *time.Time          `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	ReadBy     []string            `bson:"read_by" json:"read_by"`
}

// MessageUpdate carries the mutable fields of an edit. Compressed reflects
// the new content, replacing the stored flag: stale compression state would
// corrupt later decompression.
type MessageUpdate struct {
	Content    string
	Nonce      string
	KeyEpoch   int64
	Compressed bool
	ReplyTo    *ReplyRef
	EditedAt   time.Time
}

// HasReactor reports whether username already reacted with emoji.
func (m *Message) HasReactor(emoji, username string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == username {
			return true
		}
	}
	return false
}
