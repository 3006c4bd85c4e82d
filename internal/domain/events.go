package domain

// WebSocket event types from client.
const (
	EventMessage        = "message"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventEmojiReaction  = "add_emoji_reaction"
	EventReadReceipt    = "read_receipt"
	EventPresenceUpdate = "presence_update"
	EventTypingStatus   = "typing_status"
	EventSwitchRoom     = "switch_room"
)

// WebSocket event types to client.
const (
	EventPresence       = "presence"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventError          = "error"
)

// RawPing is the non-JSON fast-path keepalive frame.
const RawPing = "ping"

// Presence status values.
const (
	StatusActive  = "active"
	StatusOffline = "offline"
)

// Envelope is the common prefix of every inbound JSON frame.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> Server events

type MessageEvent struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	Kind    string    `json:"message_type"`
	ReplyTo *ReplyRef `json:"reply_to,omitempty"`
	TempID  string    `json:"temp_id,omitempty"`
}

type EditMessageEvent struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
}

type DeleteMessageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type EmojiReactionEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ReadReceiptEvent struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
}

type PresenceUpdateEvent struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	LastActive string `json:"last_active,omitempty"`
}

type TypingStatusEvent struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

type SwitchRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Server -> Client events

type MessageOut struct {
	Type      string    `json:"type"`
	Kind      string    `json:"message_type"`
	ID        string    `json:"id"`
	TempID    string    `json:"temp_id,omitempty"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	Timestamp string    `json:"timestamp"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name,omitempty"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
	ReadBy    []string  `json:"read_by"`
}

type MessageEditedOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	EditedAt  string `json:"edited_at"`
}

type MessageDeletedOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type EmojiReactionOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
}

type ReadReceiptOut struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
	ReadBy     string   `json:"read_by"`
	RoomID     string   `json:"room_id"`
}

type TypingStatusOut struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorOut struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func NewErrorOut(code, message string) *ErrorOut {
	return &ErrorOut{
		Type:    EventError,
		Code:    code,
		Message: message,
	}
}
