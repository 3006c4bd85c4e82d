package log

const (
	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldClientID  = "client_id"
	FieldEventType = "event_type"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
