// Package audit emits structured audit entries for chat actions.
package audit

import (
	"context"

	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

// Audit actions.
const (
	ActionConnect       = "chat.connect"
	ActionDisconnect    = "chat.disconnect"
	ActionSwitchRoom    = "chat.switch_room"
	ActionSendMessage   = "chat.send_message"
	ActionEditMessage   = "chat.edit_message"
	ActionDeleteMessage = "chat.delete_message"
	ActionReaction      = "chat.add_reaction"
	ActionReadReceipt   = "chat.read_receipt"
)

// FieldAction tags the audited operation.
const FieldAction = "action"

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, roomID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}
