package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrBlankCoding/ChannelChat/internal/audit"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
	"github.com/MrBlankCoding/ChannelChat/internal/store"
)

const notifyTimeout = 15 * time.Second

// handleNewMessage validates the event on the read loop, then detaches the
// rest of the flow onto the room's FIFO worker.
func (s *Service) handleNewMessage(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.MessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	roomID := c.Session.RoomID()
	if roomID == "" {
		c.SendJSON(domain.NewErrorOut(domain.ErrCodeBadRequest, "Join a room before sending messages"))
		return
	}
	if ev.Content == "" {
		// Missing content is the one validation failure answered explicitly.
		c.SendJSON(domain.NewErrorOut(domain.ErrCodeBadRequest, "Message content is required"))
		return
	}
	if ev.Kind == "" {
		ev.Kind = domain.KindText
	}

	s.enqueueRoomTask(roomID, func() {
		s.processNewMessage(context.Background(), c, ev, roomID)
	})
}

// processNewMessage runs on the room worker: compress → encrypt → persist →
// decrypt-for-echo → broadcast → notify.
func (s *Service) processNewMessage(ctx context.Context, c *hub.Client, ev domain.MessageEvent, roomID string) {
	userID := c.Session.UserID()
	username := c.Session.Username()

	contentToStore := ev.Content
	isCompressed := false
	if ev.Kind == domain.KindText && len(ev.Content) >= s.comp.MinSize() {
		contentToStore, isCompressed = s.comp.Compress(ev.Content)
	}

	var (
		storedContent string
		nonce         string
		epoch         int64
		encrypted     bool
		replyOut      *domain.ReplyRef
	)

	if ev.Kind == domain.KindImage {
		// Image references are stored as-is, unencrypted.
		storedContent = contentToStore
		replyOut = s.resolveReply(ev.ReplyTo, roomID)
	} else {
		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			storedContent, nonce, epoch, err = s.cipher.Encrypt(contentToStore, roomID)
			return err
		})
		if ev.ReplyTo != nil {
			g.Go(func() error {
				replyOut = s.resolveReply(ev.ReplyTo, roomID)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to encrypt message")
			c.SendJSON(domain.NewErrorOut(domain.ErrCodeInternalError, "Failed to process message"))
			return
		}
		encrypted = true
	}

	msg := &domain.Message{
		RoomID:     roomID,
		UserID:     userID,
		Username:   username,
		Content:    storedContent,
		Nonce:      nonce,
		KeyEpoch:   epoch,
		Kind:       ev.Kind,
		Encrypted:  encrypted,
		Compressed: isCompressed,
		Timestamp:  time.Now().UTC(),
		ReplyTo:    ev.ReplyTo,
		ReadBy:     []string{userID},
	}

	id, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to persist message")
		c.SendJSON(domain.NewErrorOut(domain.ErrCodeInternalError, "Failed to send message"))
		return
	}

	// Decrypt the canonical stored copy back to plaintext for the outbound
	// echo; ciphertext never reaches a client.
	outContent := storedContent
	if encrypted {
		outContent, err = s.cipher.Decrypt(storedContent, nonce, roomID, epoch)
		if err != nil {
			s.logger.Error().Err(err).
				Str(log.FieldMessageID, id).
				Str(log.FieldRoomID, roomID).
				Msg("failed to decrypt persisted message for broadcast")
			c.SendJSON(domain.NewErrorOut(domain.ErrCodeInternalError, "Failed to send message"))
			return
		}
		if isCompressed {
			outContent = s.comp.Decompress(outContent, true)
		}
	}

	out := &domain.MessageOut{
		Type:      domain.EventMessage,
		Kind:      ev.Kind,
		ID:        id,
		TempID:    ev.TempID,
		Content:   outContent,
		Username:  username,
		Timestamp: msg.Timestamp.Format(time.RFC3339),
		RoomID:    roomID,
		ReplyTo:   replyOut,
		ReadBy:    msg.ReadBy,
	}

	// Sender included: multi-device clients rely on the echo.
	s.registry.Broadcast(out, roomID, "")
	audit.Log(ctx, audit.ActionSendMessage, userID, roomID, "message sent")

	go s.notifyMembers(roomID, userID, username, outContent, ev.Kind)
}

// notifyMembers pushes to everyone in the room except the sender. Gateway
// failures never affect delivery to connected clients.
func (s *Service) notifyMembers(roomID, senderID, senderName, content, kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	tokens, err := s.store.MemberPushTokens(ctx, roomID, senderID)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load push tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	body := content
	if kind == domain.KindImage {
		body = "Sent an image"
	} else if len(body) > 100 {
		body = body[:100]
	}

	s.gateway.SendToTokens(ctx, tokens, senderName, body, map[string]string{
		"room_id":      roomID,
		"message_type": kind,
	})
}

// resolveReply produces the broadcast form of a reply reference, decrypting
// its content when it carries a nonce.
func (s *Service) resolveReply(ref *domain.ReplyRef, roomID string) *domain.ReplyRef {
	if ref == nil {
		return nil
	}

	content := ref.Content
	if ref.Nonce != "" {
		decrypted, err := s.cipher.Decrypt(ref.Content, ref.Nonce, roomID, ref.KeyEpoch)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldMessageID, ref.MessageID).
				Str(log.FieldRoomID, roomID).
				Msg("failed to process reply content")
			content = "Error processing reply content"
		} else {
			content = decrypted
		}
	}

	return &domain.ReplyRef{
		MessageID: ref.MessageID,
		Content:   content,
		Username:  ref.Username,
	}
}

// handleEditMessage re-encrypts new content; only the original author may
// edit, checked by author identity rather than connection. An intent
// mismatch over an authenticated channel is treated as a no-op.
func (s *Service) handleEditMessage(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.EditMessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.MessageID == "" || ev.Content == "" {
		return
	}

	msg, err := s.store.FindMessage(ctx, ev.MessageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to load message for edit")
		}
		return
	}
	if msg.UserID != c.Session.UserID() {
		return
	}

	roomID := msg.RoomID

	// Edited content goes through the same compress-then-encrypt flow as a
	// new message; the stored compressed flag must track the new content.
	contentToStore := ev.Content
	isCompressed := false
	if msg.Kind == domain.KindText && len(ev.Content) >= s.comp.MinSize() {
		contentToStore, isCompressed = s.comp.Compress(ev.Content)
	}

	encrypted, nonce, epoch, err := s.cipher.Encrypt(contentToStore, roomID)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to encrypt edit")
		return
	}

	upd := domain.MessageUpdate{
		Content:    encrypted,
		Nonce:      nonce,
		KeyEpoch:   epoch,
		Compressed: isCompressed,
		EditedAt:   time.Now().UTC(),
	}

	if ev.ReplyTo != nil && ev.ReplyTo.Content != "" {
		replyCt, replyNonce, replyEpoch, err := s.cipher.Encrypt(ev.ReplyTo.Content, roomID)
		if err != nil {
			s.logger.Error().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to encrypt edited reply")
			return
		}
		upd.ReplyTo = &domain.ReplyRef{
			MessageID: ev.ReplyTo.MessageID,
			Content:   replyCt,
			Nonce:     replyNonce,
			KeyEpoch:  replyEpoch,
			Username:  ev.ReplyTo.Username,
		}
	}

	if err := s.store.UpdateMessage(ctx, ev.MessageID, upd); err != nil {
		s.logger.Error().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to persist edit")
		return
	}

	s.registry.Broadcast(&domain.MessageEditedOut{
		Type:      domain.EventMessageEdited,
		MessageID: ev.MessageID,
		Content:   ev.Content,
		EditedAt:  upd.EditedAt.Format(time.RFC3339),
	}, roomID, "")
	audit.Log(ctx, audit.ActionEditMessage, c.Session.UserID(), roomID, "message edited")
}

// handleDeleteMessage is author-only; the deletion notice carries only the
// id.
func (s *Service) handleDeleteMessage(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.DeleteMessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.MessageID == "" {
		return
	}

	msg, err := s.store.FindMessage(ctx, ev.MessageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to load message for delete")
		}
		return
	}
	if msg.UserID != c.Session.UserID() {
		return
	}

	if err := s.store.DeleteMessage(ctx, ev.MessageID); err != nil {
		s.logger.Error().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to delete message")
		return
	}

	s.registry.Broadcast(&domain.MessageDeletedOut{
		Type:      domain.EventMessageDeleted,
		MessageID: ev.MessageID,
	}, msg.RoomID, "")
	audit.Log(ctx, audit.ActionDeleteMessage, c.Session.UserID(), msg.RoomID, "message deleted")
}

// handleEmojiReaction appends the reactor to the per-emoji set; adding twice
// is a no-op at the store.
func (s *Service) handleEmojiReaction(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.EmojiReactionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.MessageID == "" || ev.Emoji == "" {
		return
	}

	username := c.Session.Username()
	roomID := c.Session.RoomID()

	if err := s.store.AddReaction(ctx, ev.MessageID, ev.Emoji, username); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldMessageID, ev.MessageID).Msg("failed to add reaction")
		return
	}

	s.registry.Broadcast(&domain.EmojiReactionOut{
		Type:      domain.EventEmojiReaction,
		MessageID: ev.MessageID,
		Emoji:     ev.Emoji,
		Username:  username,
	}, roomID, "")
	audit.Log(ctx, audit.ActionReaction, c.Session.UserID(), roomID, "reaction added")
}

// handleReadReceipt batches the ids into a single bulk update and only
// broadcasts if at least one document actually changed, avoiding echo storms
// from repeated no-op receipts.
func (s *Service) handleReadReceipt(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.ReadReceiptEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if len(ev.MessageIDs) == 0 {
		return
	}

	userID := c.Session.UserID()
	roomID := c.Session.RoomID()

	modified, err := s.store.MarkRead(ctx, roomID, userID, ev.MessageIDs)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to mark messages read")
		return
	}
	if modified == 0 {
		return
	}

	s.registry.Broadcast(&domain.ReadReceiptOut{
		Type:       domain.EventReadReceipt,
		MessageIDs: ev.MessageIDs,
		ReadBy:     userID,
		RoomID:     roomID,
	}, roomID, "")
	audit.Log(ctx, audit.ActionReadReceipt, userID, roomID, "messages marked read")
}

func (s *Service) handlePresenceUpdate(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.PresenceUpdateEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Status == "" {
		return
	}

	lastActive := time.Now()
	if ev.Timestamp > 0 {
		lastActive = time.UnixMilli(ev.Timestamp)
	} else if ev.LastActive != "" {
		if parsed, err := time.Parse(time.RFC3339, ev.LastActive); err == nil {
			lastActive = parsed
		}
	}

	s.registry.UpdatePresence(c.Session.UserID(), c.Session.RoomID(), ev.Status, lastActive)
}

func (s *Service) handleTypingStatus(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.TypingStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	// Room-less connections share the unassigned partition; typing must not
	// leak across it.
	roomID := c.Session.RoomID()
	if roomID == "" {
		return
	}

	s.registry.Broadcast(&domain.TypingStatusOut{
		Type:     domain.EventTypingStatus,
		Username: c.Session.Username(),
		IsTyping: ev.IsTyping,
	}, roomID, "")
}

func (s *Service) handleSwitchRoom(ctx context.Context, c *hub.Client, raw []byte) {
	var ev domain.SwitchRoomEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.RoomID == "" {
		return
	}

	userID := c.Session.UserID()
	s.registry.SwitchRoom(c, userID, ev.RoomID)
	audit.Log(ctx, audit.ActionSwitchRoom, userID, ev.RoomID, "switched room")
}
