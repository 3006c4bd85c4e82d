package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/identity"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
	"github.com/MrBlankCoding/ChannelChat/internal/pipeline"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

type HistoryHandler struct {
	service  *pipeline.Service
	provider identity.Provider
}

func NewHistoryHandler(svc *pipeline.Service, provider identity.Provider) *HistoryHandler {
	return &HistoryHandler{service: svc, provider: provider}
}

func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms/{room_id}/messages", h.GetMessages)
}

type historyMessage struct {
	ID        string              `json:"id"`
	Content   string              `json:"content"`
	Username  string              `json:"username"`
	Timestamp time.Time           `json:"timestamp"`
	RoomID    string              `json:"room_id"`
	Kind      string              `json:"message_type"`
	ReplyTo   *domain.ReplyRef    `json:"reply_to,omitempty"`
	Reactions map[string][]string `json:"reactions"`
	Edited    bool                `json:"edited"`
	EditedAt  *time.Time          `json:"edited_at,omitempty"`
	ReadBy    []string            `json:"read_by"`
}

type historyResponse struct {
	Messages   []historyMessage `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// GetMessages serves a page of room history, newest first. Stored records
// are decrypted and decompressed before leaving the server; the cursor is an
// opaque base64 (timestamp, id) position so boundary-timestamp ties page
// without skips.
func (h *HistoryHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if _, err := h.provider.Verify(r.Context(), token); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	roomID := r.PathValue("room_id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}

	var (
		before   time.Time
		beforeID string
	)
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		decoded, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		ts, id, ok := strings.Cut(string(decoded), "|")
		if !ok || id == "" {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		before, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		beforeID = id
	}

	// Fetch one extra to detect whether another page exists.
	messages, err := h.service.FetchHistory(r.Context(), roomID, before, beforeID, limit+1)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to fetch history")
		http.Error(w, "failed to fetch messages", http.StatusInternalServerError)
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	resp := historyResponse{Messages: make([]historyMessage, 0, len(messages))}
	for _, msg := range messages {
		reactions := msg.Reactions
		if reactions == nil {
			reactions = map[string][]string{}
		}
		resp.Messages = append(resp.Messages, historyMessage{
			ID:        msg.ID,
			Content:   msg.Content,
			Username:  msg.Username,
			Timestamp: msg.Timestamp,
			RoomID:    msg.RoomID,
			Kind:      msg.Kind,
			ReplyTo:   msg.ReplyTo,
			Reactions: reactions,
			Edited:    msg.Edited,
			EditedAt:  msg.EditedAt,
			ReadBy:    msg.ReadBy,
		})
	}
	if hasMore && len(messages) > 0 {
		last := messages[len(messages)-1]
		position := last.Timestamp.Format(time.RFC3339Nano) + "|" + last.ID
		resp.NextCursor = base64.StdEncoding.EncodeToString([]byte(position))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
