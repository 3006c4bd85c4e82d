// Package handler exposes the websocket endpoint and the message history
// API over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MrBlankCoding/ChannelChat/internal/audit"
	"github.com/MrBlankCoding/ChannelChat/internal/config"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
	"github.com/MrBlankCoding/ChannelChat/internal/identity"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
	"github.com/MrBlankCoding/ChannelChat/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const authTimeout = 10 * time.Second

type WSHandler struct {
	registry *hub.Registry
	service  *pipeline.Service
	provider identity.Provider
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(registry *hub.Registry, svc *pipeline.Service, provider identity.Provider, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		registry: registry,
		service:  svc,
		provider: provider,
		wsCfg:    wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{token}", h.HandleWebSocket)
	mux.HandleFunc("GET /ws/{token}/{room_id}", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection, verifies the bearer credential
// and registers the connection with the room (or the unassigned partition
// when no room is given).
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	roomID := r.PathValue("room_id")
	l := log.L()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), authTimeout)
	ident, err := h.provider.Verify(ctx, token)
	cancel()
	if err != nil {
		l.Warn().Err(err).Msg("websocket auth failed")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	session := hub.NewSession(ident.UserID, ident.Username, roomID)
	client := hub.NewClient(uuid.New().String(), conn, session, h.wsCfg)

	// Events from this connection carry its identity in every log entry.
	connLogger := l.With().
		Str(log.FieldClientID, client.ID).
		Str(log.FieldUserID, ident.UserID).
		Str(log.FieldUsername, ident.Username).
		Logger()
	connCtx := log.WithLogger(context.Background(), connLogger)

	h.registry.Connect(client, ident.UserID, roomID)
	audit.Log(connCtx, audit.ActionConnect, ident.UserID, roomID, "connection opened")

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, data []byte) {
			h.service.HandleFrame(connCtx, c, data)
		},
		func(c *hub.Client) {
			h.service.HandleDisconnect(connCtx, c)
		},
	)
}
