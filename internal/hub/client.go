package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrBlankCoding/ChannelChat/internal/config"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

// Client owns one live websocket connection. The registry entry tracking it
// is its exclusive owner; a client belongs to exactly one (room, user) pair
// at a time, or the unassigned partition before room selection.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Session *Session

	cfg  config.WebSocketConfig
	done chan struct{}
}

func NewClient(id string, conn *websocket.Conn, session *Session, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, buffer),
		Session: session,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// ReadPump reads frames from the socket and hands them to handler. onClose
// runs exactly once when the loop exits, on the owning connection's exit
// path.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		close(c.done)
		c.Conn.Close()
		onClose(c)
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with protocol-level pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Enqueue offers data to the send queue without blocking. It reports false
// when the connection is gone or its buffer is full; a stalled socket must
// not hold up delivery to the rest of a room.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// SendJSON marshals v and enqueues it.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Enqueue(data)
	return nil
}
