package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/corvino/tripsync/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one participant connection. It is attributed to a user when the
// socket is opened and becomes a room handle once its join envelope arrives.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	tripID   string
	userID   string
	username string
	joinedAt time.Time

	// room is only touched by the read pump, through hub.join and hub.leave.
	room *Room
}

// Send queues a raw frame for delivery to this client.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client too slow; drop.
		c.hub.metrics.Dropped("slow_consumer")
	}
}

// readPump reads envelopes from the WebSocket and relays them to the room.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws read error", "trip_id", c.tripID, "user_id", c.userID, "error", err)
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.hub.metrics.Dropped("malformed")
			c.hub.logger.Debug("dropping envelope", "connection_id", c.id, "error", err)
			continue
		}
		if env.TripID != c.tripID || env.UserID != c.userID {
			c.hub.metrics.Dropped("spoofed")
			continue
		}

		switch env.Type {
		case protocol.TypeJoin:
			if c.room != nil {
				c.hub.metrics.Dropped("duplicate_join")
				continue
			}
			c.joinedAt = time.Now().UTC()
			c.hub.join(c, env)
		case protocol.TypeLeave:
			c.hub.leave(c)
		default:
			if c.room == nil {
				c.hub.metrics.Dropped("not_joined")
				continue
			}
			n := c.room.relay(c, data)
			c.hub.metrics.Relayed(env.Type, n)
		}
	}
}

// writePump sends queued frames to the WebSocket and keeps it alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an HTTP connection to WebSocket and starts its pumps.
// The connection is attributed to userID before any envelope is read.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, tripID, userID, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("ws upgrade error", "error", err)
		return
	}
	if username == "" {
		username = userID
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.sendBuffer),
		id:       uuid.NewString(),
		tripID:   tripID,
		userID:   userID,
		username: username,
	}
	hub.logger.Debug("ws connected", "trip_id", tripID, "user_id", userID, "connection_id", client.id)

	go client.writePump()
	go client.readPump()
}
