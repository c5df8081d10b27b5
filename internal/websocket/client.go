package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection timings. Pings go out before the peer's read deadline lapses.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// Clients only receive progression events, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one websocket connection and its outbound queue
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a control frame sent by the peer
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

// readPump reads control frames until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "client_id", c.id, "error", err)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err, "client_id", c.id)
			c.reply(MessageTypeError, "", map[string]string{"error": "invalid message format"})
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage processes a control frame
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if !ValidTopic(msg.Topic) {
			c.reply(MessageTypeError, msg.Topic, map[string]string{"error": "topic must be leaderboard or user:{id}"})
			return
		}
		c.hub.Subscribe(c, msg.Topic)
		c.reply("subscribed", msg.Topic, map[string]string{"status": "ok"})

	case MessageTypeUnsubscribe:
		if msg.Topic != "" {
			c.hub.Unsubscribe(c, msg.Topic)
			c.reply("unsubscribed", msg.Topic, map[string]string{"status": "ok"})
		}

	case MessageTypePing:
		c.reply(MessageTypePong, "", nil)

	default:
		c.logger.Debug("unknown message type", "type", msg.Type, "client_id", c.id)
	}
}

// writePump drains the send queue onto the connection and keeps it alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// reply queues a direct response, dropping it if the queue is full
func (c *Client) reply(msgType, topic string, data interface{}) {
	msg := Message{
		Type:      msgType,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- encoded:
	default:
	}
}

// ServeWs upgrades the request and starts the client's pumps. Each valid
// ?topic= query value is subscribed before the first frame is read.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, topic := range r.URL.Query()["topic"] {
		if ValidTopic(topic) {
			hub.Subscribe(client, topic)
		}
	}

	go client.writePump()
	go client.readPump()

	logger.Debug("websocket connected", "client_id", client.id, "remote_addr", r.RemoteAddr)
}
