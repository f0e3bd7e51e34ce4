package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	redisstore "uptrend-engine/internal/store/redis"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed regime keys; empty means everything.
	subMu sync.RWMutex
	keys  map[string]bool
}

// controlMsg is a client → server message.
type controlMsg struct {
	Type string   `json:"type"` // SUBSCRIBE | UNSUBSCRIBE
	Keys []string `json:"keys"`
	Ping int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, keys []string) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		keys: make(map[string]bool),
	}
	for _, k := range keys {
		c.keys[k] = true
	}
	return c
}

// sendInitialState queues the latest payload of every matching channel.
func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if !c.matchesChannel(channel) {
			continue
		}
		envelope := buildEnvelope(channel, entry.Data, entry.TS, c.hub.seq, entry.Seq, true)
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Info().Str("component", "gateway").Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subMu.Lock()
			for _, k := range msg.Keys {
				c.keys[k] = true
			}
			c.subMu.Unlock()
		case "UNSUBSCRIBE":
			c.subMu.Lock()
			for _, k := range msg.Keys {
				delete(c.keys, k)
			}
			c.subMu.Unlock()
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// matchesChannel reports whether the client wants payloads of channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.keys) == 0 {
		return true
	}
	return c.keys[redisstore.RegimeKeyFromChannel(channel)]
}
