// Package gateway streams regime payloads to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	redisstore "uptrend-engine/internal/store/redis"
)

// Subscriber delivers published payloads until ctx is cancelled.
type Subscriber interface {
	SubscribePayloads(ctx context.Context, out chan<- redisstore.Message) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and fans regime payloads out to them.
// It keeps the latest payload per channel for replay on connect and a
// bounded per-channel envelope history for gap backfill.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel envelope history for gap backfill
	history   map[string]*channelHistory
	replayCap int

	Broadcaster *Broadcaster

	// Callbacks
	OnClients func(count int) // called when the client count changes
	OnDrop    func()          // called when a slow client misses an envelope
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a Hub. replayCap is the envelopes kept per channel.
func NewHub(replayCap int) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		history:     make(map[string]*channelHistory),
		replayCap:   replayCap,
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Prime seeds the latest-payload map, keyed by regime key, without
// broadcasting. Used at startup so new clients get state before the
// first sweep.
func (h *Hub) Prime(latest map[string][]byte) {
	now := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, data := range latest {
		ch := redisstore.Channel(key)
		if _, ok := h.latest[ch]; ok {
			continue
		}
		h.latest[ch] = latestEntry{Data: data, TS: now}
	}
}

// Run forwards payloads from sub to clients. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, sub Subscriber) {
	msgs := make(chan redisstore.Message, 256)
	go func() {
		if err := sub.SubscribePayloads(ctx, msgs); err != nil {
			log.Error().Err(err).Str("component", "gateway").Msg("payload subscription ended")
		}
	}()

	log.Info().Str("component", "gateway").Str("pattern", redisstore.ChannelPattern).Msg("subscribed to regime payloads")
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgs:
			h.Broadcaster.Broadcast(redisstore.Channel(m.RegimeKey), m.Payload)
		}
	}
}

// ServeWS upgrades the request and registers the client. Optional "key"
// query parameters restrict the stream to those regime keys; "last_ts"
// (RFC3339Nano) skips replaying entries not newer than it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "gateway").Msg("ws upgrade failed")
		return
	}

	q := r.URL.Query()
	client := newClient(h, conn, q["key"])
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(count)

	log.Info().Str("component", "gateway").Int("clients", count).Msg("ws client connected")

	client.sendInitialState(q.Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.clientsChanged(count)
}

func (h *Hub) clientsChanged(count int) {
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns kept envelopes for a channel with channel_seq in
// [fromSeq, toSeq]. complete is false when older envelopes of the range
// were evicted and the client should refetch full state.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) (envelopes [][]byte, complete bool) {
	h.mu.RLock()
	hist, exists := h.history[channel]
	h.mu.RUnlock()
	if !exists {
		return nil, false
	}
	return hist.between(fromSeq, toSeq)
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
