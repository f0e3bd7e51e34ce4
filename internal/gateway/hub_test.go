package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "uptrend-engine/internal/store/redis"
)

type chanSubscriber struct {
	in chan redisstore.Message
}

func (s chanSubscriber) SubscribePayloads(ctx context.Context, out chan<- redisstore.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.in:
			out <- m
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHub_ReplaysLatestOnConnect(t *testing.T) {
	h := NewHub(10)
	h.Prime(map[string][]byte{"3600s:NSE:2885": []byte(`{"state":"S1"}`)})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn := dial(t, srv, "")
	env := readEnvelope(t, conn)
	assert.Equal(t, "pub:regime:3600s:NSE:2885", env.Channel)
	assert.True(t, env.Initial)
	assert.JSONEq(t, `{"state":"S1"}`, string(env.Data))
}

func TestHub_RunForwardsFilteredPayloads(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan redisstore.Message, 4)
	go h.Run(ctx, chanSubscriber{in: in})

	conn := dial(t, srv, "?key=3600s:NSE:2")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	in <- redisstore.Message{RegimeKey: "3600s:NSE:1", Payload: []byte(`{"n":1}`)}
	in <- redisstore.Message{RegimeKey: "3600s:NSE:2", Payload: []byte(`{"n":2}`)}

	env := readEnvelope(t, conn)
	assert.Equal(t, "pub:regime:3600s:NSE:2", env.Channel)
	assert.JSONEq(t, `{"n":2}`, string(env.Data))
	assert.Equal(t, int64(1), env.ChannelSeq)
}
