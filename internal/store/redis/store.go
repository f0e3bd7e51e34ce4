package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	payloadPrefix = "regime:payload:"
	metaPrefix    = "regime:meta:"
	channelPrefix = "pub:regime:"

	// ChannelPattern matches every regime PubSub channel.
	ChannelPattern = channelPrefix + "*"

	scanBatch = 200
)

// PayloadKey is the key holding the latest payload of a position.
func PayloadKey(regimeKey string) string { return payloadPrefix + regimeKey }

// MetaKey is the key holding the meta of a position.
func MetaKey(regimeKey string) string { return metaPrefix + regimeKey }

// Channel is the PubSub channel payloads of a position are published on.
func Channel(regimeKey string) string { return channelPrefix + regimeKey }

// RegimeKeyFromChannel strips the channel prefix.
func RegimeKeyFromChannel(ch string) string {
	if len(ch) > len(channelPrefix) && ch[:len(channelPrefix)] == channelPrefix {
		return ch[len(channelPrefix):]
	}
	return ch
}

// StoreConfig configures the Redis state store.
type StoreConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Store keeps the latest payload and meta per position and fans payloads
// out over PubSub.
type Store struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a new Redis Store and pings the server.
func New(cfg StoreConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client without pinging.
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// LoadState returns the stored payload and meta JSON. Missing keys yield
// nil slices.
func (s *Store) LoadState(ctx context.Context, regimeKey string) (payload, meta []byte, err error) {
	vals, err := s.client.MGet(ctx, PayloadKey(regimeKey), MetaKey(regimeKey)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis MGET state %s: %w", regimeKey, err)
	}
	return toBytes(vals[0]), toBytes(vals[1]), nil
}

// SaveState writes payload and meta in one MSET.
func (s *Store) SaveState(ctx context.Context, regimeKey string, payload, meta []byte) error {
	err := s.client.MSet(ctx,
		PayloadKey(regimeKey), string(payload),
		MetaKey(regimeKey), string(meta),
	).Err()
	if err != nil {
		return fmt.Errorf("redis MSET state %s: %w", regimeKey, err)
	}
	return nil
}

// Publish sends a payload to the position's PubSub channel.
func (s *Store) Publish(ctx context.Context, regimeKey string, payload []byte) error {
	if err := s.client.Publish(ctx, Channel(regimeKey), string(payload)).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", regimeKey, err)
	}
	return nil
}

// ListLatest returns every stored payload keyed by regime key.
func (s *Store) ListLatest(ctx context.Context) (map[string][]byte, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, payloadPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis SCAN payloads: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET payloads: %w", err)
	}
	for i, k := range keys {
		if b := toBytes(vals[i]); b != nil {
			out[k[len(payloadPrefix):]] = b
		}
	}
	return out, nil
}

// Message is one payload received over PubSub.
type Message struct {
	RegimeKey string
	Payload   []byte
}

// SubscribePayloads forwards published payloads to out until ctx is
// cancelled. Slow consumers drop messages rather than block.
func (s *Store) SubscribePayloads(ctx context.Context, out chan<- Message) error {
	pubsub := s.client.PSubscribe(ctx, ChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m := Message{RegimeKey: RegimeKeyFromChannel(msg.Channel), Payload: []byte(msg.Payload)}
			select {
			case out <- m:
			default:
			}
		}
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func toBytes(v interface{}) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	}
	return nil
}
