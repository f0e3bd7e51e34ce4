package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "3600s:NSE:2885"

func TestKeys(t *testing.T) {
	assert.Equal(t, "regime:payload:3600s:NSE:2885", PayloadKey(key))
	assert.Equal(t, "regime:meta:3600s:NSE:2885", MetaKey(key))
	assert.Equal(t, "pub:regime:3600s:NSE:2885", Channel(key))
	assert.Equal(t, key, RegimeKeyFromChannel(Channel(key)))
	assert.Equal(t, "other", RegimeKeyFromChannel("other"))
}

func TestStore_LoadState(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db)

	mock.ExpectMGet(PayloadKey(key), MetaKey(key)).SetVal([]interface{}{`{"state":"S3"}`, nil})

	payload, meta, err := s.LoadState(context.Background(), key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"S3"}`, string(payload))
	assert.Nil(t, meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadStateError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db)

	mock.ExpectMGet(PayloadKey(key), MetaKey(key)).SetErr(errors.New("conn refused"))

	_, _, err := s.LoadState(context.Background(), key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn refused")
}

func TestStore_SaveAndPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db)
	ctx := context.Background()

	mock.ExpectMSet(PayloadKey(key), `{"p":1}`, MetaKey(key), `{"m":1}`).SetVal("OK")
	mock.ExpectPublish(Channel(key), `{"p":1}`).SetVal(1)

	require.NoError(t, s.SaveState(ctx, key, []byte(`{"p":1}`), []byte(`{"m":1}`)))
	require.NoError(t, s.Publish(ctx, key, []byte(`{"p":1}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListLatest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db)

	k1, k2 := PayloadKey("3600s:NSE:1"), PayloadKey("3600s:NSE:2")
	mock.ExpectScan(0, "regime:payload:*", scanBatch).SetVal([]string{k1}, 7)
	mock.ExpectScan(7, "regime:payload:*", scanBatch).SetVal([]string{k2}, 0)
	mock.ExpectMGet(k1, k2).SetVal([]interface{}{`{"a":1}`, nil})

	got, err := s.ListLatest(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.JSONEq(t, `{"a":1}`, string(got["3600s:NSE:1"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedStore_BuffersWhileOpenAndFlushesOnClose(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuardedStore(context.Background(), NewWithClient(db), BreakerConfig{
		Failures:    2,
		OpenTimeout: 50 * time.Millisecond,
	})
	flushed := make(chan int, 1)
	g.OnFlush = func(n int) { flushed <- n }
	buffered := 0
	g.OnBuffer = func() { buffered++ }
	ctx := context.Background()

	down := errors.New("redis down")
	mock.ExpectMSet(PayloadKey("a"), "p1", MetaKey("a"), "m1").SetErr(down)
	mock.ExpectMSet(PayloadKey("a"), "p1", MetaKey("a"), "m1").SetErr(down)
	mock.ExpectMSet(PayloadKey("c"), "p3", MetaKey("c"), "m3").SetVal("OK")
	mock.ExpectMSet(PayloadKey("b"), "p2b", MetaKey("b"), "m2b").SetVal("OK")

	assert.Error(t, g.SaveState(ctx, "a", []byte("p1"), []byte("m1")))
	assert.Error(t, g.SaveState(ctx, "a", []byte("p1"), []byte("m1")))
	require.Equal(t, gobreaker.StateOpen, g.State())

	// Latest write per position wins.
	require.NoError(t, g.SaveState(ctx, "b", []byte("p2"), []byte("m2")))
	require.NoError(t, g.SaveState(ctx, "b", []byte("p2b"), []byte("m2b")))
	assert.Equal(t, 1, g.PendingCount())
	assert.Equal(t, 2, buffered)

	payload, meta, err := g.LoadState(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "p2b", string(payload))
	assert.Equal(t, "m2b", string(meta))

	_, _, err = g.LoadState(ctx, "unknown")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	time.Sleep(70 * time.Millisecond)
	require.NoError(t, g.SaveState(ctx, "c", []byte("p3"), []byte("m3")))

	select {
	case n := <-flushed:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("buffered writes were not flushed")
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
	assert.Equal(t, 0, g.PendingCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedStore_LoadServesBufferedWriteAfterOpenWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuardedStore(context.Background(), NewWithClient(db), BreakerConfig{
		Failures:    1,
		OpenTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()

	mock.ExpectMSet(PayloadKey("a"), "p-old", MetaKey("a"), "m-old").SetErr(errors.New("redis down"))
	assert.Error(t, g.SaveState(ctx, "a", []byte("p-old"), []byte("m-old")))
	require.Equal(t, gobreaker.StateOpen, g.State())

	require.NoError(t, g.SaveState(ctx, "a", []byte("p-new"), []byte("m-new")))
	require.Equal(t, 1, g.PendingCount())

	// Past the open timeout the breaker would let a read through to Redis,
	// which still holds the older state.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, g.State())

	payload, meta, err := g.LoadState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "p-new", string(payload))
	assert.Equal(t, "m-new", string(meta))
	assert.Equal(t, 1, g.PendingCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedStore_DirectWriteSupersedesBufferedWrite(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuardedStore(context.Background(), NewWithClient(db), BreakerConfig{
		Failures:    1,
		OpenTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()

	mock.ExpectMSet(PayloadKey("a"), "p1", MetaKey("a"), "m1").SetErr(errors.New("redis down"))
	mock.ExpectMSet(PayloadKey("a"), "p3", MetaKey("a"), "m3").SetVal("OK")
	mock.ExpectMGet(PayloadKey("a"), MetaKey("a")).SetVal([]interface{}{"p3", "m3"})

	assert.Error(t, g.SaveState(ctx, "a", []byte("p1"), []byte("m1")))
	require.NoError(t, g.SaveState(ctx, "a", []byte("p2"), []byte("m2")))
	require.Equal(t, 1, g.PendingCount())

	// The half-open probe is a newer write; closing the breaker must not
	// replay the older buffered one over it.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, g.SaveState(ctx, "a", []byte("p3"), []byte("m3")))
	assert.Equal(t, gobreaker.StateClosed, g.State())
	assert.Equal(t, 0, g.PendingCount())

	time.Sleep(30 * time.Millisecond)
	payload, meta, err := g.LoadState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "p3", string(payload))
	assert.Equal(t, "m3", string(meta))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedStore_FlushKeySkipsSupersededEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuardedStore(context.Background(), NewWithClient(db), BreakerConfig{})
	ctx := context.Background()

	g.buffer("a", pendingState{payload: []byte("p-old"), meta: []byte("m-old"), gen: g.nextGen()})

	// A direct write lands after the flush listed its keys.
	mock.ExpectMSet(PayloadKey("a"), "p-new", MetaKey("a"), "m-new").SetVal("OK")
	require.NoError(t, g.saveDirect(ctx, "a", []byte("p-new"), []byte("m-new"), g.nextGen()))

	ok, err := g.flushKey("a")
	require.NoError(t, err)
	assert.False(t, ok, "older buffered write must not be replayed")
	assert.Equal(t, 0, g.PendingCount())

	// A buffered write newer than the direct one is kept and flushed.
	older := g.nextGen()
	g.buffer("b", pendingState{payload: []byte("p-b2"), meta: []byte("m-b2"), gen: g.nextGen()})
	mock.ExpectMSet(PayloadKey("b"), "p-b1", MetaKey("b"), "m-b1").SetVal("OK")
	require.NoError(t, g.saveDirect(ctx, "b", []byte("p-b1"), []byte("m-b1"), older))
	assert.Equal(t, 1, g.PendingCount())

	mock.ExpectMSet(PayloadKey("b"), "p-b2", MetaKey("b"), "m-b2").SetVal("OK")
	ok, err = g.flushKey("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, g.PendingCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedStore_NonOpenErrorsPassThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuardedStore(context.Background(), NewWithClient(db), BreakerConfig{Failures: 5})

	mock.ExpectMSet(PayloadKey("a"), "p", MetaKey("a"), "m").SetErr(errors.New("boom"))

	err := g.SaveState(context.Background(), "a", []byte("p"), []byte("m"))
	require.Error(t, err)
	assert.Equal(t, 0, g.PendingCount())
	assert.Equal(t, gobreaker.StateClosed, g.State())
}
