package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) (*RedisSource, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSource(&Data{redisClient: rdb}, log.DefaultLogger), mr, rdb
}

func queueItem(t *testing.T, rdb *redis.Client, item *model.InboundItem) {
	t.Helper()
	payload, err := json.Marshal(item)
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(context.Background(), sourceQueueKey, payload).Err())
}

func TestRedisSource_Connect(t *testing.T) {
	src, mr, _ := newTestSource(t)
	ctx := context.Background()

	assert.NoError(t, src.Connect(ctx))

	mr.Close()
	assert.Error(t, src.Connect(ctx))
}

func TestRedisSource_Connect_NilClient(t *testing.T) {
	src := NewRedisSource(&Data{}, log.DefaultLogger)
	assert.Error(t, src.Connect(context.Background()))
}

func TestRedisSource_FetchBatch(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	for i, id := range []string{"msg-1", "msg-2", "msg-3"} {
		queueItem(t, rdb, &model.InboundItem{
			ID:        uint64(i + 1),
			MessageID: id,
			Payload:   "need brake pads",
		})
	}

	items, err := src.FetchBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2, "fetch is capped at the requested batch size")
	assert.Equal(t, "msg-1", items[0].MessageID)
	assert.Equal(t, "msg-2", items[1].MessageID)
	assert.False(t, items[0].ReceivedAt.IsZero(), "missing timestamps are filled in")

	// The remaining item is still queued.
	items, err = src.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "msg-3", items[0].MessageID)
}

func TestRedisSource_FetchBatch_EmptyQueue(t *testing.T) {
	src, _, _ := newTestSource(t)

	items, err := src.FetchBatch(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisSource_FetchLatest(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	queueItem(t, rdb, &model.InboundItem{MessageID: "msg-1", Payload: "p"})
	queueItem(t, rdb, &model.InboundItem{MessageID: "msg-2", Payload: "p"})

	items, err := src.FetchLatest(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRedisSource_Fetch_SkipsUndecodableEntries(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, rdb.RPush(ctx, sourceQueueKey, "not json at all").Err())
	queueItem(t, rdb, &model.InboundItem{MessageID: "msg-ok", Payload: "p"})

	items, err := src.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1, "undecodable entries are dropped, not fatal")
	assert.Equal(t, "msg-ok", items[0].MessageID)
}

func TestRedisSource_Fetch_NonPositiveCount(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	queueItem(t, rdb, &model.InboundItem{MessageID: "msg-1", Payload: "p"})

	items, err := src.FetchBatch(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisSource_SubscribeReceivesCounts(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = src.Disconnect() }()

	require.NoError(t, rdb.Publish(ctx, sourceNotifyChannel, "5").Err())

	select {
	case n := <-ch:
		assert.Equal(t, 5, n)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestRedisSource_SubscribeIgnoresMalformedPayloads(t *testing.T) {
	src, _, rdb := newTestSource(t)
	ctx := context.Background()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = src.Disconnect() }()

	require.NoError(t, rdb.Publish(ctx, sourceNotifyChannel, "not-a-number").Err())
	require.NoError(t, rdb.Publish(ctx, sourceNotifyChannel, "-2").Err())
	require.NoError(t, rdb.Publish(ctx, sourceNotifyChannel, "3").Err())

	select {
	case n := <-ch:
		assert.Equal(t, 3, n, "only the well-formed positive count comes through")
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestRedisSource_DoubleSubscribeRejected(t *testing.T) {
	src, _, _ := newTestSource(t)
	ctx := context.Background()

	_, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = src.Disconnect() }()

	_, err = src.Subscribe(ctx)
	assert.Error(t, err)
}

func TestRedisSource_DisconnectClosesChannel(t *testing.T) {
	src, _, _ := newTestSource(t)
	ctx := context.Background()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, src.Disconnect())

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "notification channel closes on disconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after disconnect")
	}

	// Disconnect when not subscribed is a no-op.
	assert.NoError(t, src.Disconnect())

	// A fresh subscription works after disconnecting.
	_, err = src.Subscribe(ctx)
	assert.NoError(t, err)
	_ = src.Disconnect()
}
