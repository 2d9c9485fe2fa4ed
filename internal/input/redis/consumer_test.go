package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T) (*Consumer, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewConsumer(Config{
		Addr:         srv.Addr(),
		Key:          "events:normalized",
		BlockTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func push(t *testing.T, srv *miniredis.Miniredis, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = srv.Push("events:normalized", string(data))
	require.NoError(t, err)
}

func TestNewConsumerRequiresKey(t *testing.T) {
	_, err := NewConsumer(Config{Addr: "127.0.0.1:6379"})
	require.Error(t, err)
}

func TestPopReturnsQueuedMessage(t *testing.T) {
	c, srv := newTestConsumer(t)
	push(t, srv, map[string]interface{}{"event_id": "evt-1"})

	raw, err := c.Pop(context.Background())
	require.NoError(t, err)
	require.Contains(t, string(raw), "evt-1")
}

func TestPopBatchDrainsUpToLimit(t *testing.T) {
	c, srv := newTestConsumer(t)
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		push(t, srv, map[string]interface{}{"event_id": id, "source_id": "sensor-1"})
	}

	batch, err := c.PopBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "evt-1", batch[0]["event_id"])
	require.Equal(t, "evt-2", batch[1]["event_id"])

	batch, err = c.PopBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "evt-3", batch[0]["event_id"])
}

func TestPopBatchSkipsUndecodableMessages(t *testing.T) {
	c, srv := newTestConsumer(t)
	_, err := srv.Push("events:normalized", "not json")
	require.NoError(t, err)
	push(t, srv, map[string]interface{}{"event_id": "evt-1"})

	batch, err := c.PopBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "evt-1", batch[0]["event_id"])
}

func TestPopBatchTimesOutEmpty(t *testing.T) {
	c, _ := newTestConsumer(t)

	batch, err := c.PopBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Nil(t, batch)
}
