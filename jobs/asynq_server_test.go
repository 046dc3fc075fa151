package jobs

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Client, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return NewClient(conn), asynq.NewInspectorFromRedisClient(conn)
}

func TestEnqueueReconcileLandsOnReconcileQueue(t *testing.T) {
	client, inspector := newTestQueue(t)

	body := []byte(`{"id":"entry-1"}`)
	require.NoError(t, client.EnqueueReconcile(context.Background(), "stopped", body))

	pending, err := inspector.ListPendingTasks(QueueReconcile)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, TaskTimesheetReconcile, pending[0].Type)

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "stopped", payload.Event)
	require.Equal(t, json.RawMessage(body), payload.Body)
}

func TestEnqueueReconcileQueuesEveryDelivery(t *testing.T) {
	client, inspector := newTestQueue(t)

	require.NoError(t, client.EnqueueReconcile(context.Background(), "updated", []byte(`{"id":"a"}`)))
	require.NoError(t, client.EnqueueReconcile(context.Background(), "stopped", []byte(`{"id":"a"}`)))

	pending, err := inspector.ListPendingTasks(QueueReconcile)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	events := make(map[string]bool)
	for _, task := range pending {
		var payload ReconcilePayload
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		events[payload.Event] = true
	}
	require.True(t, events["updated"] && events["stopped"])
}
