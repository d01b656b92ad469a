package bus

import (
    "context"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    redis "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/task"
)

func testBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
    t.Helper()
    mr, err := miniredis.Run()
    require.NoError(t, err)
    t.Cleanup(mr.Close)

    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = client.Close() })

    cfg := config.RedisConfig{
        QueueKey:         "ocr:task:queue",
        TaskDataPrefix:   "ocr:task:data:",
        UpdatesChannel:   "ocr:task:updates",
        NotifyChannel:    "ocr:notifications",
        UserNotifyPrefix: "ocr:notifications:user:",
        MetadataTTL:      24 * time.Hour,
    }
    return NewWithClient(client, cfg), mr
}

func TestQueueFIFO(t *testing.T) {
    ctx := context.Background()
    b, _ := testBus(t)

    require.NoError(t, b.Enqueue(ctx, []byte("first")))
    require.NoError(t, b.Enqueue(ctx, []byte("second")))

    depth, err := b.QueueDepth(ctx)
    require.NoError(t, err)
    assert.Equal(t, int64(2), depth)

    got, err := b.Dequeue(ctx, time.Second)
    require.NoError(t, err)
    assert.Equal(t, "first", string(got))

    got, err = b.Dequeue(ctx, time.Second)
    require.NoError(t, err)
    assert.Equal(t, "second", string(got))
}

func TestDequeueEmptyTimesOut(t *testing.T) {
    ctx := context.Background()
    b, _ := testBus(t)

    got, err := b.Dequeue(ctx, time.Second)
    require.NoError(t, err)
    assert.Nil(t, got)
}

func TestTaskMeta(t *testing.T) {
    ctx := context.Background()
    b, mr := testBus(t)

    require.NoError(t, b.SetTaskMeta(ctx, "t1", map[string]any{"status": "pending", "total_pages": 3}))

    meta, err := b.GetTaskMeta(ctx, "t1")
    require.NoError(t, err)
    assert.Equal(t, "pending", meta["status"])
    assert.Equal(t, "3", meta["total_pages"])

    ttl := mr.TTL("ocr:task:data:t1")
    assert.Equal(t, 24*time.Hour, ttl, "metadata expires")

    // merging keeps existing fields and refreshes the expiry
    require.NoError(t, b.SetTaskMeta(ctx, "t1", map[string]any{"status": "processing"}))
    meta, err = b.GetTaskMeta(ctx, "t1")
    require.NoError(t, err)
    assert.Equal(t, "processing", meta["status"])
    assert.Equal(t, "3", meta["total_pages"])

    empty, err := b.GetTaskMeta(ctx, "unknown")
    require.NoError(t, err)
    assert.Empty(t, empty)
}

func TestPublishUpdateFanout(t *testing.T) {
    ctx := context.Background()
    b, _ := testBus(t)

    sub := b.SubscribeUpdates(ctx)
    t.Cleanup(func() { _ = sub.Close() })
    _, err := sub.Receive(ctx)
    require.NoError(t, err)

    progress := 50
    require.NoError(t, b.PublishUpdate(ctx, task.StatusUpdate{
        TaskID: "t1", UserID: "user-1", Status: task.StatusProcessing, Progress: &progress,
    }))

    msg, err := sub.ReceiveMessage(ctx)
    require.NoError(t, err)
    assert.Contains(t, msg.Payload, `"taskId":"t1"`)
    assert.Contains(t, msg.Payload, `"progress":50`)
}

func TestWorkerReadyKeys(t *testing.T) {
    ctx := context.Background()
    b, mr := testBus(t)

    ready, err := b.IsWorkerReady(ctx, "worker-1")
    require.NoError(t, err)
    assert.False(t, ready)

    require.NoError(t, b.SetWorkerReady(ctx, "worker-1", time.Minute))
    ready, err = b.IsWorkerReady(ctx, "worker-1")
    require.NoError(t, err)
    assert.True(t, ready)

    mr.FastForward(2 * time.Minute)
    ready, err = b.IsWorkerReady(ctx, "worker-1")
    require.NoError(t, err)
    assert.False(t, ready, "ready key expires without heartbeats")

    require.NoError(t, b.SetWorkerReady(ctx, "worker-1", time.Minute))
    require.NoError(t, b.ClearWorkerReady(ctx, "worker-1"))
    ready, err = b.IsWorkerReady(ctx, "worker-1")
    require.NoError(t, err)
    assert.False(t, ready)
}

func TestWorkerCensus(t *testing.T) {
    ctx := context.Background()
    b, mr := testBus(t)

    n, err := b.WorkerCensus(ctx)
    require.NoError(t, err)
    assert.Equal(t, 0, n, "absent census reads as zero")

    require.NoError(t, b.SetWorkerCensus(ctx, 3, time.Minute))
    n, err = b.WorkerCensus(ctx)
    require.NoError(t, err)
    assert.Equal(t, 3, n)

    mr.FastForward(2 * time.Minute)
    n, err = b.WorkerCensus(ctx)
    require.NoError(t, err)
    assert.Equal(t, 0, n)
}

func TestTaskStats(t *testing.T) {
    ctx := context.Background()
    b, _ := testBus(t)

    completed, failed, err := b.TaskStats(ctx)
    require.NoError(t, err)
    assert.Zero(t, completed)
    assert.Zero(t, failed)

    require.NoError(t, b.IncTaskCompleted(ctx))
    require.NoError(t, b.IncTaskCompleted(ctx))
    require.NoError(t, b.IncTaskFailed(ctx))

    completed, failed, err = b.TaskStats(ctx)
    require.NoError(t, err)
    assert.Equal(t, int64(2), completed)
    assert.Equal(t, int64(1), failed)
}
