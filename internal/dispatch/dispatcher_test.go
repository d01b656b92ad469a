package dispatch

import (
    "context"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    redis "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/ocrworker/internal/bus"
    "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/ledger"
    "github.com/local/ocrworker/internal/task"
)

func testBus(t *testing.T) *bus.Bus {
    t.Helper()
    mr, err := miniredis.Run()
    require.NoError(t, err)
    t.Cleanup(mr.Close)

    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = client.Close() })

    return bus.NewWithClient(client, config.RedisConfig{
        QueueKey:         "ocr:task:queue",
        TaskDataPrefix:   "ocr:task:data:",
        UpdatesChannel:   "ocr:task:updates",
        NotifyChannel:    "ocr:notifications",
        UserNotifyPrefix: "ocr:notifications:user:",
        MetadataTTL:      24 * time.Hour,
    })
}

func testDispatcher(t *testing.T) (*Dispatcher, *ledger.Memory, *bus.Bus) {
    t.Helper()
    store := ledger.NewMemory()
    b := testBus(t)
    d := New(store, b, nil)
    d.newID = func() string { return "task-1" }
    return d, store, b
}

func popMessage(t *testing.T, b *bus.Bus) task.QueueMessage {
    t.Helper()
    payload, err := b.Dequeue(context.Background(), time.Second)
    require.NoError(t, err)
    require.NotNil(t, payload)
    msg, err := task.DecodeMessage(payload)
    require.NoError(t, err)
    return msg
}

func TestSubmitFansOutUnits(t *testing.T) {
    ctx := context.Background()
    d, store, b := testDispatcher(t)

    created, err := d.Submit(ctx, SubmitRequest{
        UserID:        "user-1",
        SourceFileKey: "uploads/user-1/2026-08/f1/doc.pdf",
        Formats:       []task.Format{task.FormatHTML, task.FormatJSON},
        PageImageKeys: []string{"pages/p1.jpg", "pages/p2.jpg"},
    })
    require.NoError(t, err)
    assert.Equal(t, "task-1", created.ID)
    assert.Equal(t, 2, created.TotalPages)
    assert.Equal(t, task.StatusPending, created.Status)

    // one pending row per (page, format)
    for _, format := range []task.Format{task.FormatHTML, task.FormatJSON} {
        for page := 1; page <= 2; page++ {
            u, err := store.GetUnit(ctx, "task-1", page, format)
            require.NoError(t, err)
            assert.Equal(t, task.StatusPending, u.Status)
            assert.Equal(t, "pages/p"+string(rune('0'+page))+".jpg", u.PageImageKey)
        }
    }

    // queue order: pages ascending within each format
    want := []struct {
        page   int
        format task.Format
    }{
        {1, task.FormatHTML}, {2, task.FormatHTML},
        {1, task.FormatJSON}, {2, task.FormatJSON},
    }
    for _, w := range want {
        msg := popMessage(t, b)
        assert.Equal(t, w.page, msg.PageNumber)
        assert.Equal(t, w.format, msg.FormatType)
        assert.Equal(t, "task-1", msg.TaskID)
        assert.Equal(t, "user-1", msg.UserID)
        assert.Equal(t, 2, msg.TotalPages)
    }

    meta, err := b.GetTaskMeta(ctx, "task-1")
    require.NoError(t, err)
    assert.Equal(t, "pending", meta["status"])
    assert.Equal(t, "2", meta["total_pages"])
    assert.Equal(t, "html,json", meta["formats"])
}

func TestSubmitCarriesFormatOptions(t *testing.T) {
    ctx := context.Background()
    d, _, b := testDispatcher(t)

    _, err := d.Submit(ctx, SubmitRequest{
        UserID:        "user-1",
        Formats:       []task.Format{task.FormatAnon},
        PageImageKeys: []string{"pages/p1.jpg"},
        Options: task.FormatOptions{
            AnonStrategy:      task.AnonMask,
            AnonGenerateAudit: true,
        },
    })
    require.NoError(t, err)

    msg := popMessage(t, b)
    assert.Equal(t, task.AnonMask, msg.AnonStrategy)
    assert.True(t, msg.AnonGenerateAudit)
}

func TestSubmitValidation(t *testing.T) {
    ctx := context.Background()
    d, _, _ := testDispatcher(t)

    _, err := d.Submit(ctx, SubmitRequest{Formats: []task.Format{task.FormatHTML}, PageImageKeys: []string{"p1"}})
    assert.ErrorContains(t, err, "missing user id")

    _, err = d.Submit(ctx, SubmitRequest{UserID: "u", PageImageKeys: []string{"p1"}})
    assert.ErrorContains(t, err, "no formats")

    _, err = d.Submit(ctx, SubmitRequest{UserID: "u", Formats: []task.Format{task.FormatTXT}, PageImageKeys: []string{"p1"}})
    assert.ErrorContains(t, err, "cannot be requested directly")

    _, err = d.Submit(ctx, SubmitRequest{UserID: "u", Formats: []task.Format{"xml"}, PageImageKeys: []string{"p1"}})
    assert.ErrorContains(t, err, "unknown format")

    // no page images and no extractor wired
    _, err = d.Submit(ctx, SubmitRequest{UserID: "u", Formats: []task.Format{task.FormatHTML}, SourceFileKey: "doc.pdf"})
    assert.ErrorContains(t, err, "no extractor")
}

func TestRedispatch(t *testing.T) {
    ctx := context.Background()
    d, store, b := testDispatcher(t)

    _, err := d.Submit(ctx, SubmitRequest{
        UserID:        "user-1",
        Formats:       []task.Format{task.FormatHTML, task.FormatJSON},
        PageImageKeys: []string{"pages/p1.jpg", "pages/p2.jpg"},
    })
    require.NoError(t, err)

    // drain the original enqueue
    for i := 0; i < 4; i++ {
        popMessage(t, b)
    }

    // settle html page 1; add a derived txt row a worker would have written
    require.NoError(t, store.UpsertUnit(ctx, &task.PageUnit{
        TaskID: "task-1", PageNumber: 1, Format: task.FormatHTML,
        TotalPages: 2, Status: task.StatusCompleted, PageImageKey: "pages/p1.jpg",
    }))
    require.NoError(t, store.UpsertUnit(ctx, &task.PageUnit{
        TaskID: "task-1", PageNumber: 1, Format: task.FormatTXT,
        TotalPages: 2, Status: task.StatusCompleted, PageImageKey: "pages/p1.jpg",
    }))

    requeued, err := d.Redispatch(ctx, "task-1")
    require.NoError(t, err)
    assert.Equal(t, 3, requeued, "settled and derived units stay put")

    seen := map[string]bool{}
    for i := 0; i < 3; i++ {
        msg := popMessage(t, b)
        seen[string(msg.FormatType)+"-"+string(rune('0'+msg.PageNumber))] = true
    }
    assert.True(t, seen["html-2"])
    assert.True(t, seen["json-1"])
    assert.True(t, seen["json-2"])

    depth, err := b.QueueDepth(ctx)
    require.NoError(t, err)
    assert.Zero(t, depth)
}

func TestRedispatchUnknownTask(t *testing.T) {
    d, _, _ := testDispatcher(t)
    _, err := d.Redispatch(context.Background(), "nope")
    assert.ErrorIs(t, err, ledger.ErrNotFound)
}
