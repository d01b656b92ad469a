// Package dispatch fans a submitted document out into per-(page, format)
// work units. Ledger rows are written before their queue messages so a
// unit popped by a worker always has a row to settle against.
package dispatch

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/bus"
    "github.com/local/ocrworker/internal/ledger"
    "github.com/local/ocrworker/internal/task"
)

// SubmitRequest describes one incoming document job. PageImageKeys may be
// pre-populated when the upload backend already rasterized the file;
// otherwise the dispatcher extracts pages from SourceFileKey itself.
type SubmitRequest struct {
    UserID        string
    FileID        string
    SourceFileKey string
    Formats       []task.Format
    Options       task.FormatOptions
    PageImageKeys []string
}

// Dispatcher creates tasks and enqueues their units.
type Dispatcher struct {
    store     ledger.Store
    bus       *bus.Bus
    extractor *Extractor
    newID     func() string
}

func New(store ledger.Store, b *bus.Bus, extractor *Extractor) *Dispatcher {
    return &Dispatcher{store: store, bus: b, extractor: extractor, newID: uuid.NewString}
}

// Submit registers a task and enqueues one unit per (page, format).
// Pages run ascending within each format so downstream consumers see
// early pages first.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
    if req.UserID == "" { return nil, fmt.Errorf("submit: missing user id") }
    if len(req.Formats) == 0 { return nil, fmt.Errorf("submit: no formats requested") }
    for _, f := range req.Formats {
        if _, err := task.ParseFormat(string(f)); err != nil { return nil, err }
        if f.Derived() { return nil, fmt.Errorf("submit: format %q cannot be requested directly", f) }
    }

    pageKeys := req.PageImageKeys
    if len(pageKeys) == 0 {
        if d.extractor == nil {
            return nil, fmt.Errorf("submit: no page images and no extractor configured")
        }
        fileID := req.FileID
        if fileID == "" { fileID = d.newID() }
        var err error
        pageKeys, err = d.extractor.Extract(ctx, req.UserID, fileID, req.SourceFileKey)
        if err != nil { return nil, err }
    }

    t := &task.Task{
        ID:               d.newID(),
        UserID:           req.UserID,
        SourceFileKey:    req.SourceFileKey,
        RequestedFormats: req.Formats,
        Options:          req.Options,
        TotalPages:       len(pageKeys),
        Status:           task.StatusPending,
    }
    if err := d.store.CreateTask(ctx, t); err != nil {
        return nil, fmt.Errorf("create task: %w", err)
    }

    if err := d.enqueueUnits(ctx, t, pageKeys); err != nil {
        return nil, err
    }

    formats := make([]string, len(req.Formats))
    for i, f := range req.Formats { formats[i] = string(f) }
    meta := map[string]any{
        "status":      string(task.StatusPending),
        "user_id":     req.UserID,
        "total_pages": len(pageKeys),
        "formats":     strings.Join(formats, ","),
        "created_at":  time.Now().UTC().Format(time.RFC3339),
    }
    if err := d.bus.SetTaskMeta(ctx, t.ID, meta); err != nil {
        log.Warn().Err(err).Str("task_id", t.ID).Msg("seed task metadata failed")
    }
    if err := d.bus.PublishUpdate(ctx, task.StatusUpdate{
        TaskID: t.ID, UserID: req.UserID, Status: task.StatusPending,
        Message: fmt.Sprintf("queued %d pages in %d formats", len(pageKeys), len(req.Formats)),
    }); err != nil {
        log.Warn().Err(err).Str("task_id", t.ID).Msg("publish queued update failed")
    }

    log.Info().Str("task_id", t.ID).Str("user_id", req.UserID).
        Int("pages", len(pageKeys)).Strs("formats", formats).Msg("task dispatched")
    return t, nil
}

// enqueueUnits writes the pending rows and pushes their queue messages.
// Rows already terminal are skipped, which makes redispatch idempotent.
func (d *Dispatcher) enqueueUnits(ctx context.Context, t *task.Task, pageKeys []string) error {
    for _, format := range t.RequestedFormats {
        for page := 1; page <= len(pageKeys); page++ {
            if u, err := d.store.GetUnit(ctx, t.ID, page, format); err == nil && u.Status.Terminal() {
                continue
            }
            unit := &task.PageUnit{
                TaskID:       t.ID,
                PageNumber:   page,
                Format:       format,
                TotalPages:   len(pageKeys),
                Status:       task.StatusPending,
                PageImageKey: pageKeys[page-1],
            }
            if err := d.store.UpsertUnit(ctx, unit); err != nil {
                return fmt.Errorf("create unit row page %d %s: %w", page, format, err)
            }
            msg := task.QueueMessage{
                TaskID:             t.ID,
                UserID:             t.UserID,
                PageNumber:         page,
                TotalPages:         len(pageKeys),
                FormatType:         format,
                PageImageKey:       pageKeys[page-1],
                SelectedKVPs:       t.Options.SelectedKVPs,
                AnonStrategy:       t.Options.AnonStrategy,
                AnonGenerateAudit:  t.Options.AnonGenerateAudit,
                AnonSelectedFields: t.Options.AnonSelectedFields,
            }
            payload, err := msg.Encode()
            if err != nil { return fmt.Errorf("encode unit message: %w", err) }
            if err := d.bus.Enqueue(ctx, payload); err != nil {
                return fmt.Errorf("enqueue unit page %d %s: %w", page, format, err)
            }
        }
    }
    return nil
}

// Redispatch re-enqueues every non-terminal unit of an existing task,
// used after a worker crash or queue loss. Settled units stay settled.
func (d *Dispatcher) Redispatch(ctx context.Context, taskID string) (int, error) {
    t, err := d.store.GetTask(ctx, taskID)
    if err != nil { return 0, err }
    units, err := d.store.ListUnits(ctx, taskID)
    if err != nil { return 0, err }

    requeued := 0
    for _, u := range units {
        if u.Status.Terminal() || u.Format.Derived() { continue }
        msg := task.QueueMessage{
            TaskID:             t.ID,
            UserID:             t.UserID,
            PageNumber:         u.PageNumber,
            TotalPages:         u.TotalPages,
            FormatType:         u.Format,
            PageImageKey:       u.PageImageKey,
            SelectedKVPs:       t.Options.SelectedKVPs,
            AnonStrategy:       t.Options.AnonStrategy,
            AnonGenerateAudit:  t.Options.AnonGenerateAudit,
            AnonSelectedFields: t.Options.AnonSelectedFields,
        }
        payload, err := msg.Encode()
        if err != nil { return requeued, err }
        if err := d.bus.Enqueue(ctx, payload); err != nil { return requeued, err }
        requeued++
    }
    log.Info().Str("task_id", taskID).Int("requeued", requeued).Msg("task redispatched")
    return requeued, nil
}
