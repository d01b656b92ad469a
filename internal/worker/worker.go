// Package worker runs the per-process unit loop: pop a unit, fetch its
// page image, run the format pipeline, upload artifacts and settle the
// ledger. A worker never exits on a unit failure; the unit row carries
// the error and the task aggregate absorbs it.
package worker

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/bus"
    "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/ledger"
    "github.com/local/ocrworker/internal/metrics"
    "github.com/local/ocrworker/internal/processor"
    "github.com/local/ocrworker/internal/storage"
    "github.com/local/ocrworker/internal/task"
)

// ObjectStore is the slice of the S3 gateway the worker needs.
type ObjectStore interface {
    Download(ctx context.Context, key, path string) error
    Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Pipeline produces artifacts for one unit.
type Pipeline interface {
    Process(ctx context.Context, msg task.QueueMessage, imagePath string) (processor.Result, error)
}

// Worker consumes units from the queue until its context is cancelled.
// In-flight units finish before Run returns.
type Worker struct {
    id      string
    cfg     config.Config
    bus     *bus.Bus
    store   ledger.Store
    objects ObjectStore
    pipe    Pipeline
}

func New(id string, cfg config.Config, b *bus.Bus, st ledger.Store, obj ObjectStore, pipe Pipeline) *Worker {
    return &Worker{id: id, cfg: cfg, bus: b, store: st, objects: obj, pipe: pipe}
}

// Run registers readiness and loops on the queue. Returns when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
    if err := w.bus.SetWorkerReady(ctx, w.id, w.cfg.Worker.ReadyTTL); err != nil {
        return fmt.Errorf("announce ready: %w", err)
    }
    defer func() {
        cleanup, cancel := context.WithTimeout(context.Background(), 3*time.Second)
        defer cancel()
        if err := w.bus.ClearWorkerReady(cleanup, w.id); err != nil {
            log.Warn().Err(err).Str("worker_id", w.id).Msg("clear ready key failed")
        }
    }()

    heartbeat := time.NewTicker(w.cfg.Worker.ReadyTTL / 2)
    defer heartbeat.Stop()

    log.Info().Str("worker_id", w.id).Msg("worker loop started")
    for {
        select {
        case <-ctx.Done():
            log.Info().Str("worker_id", w.id).Msg("worker loop stopping")
            return nil
        case <-heartbeat.C:
            if err := w.bus.SetWorkerReady(ctx, w.id, w.cfg.Worker.ReadyTTL); err != nil {
                log.Warn().Err(err).Str("worker_id", w.id).Msg("ready heartbeat failed")
            }
        default:
        }

        payload, err := w.bus.Dequeue(ctx, w.cfg.Worker.PopTimeout)
        if err != nil {
            if ctx.Err() != nil { return nil }
            log.Error().Err(err).Msg("queue pop failed")
            time.Sleep(time.Second)
            continue
        }
        if payload == nil { continue }

        msg, err := task.DecodeMessage(payload)
        if err != nil {
            log.Error().Err(err).Str("payload", string(payload)).Msg("dropping malformed queue message")
            continue
        }
        // The queue message is already consumed, so a shutdown signal must
        // not abort the unit mid-flight: it runs detached and settles in the
        // ledger before the loop observes ctx.Done(). Generation timeouts
        // still bound it.
        w.handle(context.WithoutCancel(ctx), msg)
    }
}

// handle processes one unit end to end. Failures settle in the ledger;
// the worker itself never propagates them.
func (w *Worker) handle(ctx context.Context, msg task.QueueMessage) {
    taskID := msg.EffectiveTaskID()
    logger := log.With().Str("worker_id", w.id).Str("task_id", taskID).
        Int("page", msg.PageNumber).Str("format", string(msg.FormatType)).Logger()

    // At-least-once delivery: a replayed unit that already settled is a no-op.
    if u, err := w.store.GetUnit(ctx, taskID, msg.PageNumber, msg.FormatType); err == nil && u.Status.Terminal() {
        logger.Info().Str("status", string(u.Status)).Msg("unit already settled, skipping redelivery")
        return
    }

    started := time.Now()
    startedAt := started.UTC()
    unit := &task.PageUnit{
        TaskID:       taskID,
        PageNumber:   msg.PageNumber,
        Format:       msg.FormatType,
        TotalPages:   msg.TotalPages,
        Status:       task.StatusProcessing,
        WorkerID:     w.id,
        PageImageKey: msg.PageImageKey,
        StartedAt:    &startedAt,
    }
    if err := w.store.UpsertUnit(ctx, unit); err != nil {
        logger.Error().Err(err).Msg("mark unit processing failed")
        return
    }
    w.publish(ctx, task.StatusUpdate{
        TaskID: taskID, UserID: msg.UserID, Status: task.StatusProcessing,
        Message: fmt.Sprintf("processing page %d of %d (%s)", msg.PageNumber, msg.TotalPages, msg.FormatType),
    })

    imagePath := filepath.Join(w.cfg.Worker.ScratchDir, w.id,
        fmt.Sprintf("%s_page_%d.jpg", taskID, msg.PageNumber))
    defer os.Remove(imagePath)

    if err := w.objects.Download(ctx, msg.PageImageKey, imagePath); err != nil {
        w.fail(ctx, msg, unit, started, fmt.Errorf("fetch page image: %w", err))
        return
    }

    res, err := w.pipe.Process(ctx, msg, imagePath)
    if err != nil {
        w.fail(ctx, msg, unit, started, err)
        return
    }

    primaryKey, txtKey, err := w.uploadArtifacts(ctx, msg, unit, res)
    if err != nil {
        w.fail(ctx, msg, unit, started, err)
        return
    }

    completedAt := time.Now().UTC()
    unit.Status = task.StatusCompleted
    unit.ErrorMessage = res.SoftError
    unit.ProcessingTimeMS = time.Since(started).Milliseconds()
    unit.CompletedAt = &completedAt
    if err := w.store.UpsertUnit(ctx, unit); err != nil {
        logger.Error().Err(err).Msg("mark unit completed failed")
        return
    }

    // html units emit a derived plain-text unit as a byproduct.
    if txtKey != "" {
        derived := &task.PageUnit{
            TaskID:           taskID,
            PageNumber:       msg.PageNumber,
            Format:           task.FormatTXT,
            TotalPages:       msg.TotalPages,
            Status:           task.StatusCompleted,
            WorkerID:         w.id,
            PageImageKey:     msg.PageImageKey,
            ResultKey:        txtKey,
            ProcessingTimeMS: unit.ProcessingTimeMS,
            StartedAt:        &startedAt,
            CompletedAt:      &completedAt,
        }
        if err := w.store.UpsertUnit(ctx, derived); err != nil {
            logger.Warn().Err(err).Msg("record derived text unit failed")
        }
    }

    if _, err := w.store.SetPrimaryResult(ctx, taskID, primaryKey, unit.Format); err != nil {
        logger.Warn().Err(err).Msg("record primary result failed")
    }

    result := "completed"
    if res.SoftError != "" { result = "soft_error" }
    metrics.ObserveUnit(string(unit.Format), result, time.Since(started))
    logger.Info().Int64("ms", unit.ProcessingTimeMS).Str("result", result).Msg("unit settled")

    w.settleTask(ctx, msg, taskID)
}

// fail settles a unit as failed and updates the task aggregate.
func (w *Worker) fail(ctx context.Context, msg task.QueueMessage, unit *task.PageUnit, started time.Time, cause error) {
    log.Error().Err(cause).Str("worker_id", w.id).Str("task_id", unit.TaskID).
        Int("page", unit.PageNumber).Str("format", string(unit.Format)).Msg("unit failed")

    completedAt := time.Now().UTC()
    unit.Status = task.StatusFailed
    unit.ErrorMessage = cause.Error()
    unit.ProcessingTimeMS = time.Since(started).Milliseconds()
    unit.CompletedAt = &completedAt
    if err := w.store.UpsertUnit(ctx, unit); err != nil {
        log.Error().Err(err).Str("task_id", unit.TaskID).Msg("mark unit failed failed")
    }
    metrics.ObserveUnit(string(unit.Format), "failed", time.Since(started))
    w.settleTask(ctx, msg, unit.TaskID)
}

// settleTask recomputes the task aggregate, mirrors it into the metadata
// hash and fans the update out.
func (w *Worker) settleTask(ctx context.Context, msg task.QueueMessage, taskID string) {
    status, progress, err := w.store.RecomputeTask(ctx, taskID)
    if err != nil {
        log.Error().Err(err).Str("task_id", taskID).Msg("recompute task failed")
        return
    }

    meta := map[string]any{
        "status":     string(status),
        "progress":   progress,
        "updated_at": time.Now().UTC().Format(time.RFC3339),
    }
    if err := w.bus.SetTaskMeta(ctx, taskID, meta); err != nil {
        log.Warn().Err(err).Str("task_id", taskID).Msg("update task metadata failed")
    }

    upd := task.StatusUpdate{TaskID: taskID, UserID: msg.UserID, Status: status, Progress: &progress}
    if status.Terminal() {
        metrics.IncTaskFinished(string(status))
        if status == task.StatusCompleted {
            upd.Message = "task completed"
            if err := w.bus.IncTaskCompleted(ctx); err != nil {
                log.Warn().Err(err).Msg("bump completed counter failed")
            }
        } else {
            if t, err := w.store.GetTask(ctx, taskID); err == nil {
                upd.Error = t.ErrorMessage
            }
            if err := w.bus.IncTaskFailed(ctx); err != nil {
                log.Warn().Err(err).Msg("bump failed counter failed")
            }
        }
    }
    w.publish(ctx, upd)
}

func (w *Worker) publish(ctx context.Context, upd task.StatusUpdate) {
    if err := w.bus.PublishUpdate(ctx, upd); err != nil {
        log.Warn().Err(err).Str("task_id", upd.TaskID).Msg("publish status update failed")
    }
}

// uploadArtifacts pushes every artifact of a result and records its key on
// the unit. Sealed artifacts are encrypted before they leave the process.
// Returns the primary artifact key and, for html units, the derived text key.
func (w *Worker) uploadArtifacts(ctx context.Context, msg task.QueueMessage, unit *task.PageUnit, res processor.Result) (string, string, error) {
    now := time.Now().UTC()
    taskID := msg.EffectiveTaskID()

    put := func(a processor.Artifact) (string, error) {
        key := storage.ResultKey(msg.UserID, taskID, msg.PageNumber, a.Label, a.Ext, now)
        data, contentType := a.Data, a.ContentType
        if a.Sealed {
            if w.cfg.S3.MappingPassphrase == "" {
                return "", fmt.Errorf("artifact %s requires sealing but no passphrase is configured", a.Label)
            }
            sealed, err := storage.Seal(data, w.cfg.S3.MappingPassphrase)
            if err != nil { return "", err }
            data, contentType = sealed, "application/octet-stream"
        }
        if err := w.objects.Put(ctx, key, data, contentType); err != nil {
            return "", err
        }
        return key, nil
    }

    primaryKey, err := put(res.Primary)
    if err != nil { return "", "", err }
    unit.ResultKey = primaryKey

    var txtKey string
    switch unit.Format {
    case task.FormatHTML:
        if res.DerivedText != nil {
            txtKey, err = put(*res.DerivedText)
            if err != nil { return "", "", err }
        }
    case task.FormatJSON:
        unit.JSONResultKey = primaryKey
    case task.FormatKVP:
        if res.SideJSON != nil {
            key, err := put(*res.SideJSON)
            if err != nil { return "", "", err }
            unit.JSONResultKey = key
        }
    case task.FormatAnon:
        unit.AnonJSONKey = primaryKey
        if res.TokenizedText != nil {
            key, err := put(*res.TokenizedText)
            if err != nil { return "", "", err }
            unit.AnonTXTKey = key
        }
        if res.Mapping != nil {
            key, err := put(*res.Mapping)
            if err != nil { return "", "", err }
            unit.AnonMappingKey = key
        }
        if res.Audit != nil {
            key, err := put(*res.Audit)
            if err != nil { return "", "", err }
            unit.AnonAuditKey = key
        }
    }
    return primaryKey, txtKey, nil
}
