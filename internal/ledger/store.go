package ledger

import (
    "context"
    "errors"

    "github.com/local/ocrworker/internal/task"
)

// ErrNotFound is returned when a task or unit row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Store is the durable system of record for tasks and their page units.
// Implementations: Postgres via gorm for production, Memory for tests.
type Store interface {
    // CreateTask inserts the task row. The task id must be unique.
    CreateTask(ctx context.Context, t *task.Task) error
    GetTask(ctx context.Context, id string) (*task.Task, error)
    // UpdateTaskStatus sets the task status and, for failures, the message.
    UpdateTaskStatus(ctx context.Context, id string, st task.Status, errMsg string) error

    // SetPrimaryResult records key as the task's primary artifact if format
    // outranks the currently recorded one (html > kvp > everything else).
    // Returns whether the update was applied.
    SetPrimaryResult(ctx context.Context, id, key string, format task.Format) (bool, error)

    // UpsertUnit inserts or updates the row keyed
    // (task_id, page_number, format_type).
    UpsertUnit(ctx context.Context, u *task.PageUnit) error
    GetUnit(ctx context.Context, taskID string, page int, format task.Format) (*task.PageUnit, error)
    ListUnits(ctx context.Context, taskID string) ([]task.PageUnit, error)

    // RecomputeTask derives the task status and progress from its unit rows
    // and persists the status. Returns the derived status and progress 0-100.
    RecomputeTask(ctx context.Context, taskID string) (task.Status, int, error)

    Close() error
}
