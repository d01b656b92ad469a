package ledger

import (
    "github.com/local/ocrworker/internal/task"
)

// AggregateStatus derives a task's status from its unit rows:
// completed when every unit is terminal and at least one completed,
// failed when every unit is terminal and none completed, processing once
// any unit has left pending, pending otherwise. A task with partial page
// failures still completes; the failed units carry their own errors.
// An empty unit set stays pending.
func AggregateStatus(units []task.PageUnit) task.Status {
    if len(units) == 0 { return task.StatusPending }
    completed, failed, started := 0, 0, 0
    for _, u := range units {
        switch u.Status {
        case task.StatusCompleted:
            completed++
        case task.StatusFailed:
            failed++
        case task.StatusProcessing:
            started++
        }
    }
    terminal := completed + failed
    switch {
    case terminal == len(units) && completed > 0:
        return task.StatusCompleted
    case terminal == len(units):
        return task.StatusFailed
    case started > 0 || terminal > 0:
        return task.StatusProcessing
    }
    return task.StatusPending
}

// Progress returns the percentage of terminal units, 0-100.
func Progress(units []task.PageUnit) int {
    if len(units) == 0 { return 0 }
    done := 0
    for _, u := range units {
        if u.Status.Terminal() { done++ }
    }
    return done * 100 / len(units)
}

// primaryRank orders formats for the primary-result decision. Rendered HTML
// beats the KVP report, which beats everything else.
func primaryRank(f task.Format) int {
    switch f {
    case task.FormatHTML:
        return 3
    case task.FormatKVP:
        return 2
    }
    return 1
}

// PrimaryOutranks reports whether candidate should replace current as the
// task's primary result format. Equal rank keeps the first writer.
func PrimaryOutranks(candidate, current task.Format) bool {
    if current == "" { return true }
    return primaryRank(candidate) > primaryRank(current)
}
