package ledger

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/local/ocrworker/internal/task"
)

// Memory is an in-process Store used by tests and local development.
type Memory struct {
    mu    sync.RWMutex
    tasks map[string]*task.Task
    units map[string]*task.PageUnit
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
    return &Memory{
        tasks: make(map[string]*task.Task),
        units: make(map[string]*task.PageUnit),
    }
}

func unitKey(taskID string, page int, format task.Format) string {
    return fmt.Sprintf("%s|%d|%s", taskID, page, format)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateTask(_ context.Context, t *task.Task) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.tasks[t.ID]; ok {
        return fmt.Errorf("task %s already exists", t.ID)
    }
    cp := *t
    m.tasks[t.ID] = &cp
    return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*task.Task, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    t, ok := m.tasks[id]
    if !ok { return nil, ErrNotFound }
    cp := *t
    return &cp, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id string, st task.Status, errMsg string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.tasks[id]
    if !ok { return ErrNotFound }
    t.Status = st
    if errMsg != "" { t.ErrorMessage = errMsg }
    now := time.Now().UTC()
    switch st {
    case task.StatusProcessing:
        t.StartedAt = &now
    case task.StatusCompleted, task.StatusFailed:
        t.CompletedAt = &now
    }
    return nil
}

func (m *Memory) SetPrimaryResult(_ context.Context, id, key string, format task.Format) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.tasks[id]
    if !ok { return false, ErrNotFound }
    if !PrimaryOutranks(format, t.PrimaryResultFormat) { return false, nil }
    t.PrimaryResultKey = key
    t.PrimaryResultFormat = format
    return true, nil
}

func (m *Memory) UpsertUnit(_ context.Context, u *task.PageUnit) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    cp := *u
    m.units[unitKey(u.TaskID, u.PageNumber, u.Format)] = &cp
    return nil
}

func (m *Memory) GetUnit(_ context.Context, taskID string, page int, format task.Format) (*task.PageUnit, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    u, ok := m.units[unitKey(taskID, page, format)]
    if !ok { return nil, ErrNotFound }
    cp := *u
    return &cp, nil
}

func (m *Memory) ListUnits(_ context.Context, taskID string) ([]task.PageUnit, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    var units []task.PageUnit
    for _, u := range m.units {
        if u.TaskID == taskID { units = append(units, *u) }
    }
    sort.Slice(units, func(i, j int) bool {
        if units[i].Format != units[j].Format { return units[i].Format < units[j].Format }
        return units[i].PageNumber < units[j].PageNumber
    })
    return units, nil
}

func (m *Memory) RecomputeTask(ctx context.Context, taskID string) (task.Status, int, error) {
    units, err := m.ListUnits(ctx, taskID)
    if err != nil { return "", 0, err }
    st := AggregateStatus(units)
    progress := Progress(units)

    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.tasks[taskID]
    if !ok { return "", 0, ErrNotFound }
    t.Status = st
    if st.Terminal() {
        now := time.Now().UTC()
        t.CompletedAt = &now
        if st == task.StatusFailed && t.ErrorMessage == "" {
            t.ErrorMessage = firstUnitError(units)
        }
    }
    return st, progress, nil
}
