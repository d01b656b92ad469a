package ledger

import (
    "context"
    "errors"
    "fmt"
    "time"

    "gorm.io/driver/postgres"
    "gorm.io/gorm"
    "gorm.io/gorm/clause"
    gormlogger "gorm.io/gorm/logger"

    "github.com/local/ocrworker/internal/task"
)

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
    db *gorm.DB
}

// Open connects to Postgres and migrates the tasks and task_pages tables.
func Open(dsn string) (*SQLStore, error) {
    db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
        Logger: gormlogger.Default.LogMode(gormlogger.Warn),
    })
    if err != nil { return nil, fmt.Errorf("open postgres: %w", err) }
    if err := db.AutoMigrate(&TaskRecord{}, &TaskPageRecord{}); err != nil {
        return nil, fmt.Errorf("migrate ledger: %w", err)
    }
    return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
    sqlDB, err := s.db.DB()
    if err != nil { return err }
    return sqlDB.Close()
}

// Ping verifies database connectivity, used by the status endpoint.
func (s *SQLStore) Ping(ctx context.Context) error {
    sqlDB, err := s.db.DB()
    if err != nil { return err }
    return sqlDB.PingContext(ctx)
}

func (s *SQLStore) CreateTask(ctx context.Context, t *task.Task) error {
    rec, err := taskToRecord(t)
    if err != nil { return fmt.Errorf("encode task %s: %w", t.ID, err) }
    return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
    var rec TaskRecord
    err := s.db.WithContext(ctx).First(&rec, "task_id = ?", id).Error
    if errors.Is(err, gorm.ErrRecordNotFound) { return nil, ErrNotFound }
    if err != nil { return nil, err }
    return recordToTask(rec), nil
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id string, st task.Status, errMsg string) error {
    updates := map[string]any{"status": string(st)}
    if errMsg != "" { updates["error_message"] = errMsg }
    switch st {
    case task.StatusProcessing:
        updates["started_at"] = time.Now().UTC()
    case task.StatusCompleted, task.StatusFailed:
        updates["completed_at"] = time.Now().UTC()
    }
    res := s.db.WithContext(ctx).Model(&TaskRecord{}).Where("task_id = ?", id).Updates(updates)
    if res.Error != nil { return res.Error }
    if res.RowsAffected == 0 { return ErrNotFound }
    return nil
}

func (s *SQLStore) SetPrimaryResult(ctx context.Context, id, key string, format task.Format) (bool, error) {
    applied := false
    err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
        var rec TaskRecord
        if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
            First(&rec, "task_id = ?", id).Error; err != nil {
            if errors.Is(err, gorm.ErrRecordNotFound) { return ErrNotFound }
            return err
        }
        if !PrimaryOutranks(format, task.Format(rec.PrimaryResultFormat)) { return nil }
        applied = true
        return tx.Model(&TaskRecord{}).Where("task_id = ?", id).Updates(map[string]any{
            "primary_result_key":    key,
            "primary_result_format": string(format),
        }).Error
    })
    return applied, err
}

func (s *SQLStore) UpsertUnit(ctx context.Context, u *task.PageUnit) error {
    rec := unitToRecord(u)
    return s.db.WithContext(ctx).Clauses(clause.OnConflict{
        Columns: []clause.Column{{Name: "task_id"}, {Name: "page_number"}, {Name: "format_type"}},
        DoUpdates: clause.AssignmentColumns([]string{
            "status", "worker_id", "page_image_key", "result_key", "json_result_key",
            "anon_json_key", "anon_txt_key", "anon_mapping_key", "anon_audit_key",
            "error_message", "processing_time_ms", "started_at", "completed_at", "updated_at",
        }),
    }).Create(&rec).Error
}

func (s *SQLStore) GetUnit(ctx context.Context, taskID string, page int, format task.Format) (*task.PageUnit, error) {
    var rec TaskPageRecord
    err := s.db.WithContext(ctx).
        First(&rec, "task_id = ? AND page_number = ? AND format_type = ?", taskID, page, string(format)).Error
    if errors.Is(err, gorm.ErrRecordNotFound) { return nil, ErrNotFound }
    if err != nil { return nil, err }
    u := recordToUnit(rec)
    return &u, nil
}

func (s *SQLStore) ListUnits(ctx context.Context, taskID string) ([]task.PageUnit, error) {
    var recs []TaskPageRecord
    err := s.db.WithContext(ctx).
        Where("task_id = ?", taskID).
        Order("format_type, page_number").
        Find(&recs).Error
    if err != nil { return nil, err }
    units := make([]task.PageUnit, 0, len(recs))
    for _, r := range recs {
        units = append(units, recordToUnit(r))
    }
    return units, nil
}

func (s *SQLStore) RecomputeTask(ctx context.Context, taskID string) (task.Status, int, error) {
    units, err := s.ListUnits(ctx, taskID)
    if err != nil { return "", 0, err }
    st := AggregateStatus(units)
    progress := Progress(units)
    updates := map[string]any{"status": string(st)}
    if st.Terminal() {
        updates["completed_at"] = time.Now().UTC()
        if st == task.StatusFailed {
            updates["error_message"] = firstUnitError(units)
        }
    }
    err = s.db.WithContext(ctx).Model(&TaskRecord{}).Where("task_id = ?", taskID).Updates(updates).Error
    return st, progress, err
}

func firstUnitError(units []task.PageUnit) string {
    for _, u := range units {
        if u.Status == task.StatusFailed && u.ErrorMessage != "" {
            return fmt.Sprintf("page %d (%s): %s", u.PageNumber, u.Format, u.ErrorMessage)
        }
    }
    return "one or more pages failed"
}
