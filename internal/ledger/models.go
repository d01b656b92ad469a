package ledger

import (
    "encoding/json"
    "strings"
    "time"

    "github.com/local/ocrworker/internal/task"
)

// TaskRecord is the tasks table row.
type TaskRecord struct {
    TaskID              string `gorm:"column:task_id;primaryKey;size:64"`
    UserID              string `gorm:"column:user_id;size:64;index"`
    SourceFileKey       string `gorm:"column:source_file_key;size:512"`
    RequestedFormats    string `gorm:"column:requested_formats;size:64"`
    Options             []byte `gorm:"column:options;type:jsonb"`
    TotalPages          int    `gorm:"column:total_pages"`
    Status              string `gorm:"column:status;size:16;index"`
    WorkerID            string `gorm:"column:worker_id;size:64"`
    PrimaryResultKey    string `gorm:"column:primary_result_key;size:512"`
    PrimaryResultFormat string `gorm:"column:primary_result_format;size:16"`
    ErrorMessage        string `gorm:"column:error_message"`
    Attempts            int    `gorm:"column:attempts"`
    StartedAt           *time.Time `gorm:"column:started_at"`
    CompletedAt         *time.Time `gorm:"column:completed_at"`
    CreatedAt           time.Time  `gorm:"column:created_at"`
    UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (TaskRecord) TableName() string { return "tasks" }

// TaskPageRecord is the task_pages table row, unique per
// (task_id, page_number, format_type).
type TaskPageRecord struct {
    ID               uint   `gorm:"primaryKey;autoIncrement"`
    TaskID           string `gorm:"column:task_id;size:64;uniqueIndex:uniq_task_page_format"`
    PageNumber       int    `gorm:"column:page_number;uniqueIndex:uniq_task_page_format"`
    FormatType       string `gorm:"column:format_type;size:16;uniqueIndex:uniq_task_page_format"`
    TotalPages       int    `gorm:"column:total_pages"`
    Status           string `gorm:"column:status;size:16;index"`
    WorkerID         string `gorm:"column:worker_id;size:64"`
    PageImageKey     string `gorm:"column:page_image_key;size:512"`
    ResultKey        string `gorm:"column:result_key;size:512"`
    JSONResultKey    string `gorm:"column:json_result_key;size:512"`
    AnonJSONKey      string `gorm:"column:anon_json_key;size:512"`
    AnonTXTKey       string `gorm:"column:anon_txt_key;size:512"`
    AnonMappingKey   string `gorm:"column:anon_mapping_key;size:512"`
    AnonAuditKey     string `gorm:"column:anon_audit_key;size:512"`
    ErrorMessage     string `gorm:"column:error_message"`
    ProcessingTimeMS int64  `gorm:"column:processing_time_ms"`
    StartedAt        *time.Time `gorm:"column:started_at"`
    CompletedAt      *time.Time `gorm:"column:completed_at"`
    CreatedAt        time.Time  `gorm:"column:created_at"`
    UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (TaskPageRecord) TableName() string { return "task_pages" }

func taskToRecord(t *task.Task) (TaskRecord, error) {
    formats := make([]string, 0, len(t.RequestedFormats))
    for _, f := range t.RequestedFormats {
        formats = append(formats, string(f))
    }
    opts, err := json.Marshal(t.Options)
    if err != nil { return TaskRecord{}, err }
    return TaskRecord{
        TaskID:              t.ID,
        UserID:              t.UserID,
        SourceFileKey:       t.SourceFileKey,
        RequestedFormats:    strings.Join(formats, ","),
        Options:             opts,
        TotalPages:          t.TotalPages,
        Status:              string(t.Status),
        WorkerID:            t.WorkerID,
        PrimaryResultKey:    t.PrimaryResultKey,
        PrimaryResultFormat: string(t.PrimaryResultFormat),
        ErrorMessage:        t.ErrorMessage,
        Attempts:            t.Attempts,
        StartedAt:           t.StartedAt,
        CompletedAt:         t.CompletedAt,
    }, nil
}

func recordToTask(r TaskRecord) *task.Task {
    t := &task.Task{
        ID:                  r.TaskID,
        UserID:              r.UserID,
        SourceFileKey:       r.SourceFileKey,
        TotalPages:          r.TotalPages,
        Status:              task.Status(r.Status),
        WorkerID:            r.WorkerID,
        PrimaryResultKey:    r.PrimaryResultKey,
        PrimaryResultFormat: task.Format(r.PrimaryResultFormat),
        ErrorMessage:        r.ErrorMessage,
        Attempts:            r.Attempts,
        StartedAt:           r.StartedAt,
        CompletedAt:         r.CompletedAt,
    }
    if r.RequestedFormats != "" {
        for _, s := range strings.Split(r.RequestedFormats, ",") {
            t.RequestedFormats = append(t.RequestedFormats, task.Format(s))
        }
    }
    if len(r.Options) > 0 {
        _ = json.Unmarshal(r.Options, &t.Options)
    }
    return t
}

func unitToRecord(u *task.PageUnit) TaskPageRecord {
    return TaskPageRecord{
        TaskID:           u.TaskID,
        PageNumber:       u.PageNumber,
        FormatType:       string(u.Format),
        TotalPages:       u.TotalPages,
        Status:           string(u.Status),
        WorkerID:         u.WorkerID,
        PageImageKey:     u.PageImageKey,
        ResultKey:        u.ResultKey,
        JSONResultKey:    u.JSONResultKey,
        AnonJSONKey:      u.AnonJSONKey,
        AnonTXTKey:       u.AnonTXTKey,
        AnonMappingKey:   u.AnonMappingKey,
        AnonAuditKey:     u.AnonAuditKey,
        ErrorMessage:     u.ErrorMessage,
        ProcessingTimeMS: u.ProcessingTimeMS,
        StartedAt:        u.StartedAt,
        CompletedAt:      u.CompletedAt,
    }
}

func recordToUnit(r TaskPageRecord) task.PageUnit {
    return task.PageUnit{
        TaskID:           r.TaskID,
        PageNumber:       r.PageNumber,
        Format:           task.Format(r.FormatType),
        TotalPages:       r.TotalPages,
        Status:           task.Status(r.Status),
        WorkerID:         r.WorkerID,
        PageImageKey:     r.PageImageKey,
        ResultKey:        r.ResultKey,
        JSONResultKey:    r.JSONResultKey,
        AnonJSONKey:      r.AnonJSONKey,
        AnonTXTKey:       r.AnonTXTKey,
        AnonMappingKey:   r.AnonMappingKey,
        AnonAuditKey:     r.AnonAuditKey,
        ErrorMessage:     r.ErrorMessage,
        ProcessingTimeMS: r.ProcessingTimeMS,
        StartedAt:        r.StartedAt,
        CompletedAt:      r.CompletedAt,
    }
}
