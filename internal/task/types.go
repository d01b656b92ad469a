package task

import (
    "encoding/json"
    "fmt"
    "time"
)

// Format identifies one requested output format. It is the variant tag the
// page processor dispatches on; FormatTXT exists only as a derived format.
type Format string

const (
    FormatHTML Format = "html"
    FormatJSON Format = "json"
    FormatKVP  Format = "kvp"
    FormatAnon Format = "anon"
    FormatTXT  Format = "txt"
)

// ParseFormat validates a wire-level format string.
func ParseFormat(s string) (Format, error) {
    switch Format(s) {
    case FormatHTML, FormatJSON, FormatKVP, FormatAnon, FormatTXT:
        return Format(s), nil
    }
    return "", fmt.Errorf("unknown format type: %q", s)
}

// Ext returns the artifact file extension for a format.
func (f Format) Ext() string {
    switch f {
    case FormatHTML, FormatKVP:
        return "html"
    case FormatJSON, FormatAnon:
        return "json"
    case FormatTXT:
        return "txt"
    }
    return "txt"
}

// ContentType returns the artifact MIME type for a format.
func (f Format) ContentType() string {
    switch f {
    case FormatHTML, FormatKVP:
        return "text/html"
    case FormatJSON, FormatAnon:
        return "application/json"
    case FormatTXT:
        return "text/plain"
    }
    return "application/octet-stream"
}

// Derived reports whether the format is produced as a byproduct of another
// format. Derived units are inserted by workers, never by the dispatcher.
func (f Format) Derived() bool { return f == FormatTXT }

// Status is the lifecycle state shared by tasks and page units.
type Status string

const (
    StatusPending    Status = "pending"
    StatusProcessing Status = "processing"
    StatusCompleted  Status = "completed"
    StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// AnonStrategy selects how the anonymizer replaces extracted values.
type AnonStrategy string

const (
    AnonRedact     AnonStrategy = "redact"
    AnonSynthetic  AnonStrategy = "synthetic"
    AnonGeneralize AnonStrategy = "generalize"
    AnonMask       AnonStrategy = "mask"
)

// ParseAnonStrategy validates a wire-level strategy, defaulting to synthetic.
func ParseAnonStrategy(s string) (AnonStrategy, error) {
    if s == "" { return AnonSynthetic, nil }
    switch AnonStrategy(s) {
    case AnonRedact, AnonSynthetic, AnonGeneralize, AnonMask:
        return AnonStrategy(s), nil
    }
    return "", fmt.Errorf("unknown anonymization strategy: %q", s)
}

// SelectedField is one user-selected extraction field. Master-table fields
// arrive as key_name, ad-hoc fields as custom_key_name.
type SelectedField struct {
    KeyName       string `json:"key_name,omitempty"`
    CustomKeyName string `json:"custom_key_name,omitempty"`
}

// Name returns whichever of the two field names is set.
func (f SelectedField) Name() string {
    if f.KeyName != "" { return f.KeyName }
    return f.CustomKeyName
}

// FormatOptions carries the per-format parameters that travel with a unit.
type FormatOptions struct {
    SelectedKVPs       []SelectedField `json:"selected_kvps,omitempty"`
    AnonStrategy       AnonStrategy    `json:"anon_strategy,omitempty"`
    AnonGenerateAudit  bool            `json:"anon_generate_audit,omitempty"`
    AnonSelectedFields []SelectedField `json:"anon_selected_fields,omitempty"`
}

// Task is one user submission: a source document plus its requested outputs.
type Task struct {
    ID                  string
    UserID              string
    SourceFileKey       string
    RequestedFormats    []Format
    Options             FormatOptions
    TotalPages          int
    Status              Status
    WorkerID            string
    PrimaryResultKey    string
    PrimaryResultFormat Format
    ErrorMessage        string
    Attempts            int
    StartedAt           *time.Time
    CompletedAt         *time.Time
}

// PageUnit is one (task, page, format) work record: the atomic scheduling
// and ledger unit.
type PageUnit struct {
    TaskID           string
    PageNumber       int
    Format           Format
    TotalPages       int
    Status           Status
    WorkerID         string
    PageImageKey     string
    ResultKey        string
    JSONResultKey    string
    AnonJSONKey      string
    AnonTXTKey       string
    AnonMappingKey   string
    AnonAuditKey     string
    ErrorMessage     string
    ProcessingTimeMS int64
    StartedAt        *time.Time
    CompletedAt      *time.Time
}

// QueueMessage is the ephemeral work envelope. It carries the full
// addressing needed to process a unit without further lookups; delivery is
// at-least-once and workers must tolerate replays.
type QueueMessage struct {
    TaskID             string          `json:"task_id"`
    ParentTaskID       string          `json:"parent_task_id,omitempty"`
    UserID             string          `json:"user_id"`
    PageNumber         int             `json:"page_number"`
    TotalPages         int             `json:"total_pages"`
    FormatType         Format          `json:"format_type"`
    PageImageKey       string          `json:"page_image_key"`
    SelectedKVPs       []SelectedField `json:"selected_kvps,omitempty"`
    AnonStrategy       AnonStrategy    `json:"anon_strategy,omitempty"`
    AnonGenerateAudit  bool            `json:"anon_generate_audit,omitempty"`
    AnonSelectedFields []SelectedField `json:"anon_selected_fields,omitempty"`
}

// EffectiveTaskID prefers the parent task id kept for multi-page fan-outs.
func (m QueueMessage) EffectiveTaskID() string {
    if m.ParentTaskID != "" { return m.ParentTaskID }
    return m.TaskID
}

// Options reassembles FormatOptions from the message fields.
func (m QueueMessage) Options() FormatOptions {
    return FormatOptions{
        SelectedKVPs:       m.SelectedKVPs,
        AnonStrategy:       m.AnonStrategy,
        AnonGenerateAudit:  m.AnonGenerateAudit,
        AnonSelectedFields: m.AnonSelectedFields,
    }
}

// Encode marshals the message for the wire.
func (m QueueMessage) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeMessage unmarshals and validates a queue payload.
func DecodeMessage(data []byte) (QueueMessage, error) {
    var m QueueMessage
    if err := json.Unmarshal(data, &m); err != nil {
        return QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
    }
    if m.TaskID == "" && m.ParentTaskID == "" {
        return QueueMessage{}, fmt.Errorf("queue message missing task_id")
    }
    if m.PageNumber < 1 { return QueueMessage{}, fmt.Errorf("queue message page_number %d out of range", m.PageNumber) }
    if _, err := ParseFormat(string(m.FormatType)); err != nil {
        return QueueMessage{}, err
    }
    return m, nil
}

// StatusUpdate is the pub/sub payload for real-time task updates. Field names
// follow the websocket contract consumed by browser clients.
type StatusUpdate struct {
    TaskID   string `json:"taskId"`
    UserID   string `json:"userId"`
    Status   Status `json:"status"`
    Message  string `json:"message,omitempty"`
    Progress *int   `json:"progress,omitempty"`
    Error    string `json:"error,omitempty"`
}
