// Package api exposes the task submission and inspection surface of the
// pool manager process.
package api

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/bus"
    "github.com/local/ocrworker/internal/dispatch"
    "github.com/local/ocrworker/internal/ledger"
    "github.com/local/ocrworker/internal/statuscheck"
    "github.com/local/ocrworker/internal/task"
)

// Server wires the HTTP handlers to the dispatcher and the ledger.
type Server struct {
    dispatcher *dispatch.Dispatcher
    store      ledger.Store
    bus        *bus.Bus
    checker    *statuscheck.Checker
}

func New(d *dispatch.Dispatcher, store ledger.Store, b *bus.Bus, checker *statuscheck.Checker) *Server {
    return &Server{dispatcher: d, store: store, bus: b, checker: checker}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/tasks", s.handleTasks)
    mux.HandleFunc("/tasks/", s.handleTask)
    mux.HandleFunc("/stats", s.handleStats)
    mux.HandleFunc("/status", s.handleStatus)
}

type submitReq struct {
    UserID        string             `json:"user_id"`
    FileID        string             `json:"file_id,omitempty"`
    SourceFileKey string             `json:"source_file_key"`
    Formats       []string           `json:"formats"`
    Options       task.FormatOptions `json:"options"`
    PageImageKeys []string           `json:"page_image_keys,omitempty"`
}

type submitResp struct {
    Status     string `json:"status"`
    TaskID     string `json:"task_id"`
    TotalPages int    `json:"total_pages"`
    Message    string `json:"message"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    defer r.Body.Close()
    var req submitReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid json", http.StatusBadRequest)
        return
    }
    formats := make([]task.Format, 0, len(req.Formats))
    for _, f := range req.Formats {
        parsed, err := task.ParseFormat(f)
        if err != nil {
            http.Error(w, err.Error(), http.StatusBadRequest)
            return
        }
        formats = append(formats, parsed)
    }

    t, err := s.dispatcher.Submit(r.Context(), dispatch.SubmitRequest{
        UserID:        req.UserID,
        FileID:        req.FileID,
        SourceFileKey: req.SourceFileKey,
        Formats:       formats,
        Options:       req.Options,
        PageImageKeys: req.PageImageKeys,
    })
    if err != nil {
        log.Error().Err(err).Str("user_id", req.UserID).Msg("task submit failed")
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }
    writeJSON(w, http.StatusCreated, submitResp{
        Status: "ok", TaskID: t.ID, TotalPages: t.TotalPages, Message: "task queued",
    })
}

type unitResp struct {
    PageNumber       int    `json:"page_number"`
    Format           string `json:"format"`
    Status           string `json:"status"`
    ResultKey        string `json:"result_key,omitempty"`
    ErrorMessage     string `json:"error_message,omitempty"`
    ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
}

type taskResp struct {
    TaskID              string            `json:"task_id"`
    UserID              string            `json:"user_id"`
    Status              string            `json:"status"`
    Progress            int               `json:"progress"`
    TotalPages          int               `json:"total_pages"`
    PrimaryResultKey    string            `json:"primary_result_key,omitempty"`
    PrimaryResultFormat string            `json:"primary_result_format,omitempty"`
    ErrorMessage        string            `json:"error_message,omitempty"`
    Units               []unitResp        `json:"units"`
    Metadata            map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
    if rest == "" {
        http.NotFound(w, r)
        return
    }
    if id, ok := strings.CutSuffix(rest, "/redispatch"); ok {
        s.handleRedispatch(w, r, id)
        return
    }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    s.handleGetTask(w, r, rest)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, id string) {
    t, err := s.store.GetTask(r.Context(), id)
    if errors.Is(err, ledger.ErrNotFound) {
        http.Error(w, "task not found", http.StatusNotFound)
        return
    }
    if err != nil {
        http.Error(w, "lookup failed", http.StatusInternalServerError)
        return
    }
    units, err := s.store.ListUnits(r.Context(), id)
    if err != nil {
        http.Error(w, "lookup failed", http.StatusInternalServerError)
        return
    }

    resp := taskResp{
        TaskID:              t.ID,
        UserID:              t.UserID,
        Status:              string(t.Status),
        Progress:            ledger.Progress(units),
        TotalPages:          t.TotalPages,
        PrimaryResultKey:    t.PrimaryResultKey,
        PrimaryResultFormat: string(t.PrimaryResultFormat),
        ErrorMessage:        t.ErrorMessage,
        Units:               make([]unitResp, 0, len(units)),
    }
    for _, u := range units {
        resp.Units = append(resp.Units, unitResp{
            PageNumber:       u.PageNumber,
            Format:           string(u.Format),
            Status:           string(u.Status),
            ResultKey:        u.ResultKey,
            ErrorMessage:     u.ErrorMessage,
            ProcessingTimeMS: u.ProcessingTimeMS,
        })
    }
    if meta, err := s.bus.GetTaskMeta(r.Context(), id); err == nil && len(meta) > 0 {
        resp.Metadata = meta
    }
    writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRedispatch(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    n, err := s.dispatcher.Redispatch(r.Context(), id)
    if errors.Is(err, ledger.ErrNotFound) {
        http.Error(w, "task not found", http.StatusNotFound)
        return
    }
    if err != nil {
        log.Error().Err(err).Str("task_id", id).Msg("redispatch failed")
        http.Error(w, "redispatch failed", http.StatusInternalServerError)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "requeued": n})
}

type statsResp struct {
    TasksCompleted int64 `json:"tasks_completed"`
    TasksFailed    int64 `json:"tasks_failed"`
    QueueDepth     int64 `json:"queue_depth"`
    Workers        int   `json:"workers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
    defer cancel()
    completed, failed, err := s.bus.TaskStats(ctx)
    if err != nil {
        http.Error(w, "stats unavailable", http.StatusInternalServerError)
        return
    }
    depth, _ := s.bus.QueueDepth(ctx)
    workers, _ := s.bus.WorkerCensus(ctx)
    writeJSON(w, http.StatusOK, statsResp{
        TasksCompleted: completed, TasksFailed: failed, QueueDepth: depth, Workers: workers,
    })
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
    if s.checker == nil {
        http.Error(w, "status checks not configured", http.StatusServiceUnavailable)
        return
    }
    writeJSON(w, http.StatusOK, s.checker.Summary(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}
