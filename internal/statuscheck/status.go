// Package statuscheck aggregates readiness probes for the platform's
// external dependencies. The summary feeds the status endpoint.
package statuscheck

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "time"

    awscfg "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/service/s3"
)

// Pinger models a dependency reachable with a single round trip.
type Pinger interface {
    Ping(ctx context.Context) error
}

// CensusReader reports the worker count published by the pool manager.
type CensusReader interface {
    WorkerCensus(ctx context.Context) (int, error)
}

// Checker aggregates health checks for the status endpoint.
type Checker struct {
    redis      Pinger
    database   Pinger
    census     CensusReader
    s3Bucket   string
    runtimeURL string
    httpClient *http.Client
}

// Options configures the Checker.
type Options struct {
    Redis      Pinger
    Database   Pinger
    Census     CensusReader
    S3Bucket   string
    RuntimeURL string
    HTTPClient *http.Client
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis        Status `json:"redis"`
    Database     Status `json:"database"`
    S3           Status `json:"s3"`
    ModelRuntime Status `json:"model_runtime"`
    Workers      Status `json:"workers"`
}

// New creates a Checker with the provided options.
func New(opts Options) *Checker {
    client := opts.HTTPClient
    if client == nil {
        client = &http.Client{Timeout: 5 * time.Second}
    }
    return &Checker{
        redis:      opts.Redis,
        database:   opts.Database,
        census:     opts.Census,
        s3Bucket:   opts.S3Bucket,
        runtimeURL: opts.RuntimeURL,
        httpClient: client,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:        c.checkPinger(ctx, c.redis),
        Database:     c.checkPinger(ctx, c.database),
        S3:           c.checkS3(ctx),
        ModelRuntime: c.checkRuntime(ctx),
        Workers:      c.checkWorkers(ctx),
    }
}

func (c *Checker) checkPinger(ctx context.Context, p Pinger) Status {
    if p == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := p.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3Bucket == "" {
        return Status{OK: false, Message: "Bucket not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    cfg, err := awscfg.LoadDefaultConfig(ctx)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    cli := s3.NewFromConfig(cfg)
    if _, err := cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket}); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRuntime(ctx context.Context) Status {
    if c.runtimeURL == "" {
        return Status{OK: false, Message: "Runtime URL not configured"}
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.runtimeURL+"/health", nil)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    resp, err := c.httpClient.Do(req)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
    }
    var h struct {
        Status string `json:"status"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
        return Status{OK: false, Message: "malformed health response"}
    }
    if h.Status != "ready" && h.Status != "ok" {
        return Status{OK: false, Message: "model not loaded"}
    }
    return Status{OK: true, Message: "Ready"}
}

func (c *Checker) checkWorkers(ctx context.Context) Status {
    if c.census == nil {
        return Status{OK: false, Message: "census unavailable"}
    }
    n, err := c.census.WorkerCensus(ctx)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    if n == 0 {
        return Status{OK: false, Message: "no workers reporting"}
    }
    return Status{OK: true, Message: fmt.Sprintf("%d workers", n)}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
