package bus

import (
    "context"
    "crypto/tls"
    "crypto/x509"
    "encoding/json"
    "fmt"
    "os"
    "time"

    redis "github.com/redis/go-redis/v9"

    "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/task"
)

const (
    statCompletedKey = "ocr:stats:tasks:completed"
    statFailedKey    = "ocr:stats:tasks:failed"
    censusKey        = "ocr:workers:count"
    readyKeyPattern  = "ocr:worker:%s:ready"
)

// Bus is the Redis-backed queue and notification fabric: the FIFO work
// queue, per-task metadata hashes, pub/sub status updates and the worker
// census keys all live here.
type Bus struct {
    client *redis.Client
    cfg    config.RedisConfig
}

// New connects to Redis (TLS when cert paths are configured) and verifies
// connectivity with a ping.
func New(cfg config.RedisConfig) (*Bus, error) {
    opt, err := redis.ParseURL(cfg.URL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    if cfg.TLSCACert != "" {
        tc, err := tlsFromFiles(cfg.TLSCACert, cfg.TLSCert, cfg.TLSKey)
        if err != nil { return nil, err }
        opt.TLSConfig = tc
    }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil {
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return &Bus{client: c, cfg: cfg}, nil
}

// NewWithClient wraps an existing client, used by tests against miniredis.
func NewWithClient(c *redis.Client, cfg config.RedisConfig) *Bus {
    return &Bus{client: c, cfg: cfg}
}

func tlsFromFiles(caPath, certPath, keyPath string) (*tls.Config, error) {
    ca, err := os.ReadFile(caPath)
    if err != nil { return nil, fmt.Errorf("read redis ca cert: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) {
        return nil, fmt.Errorf("redis ca cert %s: no PEM certificates found", caPath)
    }
    tc := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
    if certPath != "" && keyPath != "" {
        pair, err := tls.LoadX509KeyPair(certPath, keyPath)
        if err != nil { return nil, fmt.Errorf("load redis client cert: %w", err) }
        tc.Certificates = []tls.Certificate{pair}
    }
    return tc, nil
}

func (b *Bus) Close() error { return b.client.Close() }

// Ping checks redis connectivity.
func (b *Bus) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

// Enqueue pushes one unit payload onto the work queue. LPUSH paired with
// BRPOP on the consumer side gives FIFO order.
func (b *Bus) Enqueue(ctx context.Context, payload []byte) error {
    return b.client.LPush(ctx, b.cfg.QueueKey, payload).Err()
}

// Dequeue blocks up to timeout for the next unit payload. Returns nil with
// no error when the timeout elapses empty.
func (b *Bus) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
    res, err := b.client.BRPop(ctx, timeout, b.cfg.QueueKey).Result()
    if err != nil {
        if err == redis.Nil { return nil, nil }
        return nil, err
    }
    // BRPOP returns [key, value]
    if len(res) < 2 { return nil, nil }
    return []byte(res[1]), nil
}

// QueueDepth returns the number of pending unit payloads.
func (b *Bus) QueueDepth(ctx context.Context) (int64, error) {
    return b.client.LLen(ctx, b.cfg.QueueKey).Result()
}

func (b *Bus) taskDataKey(taskID string) string { return b.cfg.TaskDataPrefix + taskID }

// SetTaskMeta merges fields into the per-task metadata hash and refreshes
// its expiry. The hash mirrors ledger state for cheap polling reads.
func (b *Bus) SetTaskMeta(ctx context.Context, taskID string, fields map[string]any) error {
    key := b.taskDataKey(taskID)
    pipe := b.client.TxPipeline()
    pipe.HSet(ctx, key, fields)
    pipe.Expire(ctx, key, b.cfg.MetadataTTL)
    _, err := pipe.Exec(ctx)
    return err
}

// GetTaskMeta returns the task metadata hash, empty map when absent.
func (b *Bus) GetTaskMeta(ctx context.Context, taskID string) (map[string]string, error) {
    return b.client.HGetAll(ctx, b.taskDataKey(taskID)).Result()
}

// PublishUpdate fans a status update out to the shared updates channel and,
// when the update names a user, the global and per-user notification channels.
func (b *Bus) PublishUpdate(ctx context.Context, upd task.StatusUpdate) error {
    payload, err := json.Marshal(upd)
    if err != nil { return fmt.Errorf("marshal status update: %w", err) }
    pipe := b.client.Pipeline()
    pipe.Publish(ctx, b.cfg.UpdatesChannel, payload)
    if upd.UserID != "" {
        pipe.Publish(ctx, b.cfg.NotifyChannel, payload)
        pipe.Publish(ctx, b.cfg.UserNotifyPrefix+upd.UserID, payload)
    }
    _, err = pipe.Exec(ctx)
    return err
}

// SubscribeUpdates subscribes to the shared updates channel.
func (b *Bus) SubscribeUpdates(ctx context.Context) *redis.PubSub {
    return b.client.Subscribe(ctx, b.cfg.UpdatesChannel)
}

func readyKey(workerID string) string { return fmt.Sprintf(readyKeyPattern, workerID) }

// SetWorkerReady refreshes the worker ready key; the pool manager polls it.
func (b *Bus) SetWorkerReady(ctx context.Context, workerID string, ttl time.Duration) error {
    return b.client.Set(ctx, readyKey(workerID), "1", ttl).Err()
}

// ClearWorkerReady removes the ready key on shutdown.
func (b *Bus) ClearWorkerReady(ctx context.Context, workerID string) error {
    return b.client.Del(ctx, readyKey(workerID)).Err()
}

// IsWorkerReady reports whether a worker's ready key is live.
func (b *Bus) IsWorkerReady(ctx context.Context, workerID string) (bool, error) {
    n, err := b.client.Exists(ctx, readyKey(workerID)).Result()
    return n == 1, err
}

// SetWorkerCensus publishes the live worker count with a heartbeat TTL.
func (b *Bus) SetWorkerCensus(ctx context.Context, n int, ttl time.Duration) error {
    return b.client.Set(ctx, censusKey, n, ttl).Err()
}

// WorkerCensus returns the last published worker count, 0 when expired.
func (b *Bus) WorkerCensus(ctx context.Context) (int, error) {
    n, err := b.client.Get(ctx, censusKey).Int()
    if err == redis.Nil { return 0, nil }
    return n, err
}

// IncTaskCompleted bumps the platform-wide completed counter.
func (b *Bus) IncTaskCompleted(ctx context.Context) error {
    return b.client.Incr(ctx, statCompletedKey).Err()
}

// IncTaskFailed bumps the platform-wide failed counter.
func (b *Bus) IncTaskFailed(ctx context.Context) error {
    return b.client.Incr(ctx, statFailedKey).Err()
}

// TaskStats returns the lifetime completed and failed counters.
func (b *Bus) TaskStats(ctx context.Context) (completed, failed int64, err error) {
    pipe := b.client.Pipeline()
    c := pipe.Get(ctx, statCompletedKey)
    f := pipe.Get(ctx, statFailedKey)
    if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
        return 0, 0, err
    }
    completed, _ = c.Int64()
    failed, _ = f.Int64()
    return completed, failed, nil
}
