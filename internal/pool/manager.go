// Package pool supervises the GPU worker processes. Workers are separate
// processes of this same binary (selected by env), spawned sequentially
// because each one loads the model into VRAM on startup.
package pool

import (
    "context"
    "fmt"
    "math"
    "os"
    "os/exec"
    "sync"
    "syscall"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/bus"
    "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/metrics"
)

// ChildModeEnv selects worker mode in a spawned process. The value is the
// worker id.
const ChildModeEnv = "OCRWORKER_CHILD_ID"

// vramPerWorkerGB is the model's working-set budget per worker process.
const vramPerWorkerGB = 28.0

// WorkerCount derives the pool size. Development always runs one worker;
// production fits workers into 75% of the card, between 1 and 4.
func WorkerCount(cfg config.PoolConfig) int {
    if cfg.CountOverride > 0 { return cfg.CountOverride }
    if cfg.Environment != "production" { return 1 }
    n := int(math.Floor(cfg.VRAMGB * 0.75 / vramPerWorkerGB))
    if n < 1 { n = 1 }
    if n > 4 { n = 4 }
    return n
}

type child struct {
    id  string
    cmd *exec.Cmd
}

// Manager spawns, monitors and restarts worker processes.
type Manager struct {
    cfg config.Config
    bus *bus.Bus

    // spawn is swapped out in tests; starting a real child forks this
    // binary and blocks on its ready key.
    spawn func(ctx context.Context, id string) error

    mu       sync.Mutex
    children []*child
}

func New(cfg config.Config, b *bus.Bus) *Manager {
    m := &Manager{cfg: cfg, bus: b}
    m.spawn = m.startWorker
    return m
}

// Run spawns the pool and supervises it until ctx is cancelled, then
// stops the children gracefully.
func (m *Manager) Run(ctx context.Context) error {
    count := WorkerCount(m.cfg.Pool)
    log.Info().Int("workers", count).Str("env", m.cfg.Pool.Environment).Msg("starting worker pool")

    for i := 0; i < count; i++ {
        id := fmt.Sprintf("worker-%d", i+1)
        if err := m.spawn(ctx, id); err != nil {
            m.stopAll()
            return fmt.Errorf("spawn %s: %w", id, err)
        }
    }

    ticker := time.NewTicker(m.cfg.Pool.MonitorInterval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            m.stopAll()
            return nil
        case <-ticker.C:
            m.monitor(ctx)
        }
    }
}

// startWorker forks one worker process and waits for its ready key.
func (m *Manager) startWorker(ctx context.Context, id string) error {
    exe, err := os.Executable()
    if err != nil { return fmt.Errorf("resolve executable: %w", err) }

    cmd := exec.Command(exe)
    cmd.Env = append(os.Environ(), ChildModeEnv+"="+id)
    cmd.Stdout = os.Stdout
    cmd.Stderr = os.Stderr
    if err := cmd.Start(); err != nil { return fmt.Errorf("start worker process: %w", err) }

    c := &child{id: id, cmd: cmd}
    m.mu.Lock()
    m.children = append(m.children, c)
    m.mu.Unlock()

    log.Info().Str("worker_id", id).Int("pid", cmd.Process.Pid).Msg("worker process started")
    return m.waitReady(ctx, c)
}

// waitReady polls the worker's ready key until it appears or the spawn
// timeout elapses. A worker that never comes up fails the pool start.
func (m *Manager) waitReady(ctx context.Context, c *child) error {
    deadline := time.Now().Add(m.cfg.Pool.SpawnTimeout)
    ticker := time.NewTicker(time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-ticker.C:
            ready, err := m.bus.IsWorkerReady(ctx, c.id)
            if err != nil {
                log.Warn().Err(err).Str("worker_id", c.id).Msg("ready probe failed")
                continue
            }
            if ready {
                log.Info().Str("worker_id", c.id).Msg("worker ready")
                return nil
            }
            if time.Now().After(deadline) {
                return fmt.Errorf("worker %s not ready after %s", c.id, m.cfg.Pool.SpawnTimeout)
            }
        }
    }
}

// monitor restarts exited children and refreshes the census. The census
// heartbeat goes out before any restart: waiting on a fresh worker's
// ready key can outlast the census TTL.
func (m *Manager) monitor(ctx context.Context) {
    m.mu.Lock()
    children := append([]*child(nil), m.children...)
    m.mu.Unlock()

    alive := 0
    var dead []*child
    for _, c := range children {
        if c.cmd.ProcessState == nil && processAlive(c.cmd) {
            alive++
            continue
        }
        dead = append(dead, c)
    }
    m.publishCensus(ctx, alive)

    for _, c := range dead {
        log.Warn().Str("worker_id", c.id).Msg("worker process exited, restarting")
        metrics.IncWorkerRestart()
        m.remove(c)
        if err := m.spawn(ctx, c.id); err != nil {
            log.Error().Err(err).Str("worker_id", c.id).Msg("worker restart failed")
            continue
        }
        alive++
    }
    if len(dead) > 0 {
        m.publishCensus(ctx, alive)
    }

    if depth, err := m.bus.QueueDepth(ctx); err == nil {
        metrics.SetQueueDepth(depth)
    }
}

func (m *Manager) publishCensus(ctx context.Context, alive int) {
    if err := m.bus.SetWorkerCensus(ctx, alive, m.cfg.Pool.CensusTTL); err != nil {
        log.Warn().Err(err).Msg("publish worker census failed")
    }
    metrics.SetWorkersReady(alive)
}

func processAlive(cmd *exec.Cmd) bool {
    if cmd.Process == nil { return false }
    return cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) remove(c *child) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i, other := range m.children {
        if other == c {
            m.children = append(m.children[:i], m.children[i+1:]...)
            return
        }
    }
}

// stopAll signals every child to finish its in-flight unit, then kills
// whatever is still running after the grace period.
func (m *Manager) stopAll() {
    m.mu.Lock()
    children := append([]*child(nil), m.children...)
    m.children = nil
    m.mu.Unlock()

    for _, c := range children {
        if c.cmd.Process == nil { continue }
        if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
            log.Warn().Err(err).Str("worker_id", c.id).Msg("signal worker failed")
        }
    }

    done := make(chan struct{})
    go func() {
        for _, c := range children { _ = c.cmd.Wait() }
        close(done)
    }()
    select {
    case <-done:
        log.Info().Msg("worker pool stopped")
    case <-time.After(m.cfg.Pool.StopGrace):
        for _, c := range children {
            if c.cmd.Process != nil {
                log.Warn().Str("worker_id", c.id).Msg("worker did not stop in time, killing")
                _ = c.cmd.Process.Kill()
            }
        }
    }
}
