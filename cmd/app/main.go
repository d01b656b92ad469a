package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/api"
    "github.com/local/ocrworker/internal/anon"
    "github.com/local/ocrworker/internal/bus"
    cfgpkg "github.com/local/ocrworker/internal/config"
    "github.com/local/ocrworker/internal/dispatch"
    "github.com/local/ocrworker/internal/kvp"
    "github.com/local/ocrworker/internal/ledger"
    logpkg "github.com/local/ocrworker/internal/logger"
    "github.com/local/ocrworker/internal/metrics"
    "github.com/local/ocrworker/internal/pool"
    "github.com/local/ocrworker/internal/processor"
    "github.com/local/ocrworker/internal/statuscheck"
    "github.com/local/ocrworker/internal/storage"
    "github.com/local/ocrworker/internal/vlm"
    "github.com/local/ocrworker/internal/worker"
)

func main() {
    _ = godotenv.Load()
    cfg := cfgpkg.FromEnv()

    _ = logpkg.Init(logpkg.Options{
        Level:        cfg.Logging.Level,
        Pretty:       cfg.Logging.Pretty,
        File:         cfg.Logging.File,
        MaxSizeMB:    cfg.Logging.MaxSizeMB,
        MaxBackups:   cfg.Logging.MaxBackups,
        MaxAgeDays:   cfg.Logging.MaxAgeDays,
        Compress:     cfg.Logging.Compress,
        SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey:  cfg.Axiom.APIKey,
        AxiomOrgID:   cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush:   cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()

    metrics.Init()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    if workerID := os.Getenv(pool.ChildModeEnv); workerID != "" {
        if err := runWorker(ctx, cfg, workerID); err != nil {
            log.Fatal().Err(err).Str("worker_id", workerID).Msg("worker exited with error")
        }
        return
    }
    if err := runPool(ctx, cfg); err != nil {
        log.Fatal().Err(err).Msg("pool manager exited with error")
    }
    fmt.Println("shutdown complete")
}

// runWorker is the child process mode: load the model, then consume units
// until signalled.
func runWorker(ctx context.Context, cfg cfgpkg.Config, workerID string) error {
    b, err := bus.New(cfg.Redis)
    if err != nil { return fmt.Errorf("connect redis: %w", err) }
    defer b.Close()

    store, err := ledger.Open(cfg.Database.DSN())
    if err != nil { return fmt.Errorf("open ledger: %w", err) }
    defer store.Close()

    gateway, err := storage.NewGateway(ctx, cfg.S3)
    if err != nil { return fmt.Errorf("init s3: %w", err) }

    runtime := vlm.NewRuntimeClient(cfg.Model)
    loadCtx, cancel := context.WithTimeout(ctx, cfg.Model.LoadTimeout)
    defer cancel()
    if err := runtime.Load(loadCtx); err != nil {
        return fmt.Errorf("load model: %w", err)
    }

    master, err := kvp.LoadMaster(cfg.Worker.MasterKVPsPath)
    if err != nil { return fmt.Errorf("load master key table: %w", err) }
    classifier, err := anon.LoadTokenClassifier(cfg.Worker.TokenRulesPath)
    if err != nil { return fmt.Errorf("load token rules: %w", err) }

    proc := processor.New(runtime, master, classifier)
    w := worker.New(workerID, cfg, b, store, gateway, proc)
    return w.Run(ctx)
}

// runPool is the parent process mode: supervise the workers and serve the
// HTTP surface.
func runPool(ctx context.Context, cfg cfgpkg.Config) error {
    b, err := bus.New(cfg.Redis)
    if err != nil { return fmt.Errorf("connect redis: %w", err) }
    defer b.Close()

    store, err := ledger.Open(cfg.Database.DSN())
    if err != nil { return fmt.Errorf("open ledger: %w", err) }
    defer store.Close()

    gateway, err := storage.NewGateway(ctx, cfg.S3)
    if err != nil { return fmt.Errorf("init s3: %w", err) }

    extractor := dispatch.NewExtractor(gateway, cfg.Worker.ScratchDir)
    dispatcher := dispatch.New(store, b, extractor)

    checker := statuscheck.New(statuscheck.Options{
        Redis:      b,
        Database:   store,
        Census:     b,
        S3Bucket:   cfg.S3.Bucket,
        RuntimeURL: cfg.Model.RuntimeURL,
    })

    mux := http.NewServeMux()
    api.New(dispatcher, store, b, checker).RegisterRoutes(mux)
    mux.Handle("/metrics", metrics.Handler())

    srv := &http.Server{Addr: ":" + cfg.Pool.HTTPPort, Handler: mux}
    go func() {
        log.Info().Msgf("HTTP server listening on :%s", cfg.Pool.HTTPPort)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    manager := pool.New(cfg, b)
    err = manager.Run(ctx)

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    return err
}
