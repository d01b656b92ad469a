package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    unitsProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "ocrworker",
            Name:      "units_processed_total",
            Help:      "Total page units processed by format and result",
        },
        []string{"format", "result"},
    )

    unitDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "ocrworker",
            Name:      "unit_duration_seconds",
            Help:      "End-to-end page unit duration by format",
            Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
        },
        []string{"format"},
    )

    modelDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "ocrworker",
            Name:      "model_generation_duration_seconds",
            Help:      "Model generation call duration by purpose",
            Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
        },
        []string{"purpose"},
    )

    tasksFinished = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "ocrworker",
            Name:      "tasks_finished_total",
            Help:      "Tasks reaching a terminal status",
        },
        []string{"status"},
    )

    queueDepth = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "ocrworker",
            Name:      "queue_depth",
            Help:      "Pending page units on the task queue",
        },
    )

    workersReady = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "ocrworker",
            Name:      "workers_ready",
            Help:      "Worker processes currently reporting ready",
        },
    )

    workerRestarts = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "ocrworker",
            Name:      "worker_restarts_total",
            Help:      "Worker processes restarted by the pool manager",
        },
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(unitsProcessed, unitDuration, modelDuration, tasksFinished, queueDepth, workersReady, workerRestarts)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveUnit(format, result string, dur time.Duration) {
    unitsProcessed.WithLabelValues(format, result).Inc()
    unitDuration.WithLabelValues(format).Observe(dur.Seconds())
}

func ObserveGeneration(purpose string, dur time.Duration) {
    modelDuration.WithLabelValues(purpose).Observe(dur.Seconds())
}

func IncTaskFinished(status string) { tasksFinished.WithLabelValues(status).Inc() }

func SetQueueDepth(v int64)   { queueDepth.Set(float64(v)) }
func SetWorkersReady(n int)   { workersReady.Set(float64(n)) }
func IncWorkerRestart()       { workerRestarts.Inc() }
