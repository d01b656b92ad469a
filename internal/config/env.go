package config

import (
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// RedisConfig defines bus connectivity, key names and TLS material.
type RedisConfig struct {
    URL              string
    QueueKey         string
    TaskDataPrefix   string
    UpdatesChannel   string
    NotifyChannel    string
    UserNotifyPrefix string
    MetadataTTL      time.Duration
    TLSCACert        string
    TLSCert          string
    TLSKey           string
}

// DatabaseConfig defines the relational ledger connection.
type DatabaseConfig struct {
    Host     string
    Port     int
    Name     string
    User     string
    Password string
    SSLMode  string
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
    return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
        d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// S3Config defines object store access.
type S3Config struct {
    Bucket   string
    Region   string
    KMSKeyID string
    // MappingPassphrase seals anonymization mapping/audit artifacts
    // client-side before upload; empty disables sealing.
    MappingPassphrase string
}

// ModelConfig defines the VLM runtime the adapter talks to.
type ModelConfig struct {
    Path              string
    RuntimeURL        string
    LoadTimeout       time.Duration
    GenerationTimeout time.Duration
}

// WorkerConfig defines per-worker behavior.
type WorkerConfig struct {
    PopTimeout     time.Duration
    ReadyTTL       time.Duration
    ScratchDir     string
    MasterKVPsPath string
    TokenRulesPath string
}

// PoolConfig defines supervisor behavior.
type PoolConfig struct {
    Environment     string
    CountOverride   int
    VRAMGB          float64
    SpawnTimeout    time.Duration
    MonitorInterval time.Duration
    CensusTTL       time.Duration
    StopGrace       time.Duration
    HTTPPort        string
}

// Config is the top-level configuration.
type Config struct {
    Logging  LoggingConfig
    Axiom    AxiomConfig
    Redis    RedisConfig
    Database DatabaseConfig
    S3       S3Config
    Model    ModelConfig
    Worker   WorkerConfig
    Pool     PoolConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/ocrworker.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_ocrworker",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.Redis = RedisConfig{
        URL:              getEnv("REDIS_URL", "redis://localhost:6379"),
        QueueKey:         getEnv("TASK_QUEUE_KEY", "ocr:task:queue"),
        TaskDataPrefix:   getEnv("TASK_DATA_KEY_PREFIX", "ocr:task:data:"),
        UpdatesChannel:   getEnv("TASK_UPDATES_CHANNEL", "ocr:task:updates"),
        NotifyChannel:    getEnv("NOTIFICATIONS_CHANNEL", "ocr:notifications"),
        UserNotifyPrefix: getEnv("USER_NOTIFICATIONS_CHANNEL_PREFIX", "ocr:notifications:user:"),
        MetadataTTL:      parseDuration(getEnv("TASK_METADATA_TTL", "24h"), 24*time.Hour),
        TLSCACert:        getEnv("REDIS_TLS_CA_CERT", ""),
        TLSCert:          getEnv("REDIS_TLS_CERT", ""),
        TLSKey:           getEnv("REDIS_TLS_KEY", ""),
    }

    cfg.Database = DatabaseConfig{
        Host:     getEnv("DB_HOST", "localhost"),
        Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
        Name:     getEnv("DB_NAME", "ocr_platform_dev"),
        User:     getEnv("DB_USER", "ocr_platform_user"),
        Password: getEnv("DB_PASSWORD", ""),
        SSLMode:  getEnv("DB_SSLMODE", "disable"),
    }

    cfg.S3 = S3Config{
        Bucket:            getEnv("S3_BUCKET_NAME", ""),
        Region:            getEnv("AWS_REGION", "us-east-1"),
        KMSKeyID:          getEnv("KMS_KEY_ID", ""),
        MappingPassphrase: getEnv("ANON_MAPPING_PASSPHRASE", ""),
    }

    cfg.Model = ModelConfig{
        Path:              getEnv("MODEL_PATH", "models/qwen3_vl_8b_model"),
        RuntimeURL:        getEnv("MODEL_RUNTIME_URL", "http://127.0.0.1:8091"),
        LoadTimeout:       parseDuration(getEnv("MODEL_LOAD_TIMEOUT", "120s"), 120*time.Second),
        GenerationTimeout: parseDuration(getEnv("PROCESSING_TIMEOUT", "300s"), 300*time.Second),
    }

    cfg.Worker = WorkerConfig{
        PopTimeout:     parseDuration(getEnv("POLL_INTERVAL", "5s"), 5*time.Second),
        ReadyTTL:       parseDuration(getEnv("WORKER_READY_TTL", "60s"), 60*time.Second),
        ScratchDir:     getEnv("OUTPUT_DIR", "output"),
        MasterKVPsPath: getEnv("MASTER_KVPS_PATH", "master_kvps.json"),
        TokenRulesPath: getEnv("ANON_TOKEN_RULES_PATH", ""),
    }

    cfg.Pool = PoolConfig{
        Environment:     getEnv("NODE_ENV", "development"),
        CountOverride:   parseInt(getEnv("WORKER_CONCURRENCY", "0"), 0),
        VRAMGB:          parseFloat(getEnv("VRAM_GB", "0"), 0),
        SpawnTimeout:    parseDuration(getEnv("WORKER_SPAWN_TIMEOUT", "120s"), 120*time.Second),
        MonitorInterval: parseDuration(getEnv("POOL_MONITOR_INTERVAL", "5s"), 5*time.Second),
        CensusTTL:       parseDuration(getEnv("WORKER_CENSUS_TTL", "60s"), 60*time.Second),
        StopGrace:       parseDuration(getEnv("WORKER_STOP_GRACE", "10s"), 10*time.Second),
        HTTPPort:        getEnv("PORT", "8080"),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("NODE_ENV"))
    if env == "" || env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
