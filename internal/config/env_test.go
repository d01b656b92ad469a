package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
    cfg := FromEnv()

    assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
    assert.Equal(t, "ocr:task:queue", cfg.Redis.QueueKey)
    assert.Equal(t, "ocr:task:data:", cfg.Redis.TaskDataPrefix)
    assert.Equal(t, 24*time.Hour, cfg.Redis.MetadataTTL)

    assert.Equal(t, 5432, cfg.Database.Port)
    assert.Equal(t, "disable", cfg.Database.SSLMode)

    assert.Equal(t, "us-east-1", cfg.S3.Region)
    assert.Empty(t, cfg.S3.MappingPassphrase)

    assert.Equal(t, 120*time.Second, cfg.Model.LoadTimeout)
    assert.Equal(t, 300*time.Second, cfg.Model.GenerationTimeout)

    assert.Equal(t, 5*time.Second, cfg.Worker.PopTimeout)
    assert.Equal(t, 60*time.Second, cfg.Worker.ReadyTTL)
    assert.Equal(t, "master_kvps.json", cfg.Worker.MasterKVPsPath)

    assert.Equal(t, "development", cfg.Pool.Environment)
    assert.Zero(t, cfg.Pool.CountOverride)
    assert.Equal(t, "8080", cfg.Pool.HTTPPort)
}

func TestFromEnvOverrides(t *testing.T) {
    t.Setenv("REDIS_URL", "rediss://cache:6380")
    t.Setenv("WORKER_CONCURRENCY", "2")
    t.Setenv("VRAM_GB", "80")
    t.Setenv("NODE_ENV", "production")
    t.Setenv("TASK_METADATA_TTL", "48h")
    t.Setenv("ANON_MAPPING_PASSPHRASE", "secret")

    cfg := FromEnv()
    assert.Equal(t, "rediss://cache:6380", cfg.Redis.URL)
    assert.Equal(t, 2, cfg.Pool.CountOverride)
    assert.Equal(t, 80.0, cfg.Pool.VRAMGB)
    assert.Equal(t, "production", cfg.Pool.Environment)
    assert.Equal(t, 48*time.Hour, cfg.Redis.MetadataTTL)
    assert.Equal(t, "secret", cfg.S3.MappingPassphrase)
    assert.False(t, cfg.Logging.Pretty, "production defaults to structured output")
}

func TestParseHelpers(t *testing.T) {
    assert.True(t, parseBool("1"))
    assert.True(t, parseBool("TRUE"))
    assert.True(t, parseBool("yes"))
    assert.False(t, parseBool("0"))
    assert.False(t, parseBool(""))

    assert.Equal(t, 7, parseInt("7", 0))
    assert.Equal(t, 3, parseInt("junk", 3))
    assert.Equal(t, 2.5, parseFloat("2.5", 0))
    assert.Equal(t, time.Minute, parseDuration("60s", 0))
    assert.Equal(t, time.Hour, parseDuration("junk", time.Hour))
}
