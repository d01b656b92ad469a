package statuscheck

import (
    "context"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeCensus struct {
    n   int
    err error
}

func (f fakeCensus) WorkerCensus(context.Context) (int, error) { return f.n, f.err }

func runtimeServer(t *testing.T, status int, body string) string {
    t.Helper()
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(status)
        _, _ = w.Write([]byte(body))
    }))
    t.Cleanup(srv.Close)
    return srv.URL
}

func TestSummaryHealthy(t *testing.T) {
    c := New(Options{
        Redis:      fakePinger{},
        Database:   fakePinger{},
        Census:     fakeCensus{n: 2},
        RuntimeURL: runtimeServer(t, http.StatusOK, `{"status":"ready"}`),
    })

    s := c.Summary(context.Background())
    assert.True(t, s.Redis.OK)
    assert.True(t, s.Database.OK)
    assert.True(t, s.ModelRuntime.OK)
    assert.True(t, s.Workers.OK)
    assert.Equal(t, "2 workers", s.Workers.Message)

    assert.False(t, s.S3.OK)
    assert.Equal(t, "Bucket not configured", s.S3.Message)
}

func TestSummaryDegraded(t *testing.T) {
    c := New(Options{
        Redis:      fakePinger{err: fmt.Errorf("connection refused")},
        Database:   nil,
        Census:     fakeCensus{n: 0},
        RuntimeURL: runtimeServer(t, http.StatusOK, `{"status":"loading"}`),
    })

    s := c.Summary(context.Background())
    assert.False(t, s.Redis.OK)
    assert.Equal(t, "connection refused", s.Redis.Message)
    assert.False(t, s.Database.OK)
    assert.Equal(t, "client unavailable", s.Database.Message)
    assert.False(t, s.ModelRuntime.OK)
    assert.Equal(t, "model not loaded", s.ModelRuntime.Message)
    assert.False(t, s.Workers.OK)
    assert.Equal(t, "no workers reporting", s.Workers.Message)
}

func TestCheckRuntime(t *testing.T) {
    t.Run("not configured", func(t *testing.T) {
        s := New(Options{}).Summary(context.Background())
        assert.Equal(t, "Runtime URL not configured", s.ModelRuntime.Message)
    })

    t.Run("http error", func(t *testing.T) {
        c := New(Options{RuntimeURL: runtimeServer(t, http.StatusBadGateway, "")})
        s := c.Summary(context.Background())
        assert.Equal(t, "HTTP 502", s.ModelRuntime.Message)
    })

    t.Run("malformed body", func(t *testing.T) {
        c := New(Options{RuntimeURL: runtimeServer(t, http.StatusOK, "not-json")})
        s := c.Summary(context.Background())
        assert.Equal(t, "malformed health response", s.ModelRuntime.Message)
    })
}

func TestTrimError(t *testing.T) {
    assert.Equal(t, "", trimError(nil))
    assert.Equal(t, "short", trimError(fmt.Errorf("short")))

    long := fmt.Errorf("%s", strings.Repeat("x", 300))
    assert.Len(t, trimError(long), 120)
}
