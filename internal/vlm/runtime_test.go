package vlm

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/ocrworker/internal/config"
)

// fakeRuntime mimics the OpenAI-compatible surface of the model runtime.
type fakeRuntime struct {
    healthPolls atomic.Int32
    readyAfter  int32
    lastChatReq map[string]any
    chatOutput  string
    chatStatus  int
}

func (f *fakeRuntime) handler() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("POST /load", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
    })
    mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
        status := "loading"
        if f.healthPolls.Add(1) > f.readyAfter { status = "ready" }
        _ = json.NewEncoder(w).Encode(map[string]string{"status": status})
    })
    mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewDecoder(r.Body).Decode(&f.lastChatReq)
        if f.chatStatus != 0 {
            w.WriteHeader(f.chatStatus)
            return
        }
        _ = json.NewEncoder(w).Encode(map[string]any{
            "choices": []map[string]any{
                {"message": map[string]string{"content": f.chatOutput}},
            },
        })
    })
    return mux
}

func testClient(t *testing.T, f *fakeRuntime) *RuntimeClient {
    t.Helper()
    srv := httptest.NewServer(f.handler())
    t.Cleanup(srv.Close)
    return NewRuntimeClient(config.ModelConfig{
        Path:              "/models/doc-vlm",
        RuntimeURL:        srv.URL,
        GenerationTimeout: 10 * time.Second,
    })
}

func TestLoadPollsUntilReady(t *testing.T) {
    f := &fakeRuntime{readyAfter: 2}
    c := testClient(t, f)

    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    require.NoError(t, c.Load(ctx))
    assert.GreaterOrEqual(t, f.healthPolls.Load(), int32(3))
}

func TestLoadTimesOut(t *testing.T) {
    f := &fakeRuntime{readyAfter: 1 << 30}
    c := testClient(t, f)

    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    err := c.Load(ctx)
    require.Error(t, err)
    assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate(t *testing.T) {
    f := &fakeRuntime{chatOutput: "<span>out</span>"}
    c := testClient(t, f)

    imagePath := filepath.Join(t.TempDir(), "page.jpg")
    require.NoError(t, os.WriteFile(imagePath, []byte("fakejpeg"), 0o644))

    _, err := c.Generate(context.Background(), imagePath, "transcribe", ParamsFor(PurposeHTML))
    assert.ErrorIs(t, err, ErrNotLoaded, "generate before load is rejected")

    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    require.NoError(t, c.Load(ctx))

    out, err := c.Generate(context.Background(), imagePath, "transcribe", ParamsFor(PurposeHTML))
    require.NoError(t, err)
    assert.Equal(t, "<span>out</span>", out)

    assert.Equal(t, "/models/doc-vlm", f.lastChatReq["model"])
    assert.Equal(t, 0.1, f.lastChatReq["temperature"])
    assert.Equal(t, float64(16384), f.lastChatReq["max_tokens"])

    msgs := f.lastChatReq["messages"].([]any)
    content := msgs[0].(map[string]any)["content"].([]any)
    imageURL := content[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
    assert.True(t, strings.HasPrefix(imageURL, "data:image/jpeg;base64,"))
    assert.Equal(t, "transcribe", content[1].(map[string]any)["text"])
}

func TestGenerateErrors(t *testing.T) {
    f := &fakeRuntime{chatOutput: ""}
    c := testClient(t, f)
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    require.NoError(t, c.Load(ctx))

    imagePath := filepath.Join(t.TempDir(), "page.jpg")
    require.NoError(t, os.WriteFile(imagePath, []byte("fakejpeg"), 0o644))

    _, err := c.Generate(context.Background(), imagePath, "p", ParamsFor(PurposeJSON))
    assert.ErrorIs(t, err, ErrEmptyOutput)

    f.chatStatus = http.StatusInternalServerError
    _, err = c.Generate(context.Background(), imagePath, "p", ParamsFor(PurposeJSON))
    assert.ErrorContains(t, err, "generation status 500")

    _, err = c.Generate(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "p", ParamsFor(PurposeJSON))
    assert.ErrorContains(t, err, "read page image")
}
