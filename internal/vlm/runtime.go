package vlm

import (
    "bytes"
    "context"
    "encoding/base64"
    "encoding/json"
    "fmt"
    "net/http"
    "os"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/config"
)

// RuntimeClient talks to the local model runtime over its OpenAI-compatible
// HTTP surface. One instance per worker process; the runtime serializes
// generations internally so callers must not share it across goroutines.
type RuntimeClient struct {
    http       *http.Client
    baseURL    string
    modelPath  string
    genTimeout time.Duration
    loaded     bool
}

// NewRuntimeClient builds an unloaded client. Call Load before Generate.
func NewRuntimeClient(cfg config.ModelConfig) *RuntimeClient {
    return &RuntimeClient{
        http:       &http.Client{},
        baseURL:    cfg.RuntimeURL,
        modelPath:  cfg.Path,
        genTimeout: cfg.GenerationTimeout,
    }
}

type loadReq struct {
    Model string `json:"model"`
}

type healthResp struct {
    Status string `json:"status"`
    Model  string `json:"model,omitempty"`
}

// Load asks the runtime to load the model and polls health until it
// reports ready. The deadline comes from the caller's context.
func (c *RuntimeClient) Load(ctx context.Context) error {
    started := time.Now()
    body, _ := json.Marshal(loadReq{Model: c.modelPath})
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/load", bytes.NewReader(body))
    if err != nil { return err }
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("model load request: %w", err) }
    resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return fmt.Errorf("model load status %d", resp.StatusCode)
    }

    ticker := time.NewTicker(2 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return fmt.Errorf("model load: %w", ctx.Err())
        case <-ticker.C:
            ready, err := c.healthy(ctx)
            if err != nil {
                log.Debug().Err(err).Msg("model health probe failed, retrying")
                continue
            }
            if ready {
                c.loaded = true
                log.Info().Str("model", c.modelPath).Dur("elapsed", time.Since(started)).Msg("model loaded")
                return nil
            }
        }
    }
}

func (c *RuntimeClient) healthy(ctx context.Context) (bool, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
    if err != nil { return false, err }
    resp, err := c.http.Do(req)
    if err != nil { return false, err }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK { return false, nil }
    var h healthResp
    if err := json.NewDecoder(resp.Body).Decode(&h); err != nil { return false, err }
    return h.Status == "ready" || h.Status == "ok", nil
}

type chatMessage struct {
    Role    string           `json:"role"`
    Content []map[string]any `json:"content"`
}

type chatReq struct {
    Model             string        `json:"model"`
    Messages          []chatMessage `json:"messages"`
    Temperature       float64       `json:"temperature"`
    MaxTokens         int           `json:"max_tokens,omitempty"`
    TopP              float64       `json:"top_p,omitempty"`
    RepetitionPenalty float64       `json:"repetition_penalty,omitempty"`
}

type chatResp struct {
    Choices []struct {
        Message struct {
            Content string `json:"content"`
        } `json:"message"`
    } `json:"choices"`
}

// Generate runs one generation over the page image at imagePath.
func (c *RuntimeClient) Generate(ctx context.Context, imagePath, prompt string, p Params) (string, error) {
    if !c.loaded { return "", ErrNotLoaded }
    img, err := os.ReadFile(imagePath)
    if err != nil { return "", fmt.Errorf("read page image: %w", err) }
    dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)

    payload := chatReq{
        Model: c.modelPath,
        Messages: []chatMessage{{
            Role: "user",
            Content: []map[string]any{
                {"type": "image_url", "image_url": map[string]string{"url": dataURL}},
                {"type": "text", "text": prompt},
            },
        }},
        Temperature:       p.Temperature,
        MaxTokens:         p.MaxTokens,
        TopP:              p.TopP,
        RepetitionPenalty: p.RepetitionPenalty,
    }
    body, _ := json.Marshal(payload)

    genCtx, cancel := context.WithTimeout(ctx, c.genTimeout)
    defer cancel()
    req, err := http.NewRequestWithContext(genCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
    if err != nil { return "", err }
    req.Header.Set("Content-Type", "application/json")

    resp, err := c.http.Do(req)
    if err != nil { return "", fmt.Errorf("generation request: %w", err) }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return "", fmt.Errorf("generation status %d", resp.StatusCode)
    }
    var r chatResp
    if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
        return "", fmt.Errorf("decode generation response: %w", err)
    }
    if len(r.Choices) == 0 || r.Choices[0].Message.Content == "" {
        return "", ErrEmptyOutput
    }
    return r.Choices[0].Message.Content, nil
}
