package processor

import (
    "context"
    "fmt"
    "image"
    _ "image/jpeg"
    _ "image/png"
    "os"
    "strings"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/prompts"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// processHTML runs the layout pipeline: probe dimensions, detect language,
// transcribe the page into positioned spans, derive plain text, and
// reconstruct the final page.
func (p *Processor) processHTML(ctx context.Context, msg task.QueueMessage, imagePath string) (Result, error) {
    width, height, err := imageDimensions(imagePath)
    if err != nil { return Result{}, err }

    language, err := p.detectLanguage(ctx, imagePath)
    if err != nil { return Result{}, err }
    log.Debug().Str("task_id", msg.EffectiveTaskID()).Int("page", msg.PageNumber).
        Str("language", language).Msg("language detected")

    prompt := prompts.HTMLSystem + "\n\n" + prompts.HTMLUser(language)
    raw, err := p.generate(ctx, imagePath, prompt, vlm.PurposeHTML)
    if err != nil { return Result{}, err }
    raw = stripFences(raw)

    plain := ExtractPlainText(raw)
    final := Reconstruct(raw, width, height, language)

    return Result{
        Primary: Artifact{
            Label: "html", Ext: "html", ContentType: "text/html",
            Data: []byte(final),
        },
        DerivedText: &Artifact{
            Label: "txt", Ext: "txt", ContentType: "text/plain",
            Data: []byte(plain),
        },
        Language: language,
    }, nil
}

// detectLanguage asks for the document language and keeps the first line.
func (p *Processor) detectLanguage(ctx context.Context, imagePath string) (string, error) {
    prompt := "You are a language detection assistant.\n\n" + prompts.LanguageDetection
    out, err := p.generate(ctx, imagePath, prompt, vlm.PurposeLanguage)
    if err != nil { return "", err }
    line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
    line = strings.Trim(line, `"'.`)
    if line == "" { line = "English" }
    return line, nil
}

func imageDimensions(path string) (int, int, error) {
    f, err := os.Open(path)
    if err != nil { return 0, 0, fmt.Errorf("open page image: %w", err) }
    defer f.Close()
    cfg, _, err := image.DecodeConfig(f)
    if err != nil { return 0, 0, fmt.Errorf("decode page image dimensions: %w", err) }
    return cfg.Width, cfg.Height, nil
}
