// Package processor turns one (page, format) unit into its artifacts.
// Each format is a separate pipeline over the same page image; dispatch
// happens on the unit's format tag.
package processor

import (
    "context"
    "fmt"
    "regexp"
    "strings"
    "time"

    "github.com/local/ocrworker/internal/anon"
    "github.com/local/ocrworker/internal/kvp"
    "github.com/local/ocrworker/internal/metrics"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// Artifact is one output file ready for upload. Sealed artifacts are
// encrypted client-side before they leave the worker.
type Artifact struct {
    Label       string
    Ext         string
    ContentType string
    Data        []byte
    Sealed      bool
}

// Result collects the artifacts of one processed unit. Primary is always
// set; the rest depend on the format.
type Result struct {
    Primary       Artifact
    DerivedText   *Artifact
    SideJSON      *Artifact
    TokenizedText *Artifact
    Mapping       *Artifact
    Audit         *Artifact
    Language      string
    SoftError     string
}

// Processor runs the per-format pipelines against one model generator.
type Processor struct {
    gen        vlm.Generator
    master     *kvp.MasterTable
    classifier *anon.TokenClassifier
}

// New wires a processor. master may be nil (open-ended kvp extraction).
func New(gen vlm.Generator, master *kvp.MasterTable, classifier *anon.TokenClassifier) *Processor {
    if classifier == nil { classifier = anon.NewTokenClassifier() }
    return &Processor{gen: gen, master: master, classifier: classifier}
}

// Process runs the pipeline selected by the unit's format.
func (p *Processor) Process(ctx context.Context, msg task.QueueMessage, imagePath string) (Result, error) {
    switch msg.FormatType {
    case task.FormatHTML:
        return p.processHTML(ctx, msg, imagePath)
    case task.FormatJSON:
        return p.processJSON(ctx, msg, imagePath)
    case task.FormatKVP:
        return p.processKVP(ctx, msg, imagePath)
    case task.FormatAnon:
        return p.processAnon(ctx, msg, imagePath)
    }
    return Result{}, fmt.Errorf("unsupported format type %q", msg.FormatType)
}

// generate wraps the model call with purpose-tagged timing.
func (p *Processor) generate(ctx context.Context, imagePath, prompt string, purpose vlm.Purpose) (string, error) {
    started := time.Now()
    out, err := p.gen.Generate(ctx, imagePath, prompt, vlm.ParamsFor(purpose))
    metrics.ObserveGeneration(string(purpose), time.Since(started))
    if err != nil {
        return "", fmt.Errorf("%s generation: %w", purpose, err)
    }
    return out, nil
}

var (
    fenceOpenRe  = regexp.MustCompile("^```[a-z]*\\s*\\n?")
    fenceCloseRe = regexp.MustCompile("\\n?```\\s*$")
    jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
    s = strings.TrimSpace(s)
    if !strings.HasPrefix(s, "```") { return s }
    s = fenceOpenRe.ReplaceAllString(s, "")
    return fenceCloseRe.ReplaceAllString(s, "")
}

// firstJSONObject returns the outermost {...} region of a model output.
func firstJSONObject(s string) (string, bool) {
    m := jsonObjectRe.FindString(s)
    return m, m != ""
}
