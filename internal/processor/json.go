package processor

import (
    "context"
    "encoding/json"

    "github.com/rs/zerolog/log"

    "github.com/local/ocrworker/internal/prompts"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// jsonFailure is the diagnostic artifact written when the model output
// cannot be parsed. This applies to every JSON-parsed format (json, kvp,
// anon): the unit still completes and downstream consumers see the
// failure in the artifact itself.
type jsonFailure struct {
    Error      string `json:"error"`
    RawOutput  string `json:"raw_output"`
    PageNumber int    `json:"page_number"`
    Message    string `json:"message"`
}

// processJSON runs open key-value extraction. Parse failures are soft:
// they produce a diagnostic artifact instead of failing the unit.
func (p *Processor) processJSON(ctx context.Context, msg task.QueueMessage, imagePath string) (Result, error) {
    prompt := prompts.JSONSystem + "\n\n" + prompts.JSONUser
    out, err := p.generate(ctx, imagePath, prompt, vlm.PurposeJSON)
    if err != nil { return Result{}, err }

    region, found := firstJSONObject(stripFences(out))
    if found {
        var parsed map[string]any
        if err := json.Unmarshal([]byte(region), &parsed); err == nil {
            data, err := json.MarshalIndent(parsed, "", "  ")
            if err != nil { return Result{}, err }
            return Result{Primary: Artifact{
                Label: "json", Ext: "json", ContentType: "application/json", Data: data,
            }}, nil
        }
        return p.parseSoftFail(msg, "json", "invalid json", out), nil
    }
    return p.parseSoftFail(msg, "json", "no valid json", out), nil
}

func (p *Processor) parseSoftFail(msg task.QueueMessage, label, reason, raw string) Result {
    log.Warn().Str("task_id", msg.EffectiveTaskID()).Int("page", msg.PageNumber).
        Str("format", label).Str("reason", reason).Msg("extraction produced unparseable output")
    diag := jsonFailure{
        Error:      reason,
        RawOutput:  raw,
        PageNumber: msg.PageNumber,
        Message:    "model output could not be parsed as JSON",
    }
    data, _ := json.MarshalIndent(diag, "", "  ")
    return Result{
        Primary:   Artifact{Label: label, Ext: "json", ContentType: "application/json", Data: data},
        SoftError: reason,
    }
}
