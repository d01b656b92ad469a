package processor

import (
    "context"
    "encoding/json"

    "github.com/local/ocrworker/internal/kvp"
    "github.com/local/ocrworker/internal/prompts"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// processKVP runs structured extraction against the master key table. The
// rendered HTML report is the primary artifact; the normalized (or
// structured) JSON rides along for programmatic consumers. Unparseable
// model output is a soft failure: the unit completes with a diagnostic
// artifact instead.
func (p *Processor) processKVP(ctx context.Context, msg task.QueueMessage, imagePath string) (Result, error) {
    prompt := prompts.KVPExtraction(msg.SelectedKVPs)
    out, err := p.generate(ctx, imagePath, prompt, vlm.PurposeKVP)
    if err != nil { return Result{}, err }

    region, found := firstJSONObject(stripFences(out))
    if !found {
        return p.parseSoftFail(msg, "kvp", "no valid json", out), nil
    }
    var raw kvp.RawExtraction
    if err := json.Unmarshal([]byte(region), &raw); err != nil {
        return p.parseSoftFail(msg, "kvp", "invalid json", out), nil
    }

    var htmlOut string
    var sideJSON []byte
    if len(msg.SelectedKVPs) > 0 {
        structured := kvp.BuildStructured(raw, msg.SelectedKVPs, kvp.BuildAliasMap(p.master))
        htmlOut = kvp.RenderStructuredHTML(structured)
        sideJSON, err = json.MarshalIndent(map[string]any{
            "structured":    structured.Values,
            "selected_kvps": msg.SelectedKVPs,
        }, "", "  ")
    } else {
        normalized := kvp.Normalize(raw, p.master)
        htmlOut = kvp.RenderHTML(normalized)
        sideJSON, err = json.MarshalIndent(normalized, "", "  ")
    }
    if err != nil { return Result{}, err }

    return Result{
        Primary: Artifact{
            Label: "kvp", Ext: "html", ContentType: "text/html",
            Data: []byte(htmlOut),
        },
        SideJSON: &Artifact{
            Label: "kvp", Ext: "json", ContentType: "application/json",
            Data: sideJSON,
        },
    }, nil
}
