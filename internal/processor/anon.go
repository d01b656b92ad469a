package processor

import (
    "context"
    "encoding/json"
    "strings"

    "github.com/local/ocrworker/internal/anon"
    "github.com/local/ocrworker/internal/prompts"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// processAnon extracts everything from the page, then rewrites personal
// data per the requested strategy. The mapping and optional audit trail
// are sealed before they ever leave the worker. Unparseable model output
// is a soft failure, same as the other JSON-parsed formats.
func (p *Processor) processAnon(ctx context.Context, msg task.QueueMessage, imagePath string) (Result, error) {
    prompt := prompts.AnonExtraction(msg.AnonSelectedFields)
    out, err := p.generate(ctx, imagePath, prompt, vlm.PurposeAnon)
    if err != nil { return Result{}, err }

    region, found := firstJSONObject(stripFences(out))
    if !found {
        return p.parseSoftFail(msg, "anon", "no valid json", out), nil
    }
    var doc anon.Document
    if err := json.Unmarshal([]byte(region), &doc); err != nil {
        return p.parseSoftFail(msg, "anon", "invalid json", out), nil
    }

    strategy, err := task.ParseAnonStrategy(string(msg.AnonStrategy))
    if err != nil { return Result{}, err }
    a := anon.New(strategy)
    audit, mapping := a.Document(&doc, msg.AnonGenerateAudit)
    lines, tokenMap := p.classifier.Tokenize(mapping)

    docJSON, err := json.MarshalIndent(doc, "", "  ")
    if err != nil { return Result{}, err }
    mappingJSON, err := json.MarshalIndent(tokenMap, "", "  ")
    if err != nil { return Result{}, err }

    result := Result{
        Primary: Artifact{
            Label: "anon", Ext: "json", ContentType: "application/json",
            Data: docJSON,
        },
        TokenizedText: &Artifact{
            Label: "anon", Ext: "txt", ContentType: "text/plain",
            Data: []byte(strings.Join(lines, "\n")),
        },
        Mapping: &Artifact{
            Label: "anon_mapping", Ext: "json", ContentType: "application/json",
            Data: mappingJSON, Sealed: true,
        },
    }

    if msg.AnonGenerateAudit {
        auditJSON, err := json.MarshalIndent(audit, "", "  ")
        if err != nil { return Result{}, err }
        result.Audit = &Artifact{
            Label: "anon_audit", Ext: "json", ContentType: "application/json",
            Data: auditJSON, Sealed: true,
        }
    }
    return result, nil
}
