package vlm

import (
    "context"
    "errors"
)

// Purpose selects a decoding profile. Layout transcription tolerates a
// little sampling noise; extraction purposes run greedy.
type Purpose string

const (
    PurposeLanguage Purpose = "language"
    PurposeHTML     Purpose = "html"
    PurposeJSON     Purpose = "json"
    PurposeKVP      Purpose = "kvp"
    PurposeAnon     Purpose = "anon"
)

// Params are the decoding parameters for one generation call.
type Params struct {
    Temperature       float64
    MaxTokens         int
    TopP              float64
    RepetitionPenalty float64
}

// ParamsFor returns the tuned decoding profile for a purpose.
func ParamsFor(p Purpose) Params {
    switch p {
    case PurposeLanguage:
        return Params{Temperature: 0.0, MaxTokens: 20, TopP: 1.0, RepetitionPenalty: 1.0}
    case PurposeHTML:
        return Params{Temperature: 0.1, MaxTokens: 16384, TopP: 0.4, RepetitionPenalty: 1.05}
    case PurposeJSON:
        return Params{Temperature: 0.0, MaxTokens: 4096, TopP: 1.0, RepetitionPenalty: 1.0}
    case PurposeKVP, PurposeAnon:
        return Params{Temperature: 0.0, MaxTokens: 20480, TopP: 1.0, RepetitionPenalty: 1.0}
    }
    return Params{Temperature: 0.0, MaxTokens: 4096, TopP: 1.0, RepetitionPenalty: 1.0}
}

var (
    ErrNotLoaded   = errors.New("model not loaded")
    ErrEmptyOutput = errors.New("model returned empty output")
)

// Generator runs one vision-language generation over a page image.
// Implementations are not safe for concurrent use; each worker owns one.
type Generator interface {
    Generate(ctx context.Context, imagePath, prompt string, p Params) (string, error)
}
