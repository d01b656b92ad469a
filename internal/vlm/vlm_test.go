package vlm

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestParamsFor(t *testing.T) {
    lang := ParamsFor(PurposeLanguage)
    assert.Equal(t, 0.0, lang.Temperature)
    assert.Equal(t, 20, lang.MaxTokens)

    html := ParamsFor(PurposeHTML)
    assert.Equal(t, 0.1, html.Temperature)
    assert.Equal(t, 16384, html.MaxTokens)
    assert.Equal(t, 0.4, html.TopP)
    assert.Equal(t, 1.05, html.RepetitionPenalty)

    js := ParamsFor(PurposeJSON)
    assert.Equal(t, 0.0, js.Temperature)
    assert.Equal(t, 4096, js.MaxTokens)

    assert.Equal(t, 20480, ParamsFor(PurposeKVP).MaxTokens)
    assert.Equal(t, ParamsFor(PurposeKVP), ParamsFor(PurposeAnon))
}
