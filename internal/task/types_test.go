package task

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
    for _, s := range []string{"html", "json", "kvp", "anon", "txt"} {
        f, err := ParseFormat(s)
        require.NoError(t, err)
        assert.Equal(t, Format(s), f)
    }
    _, err := ParseFormat("pdf")
    assert.Error(t, err)
    _, err = ParseFormat("")
    assert.Error(t, err)
}

func TestFormatDerived(t *testing.T) {
    assert.True(t, FormatTXT.Derived())
    assert.False(t, FormatHTML.Derived())
    assert.False(t, FormatAnon.Derived())
}

func TestStatusTerminal(t *testing.T) {
    assert.True(t, StatusCompleted.Terminal())
    assert.True(t, StatusFailed.Terminal())
    assert.False(t, StatusPending.Terminal())
    assert.False(t, StatusProcessing.Terminal())
}

func TestParseAnonStrategy(t *testing.T) {
    st, err := ParseAnonStrategy("")
    require.NoError(t, err)
    assert.Equal(t, AnonSynthetic, st, "empty defaults to synthetic")

    st, err = ParseAnonStrategy("mask")
    require.NoError(t, err)
    assert.Equal(t, AnonMask, st)

    _, err = ParseAnonStrategy("scramble")
    assert.Error(t, err)
}

func TestSelectedFieldName(t *testing.T) {
    assert.Equal(t, "invoice_number", SelectedField{KeyName: "invoice_number"}.Name())
    assert.Equal(t, "warranty id", SelectedField{CustomKeyName: "warranty id"}.Name())
    assert.Equal(t, "invoice_number", SelectedField{KeyName: "invoice_number", CustomKeyName: "ignored"}.Name())
}

func TestQueueMessageRoundTrip(t *testing.T) {
    msg := QueueMessage{
        TaskID:       "t1",
        UserID:       "user-1",
        PageNumber:   3,
        TotalPages:   7,
        FormatType:   FormatKVP,
        PageImageKey: "uploads/user-1/2026-08/f1/page_3.jpg",
        SelectedKVPs: []SelectedField{{KeyName: "invoice_number"}},
    }
    payload, err := msg.Encode()
    require.NoError(t, err)

    got, err := DecodeMessage(payload)
    require.NoError(t, err)
    assert.Equal(t, msg, got)
}

func TestDecodeMessageValidation(t *testing.T) {
    _, err := DecodeMessage([]byte("{not json"))
    assert.Error(t, err)

    _, err = DecodeMessage([]byte(`{"page_number":1,"format_type":"html"}`))
    assert.Error(t, err, "missing task id")

    _, err = DecodeMessage([]byte(`{"task_id":"t1","page_number":0,"format_type":"html"}`))
    assert.Error(t, err, "page numbers are 1-based")

    _, err = DecodeMessage([]byte(`{"task_id":"t1","page_number":1,"format_type":"docx"}`))
    assert.Error(t, err, "unknown format")
}

func TestEffectiveTaskID(t *testing.T) {
    assert.Equal(t, "t1", QueueMessage{TaskID: "t1"}.EffectiveTaskID())
    assert.Equal(t, "parent", QueueMessage{TaskID: "t1", ParentTaskID: "parent"}.EffectiveTaskID())
}
