package processor

import (
    "context"
    "encoding/json"
    "fmt"
    "image"
    "image/jpeg"
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/ocrworker/internal/anon"
    "github.com/local/ocrworker/internal/task"
    "github.com/local/ocrworker/internal/vlm"
)

// scriptedGen replays canned model outputs in call order.
type scriptedGen struct {
    outputs []string
    err     error
    params  []vlm.Params
}

func (g *scriptedGen) Generate(_ context.Context, _, _ string, p vlm.Params) (string, error) {
    g.params = append(g.params, p)
    if g.err != nil { return "", g.err }
    if len(g.outputs) == 0 { return "", fmt.Errorf("no scripted output left") }
    out := g.outputs[0]
    g.outputs = g.outputs[1:]
    return out, nil
}

func pageImage(t *testing.T, w, h int) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "page_1.jpg")
    f, err := os.Create(path)
    require.NoError(t, err)
    defer f.Close()
    require.NoError(t, jpeg.Encode(f, image.NewGray(image.Rect(0, 0, w, h)), nil))
    return path
}

func TestStripFences(t *testing.T) {
    assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
    assert.Equal(t, "<div></div>", stripFences("```html\n<div></div>\n```"))
    assert.Equal(t, "plain", stripFences("  plain  "))
    assert.Equal(t, "inner ``` ticks", stripFences("inner ``` ticks"))
}

func TestFirstJSONObject(t *testing.T) {
    got, ok := firstJSONObject(`noise {"a": {"b": 1}} trailing`)
    require.True(t, ok)
    assert.Equal(t, `{"a": {"b": 1}}`, got)

    _, ok = firstJSONObject("nothing here")
    assert.False(t, ok)
}

func TestProcessHTML(t *testing.T) {
    gen := &scriptedGen{outputs: []string{
        "German\n",
        "```html\n<span data-bbox=\"100 100 500 140\">Hello World</span>\n```",
    }}
    p := New(gen, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatHTML}

    res, err := p.Process(context.Background(), msg, pageImage(t, 1000, 1000))
    require.NoError(t, err)

    assert.Equal(t, "German", res.Language)
    assert.Equal(t, "html", res.Primary.Label)
    assert.Equal(t, "text/html", res.Primary.ContentType)
    assert.Contains(t, string(res.Primary.Data), `lang="de"`)
    assert.Contains(t, string(res.Primary.Data), "Hello World")

    require.NotNil(t, res.DerivedText)
    assert.Equal(t, "txt", res.DerivedText.Label)
    assert.Equal(t, "Hello World", string(res.DerivedText.Data))
    assert.Empty(t, res.SoftError)

    require.Len(t, gen.params, 2)
    assert.Equal(t, vlm.ParamsFor(vlm.PurposeLanguage), gen.params[0])
    assert.Equal(t, vlm.ParamsFor(vlm.PurposeHTML), gen.params[1])
}

func TestProcessHTMLLanguageFallback(t *testing.T) {
    gen := &scriptedGen{outputs: []string{
        "\"\"\n", // quotes strip to nothing
        `<span data-bbox="10 10 400 40">x</span>`,
    }}
    p := New(gen, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatHTML}

    res, err := p.Process(context.Background(), msg, pageImage(t, 500, 500))
    require.NoError(t, err)
    assert.Equal(t, "English", res.Language)
}

func TestProcessJSON(t *testing.T) {
    t.Run("valid output", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{"```json\n{\"invoice\": \"INV-1\"}\n```"}}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatJSON}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err)
        assert.Empty(t, res.SoftError)
        assert.Equal(t, "json", res.Primary.Label)

        var parsed map[string]any
        require.NoError(t, json.Unmarshal(res.Primary.Data, &parsed))
        assert.Equal(t, "INV-1", parsed["invoice"])
    })

    t.Run("no json is a soft failure", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{"the page is blank"}}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 3, FormatType: task.FormatJSON}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err, "parse failures complete the unit")
        assert.Equal(t, "no valid json", res.SoftError)

        var diag jsonFailure
        require.NoError(t, json.Unmarshal(res.Primary.Data, &diag))
        assert.Equal(t, 3, diag.PageNumber)
        assert.Equal(t, "the page is blank", diag.RawOutput)
    })

    t.Run("malformed json is a soft failure", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{`{"invoice": }`}}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatJSON}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err)
        assert.Equal(t, "invalid json", res.SoftError)
    })
}

func TestProcessKVP(t *testing.T) {
    t.Run("open extraction", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{
            `{"items":[{"key":"Invoice Number","value":"INV-1","confidence":"high"}],"tables":[]}`,
        }}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatKVP}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err)
        assert.Equal(t, "kvp", res.Primary.Label)
        assert.Equal(t, "html", res.Primary.Ext)

        require.NotNil(t, res.SideJSON)
        assert.Equal(t, "json", res.SideJSON.Ext)
        side := string(res.SideJSON.Data)
        assert.Contains(t, side, `"extraction_mode": "v8_kvp"`)
        assert.Contains(t, side, `"visible_key": "Invoice Number"`)
    })

    t.Run("selected fields", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{
            `{"items":[{"key":"invoice number","value":"INV-1","confidence":"high"}]}`,
        }}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{
            TaskID: "t1", PageNumber: 1, FormatType: task.FormatKVP,
            SelectedKVPs: []task.SelectedField{{KeyName: "invoice_number"}, {CustomKeyName: "po_number"}},
        }

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err)

        require.NotNil(t, res.SideJSON)
        var side struct {
            Structured map[string]string    `json:"structured"`
            Selected   []task.SelectedField `json:"selected_kvps"`
        }
        require.NoError(t, json.Unmarshal(res.SideJSON.Data, &side))
        assert.Equal(t, "INV-1", side.Structured["invoice_number"], "folded separators match")
        assert.Equal(t, "", side.Structured["po_number"])
        assert.Len(t, side.Selected, 2)
    })

    t.Run("unparseable output is a soft failure", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{"nothing structured"}}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 2, FormatType: task.FormatKVP}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err, "parse failures complete the unit")
        assert.Equal(t, "no valid json", res.SoftError)
        assert.Equal(t, "kvp", res.Primary.Label)
        assert.Equal(t, "json", res.Primary.Ext)
        assert.Nil(t, res.SideJSON)

        var diag jsonFailure
        require.NoError(t, json.Unmarshal(res.Primary.Data, &diag))
        assert.Equal(t, 2, diag.PageNumber)
        assert.Equal(t, "nothing structured", diag.RawOutput)
    })

    t.Run("malformed json is a soft failure", func(t *testing.T) {
        gen := &scriptedGen{outputs: []string{`{"items": }`}}
        p := New(gen, nil, nil)
        msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatKVP}

        res, err := p.Process(context.Background(), msg, "page.jpg")
        require.NoError(t, err)
        assert.Equal(t, "invalid json", res.SoftError)
    })
}

func TestProcessAnon(t *testing.T) {
    gen := &scriptedGen{outputs: []string{
        `{"items":[{"key":"Customer Name","value":"John Smith"}],"tables":[]}`,
    }}
    p := New(gen, nil, nil)
    msg := task.QueueMessage{
        TaskID: "t1", PageNumber: 1, FormatType: task.FormatAnon,
        AnonStrategy: task.AnonRedact, AnonGenerateAudit: true,
    }

    res, err := p.Process(context.Background(), msg, "page.jpg")
    require.NoError(t, err)

    assert.Equal(t, "anon", res.Primary.Label)
    assert.False(t, res.Primary.Sealed)
    var doc anon.Document
    require.NoError(t, json.Unmarshal(res.Primary.Data, &doc))
    require.Len(t, doc.Items, 1)
    assert.Equal(t, "[REDACTED:10chars]", doc.Items[0].Value)
    require.NotNil(t, doc.Metadata)
    assert.Equal(t, "redact", doc.Metadata.Strategy)

    require.NotNil(t, res.TokenizedText)
    assert.Equal(t, "Customer Name: [NAME_001]", string(res.TokenizedText.Data))

    require.NotNil(t, res.Mapping)
    assert.True(t, res.Mapping.Sealed)
    var tokenMap map[string]anon.TokenInfo
    require.NoError(t, json.Unmarshal(res.Mapping.Data, &tokenMap))
    assert.Equal(t, "John Smith", tokenMap["[NAME_001]"].Original)

    require.NotNil(t, res.Audit)
    assert.True(t, res.Audit.Sealed)
    assert.NotContains(t, string(res.Audit.Data), "John Smith")
}

func TestProcessAnonWithoutAudit(t *testing.T) {
    gen := &scriptedGen{outputs: []string{
        `{"items":[{"key":"Name","value":"Jane Doe"}]}`,
    }}
    p := New(gen, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatAnon, AnonStrategy: task.AnonMask}

    res, err := p.Process(context.Background(), msg, "page.jpg")
    require.NoError(t, err)
    assert.Nil(t, res.Audit)
    require.NotNil(t, res.Mapping)
}

func TestProcessAnonUnparseable(t *testing.T) {
    gen := &scriptedGen{outputs: []string{"I could not read this page"}}
    p := New(gen, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatAnon, AnonStrategy: task.AnonRedact}

    res, err := p.Process(context.Background(), msg, "page.jpg")
    require.NoError(t, err, "parse failures complete the unit")
    assert.Equal(t, "no valid json", res.SoftError)
    assert.Equal(t, "anon", res.Primary.Label)
    assert.Nil(t, res.TokenizedText)
    assert.Nil(t, res.Mapping)
    assert.Nil(t, res.Audit)
}

func TestProcessUnsupportedFormat(t *testing.T) {
    p := New(&scriptedGen{}, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatTXT}
    _, err := p.Process(context.Background(), msg, "page.jpg")
    assert.ErrorContains(t, err, "unsupported format")
}

func TestProcessModelError(t *testing.T) {
    p := New(&scriptedGen{err: vlm.ErrEmptyOutput}, nil, nil)
    msg := task.QueueMessage{TaskID: "t1", PageNumber: 1, FormatType: task.FormatJSON}
    _, err := p.Process(context.Background(), msg, "page.jpg")
    assert.ErrorIs(t, err, vlm.ErrEmptyOutput)
}
