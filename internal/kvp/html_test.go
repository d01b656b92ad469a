package kvp

import (
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestRenderHTML(t *testing.T) {
    n := Normalized{
        Fields: Fields{
            Other: []NormalizedItem{
                {VisibleKey: "Rechnungsnr.", StandardizedKey: "invoice_number", Value: "INV-1", Confidence: "high", Found: true},
                {VisibleKey: "Due Date", Value: nil, Confidence: "low", Uncertain: true},
            },
            LineItems: []map[string]any{
                {"description": "Widget <A>", "quantity": 3.0, "confidence": "medium"},
            },
        },
        SectorsDetected: []SectorHit{{SectorID: "finance", SectorName: "Finance"}},
        ExtractionStats: Stats{KeysFound: 1, TotalStandardizedKeys: 3, CompletenessPct: 33.3, RequiredCompletenessPct: 100, LineItemsFound: 1},
    }

    out := RenderHTML(n)
    assert.Contains(t, out, "1/3")
    assert.Contains(t, out, "33.3%")
    assert.Contains(t, out, `<div class="kvp-sector-badge">Finance</div>`)
    assert.Contains(t, out, "invoice_number")
    assert.Contains(t, out, "Original: Rechnungsnr.")
    assert.Contains(t, out, "confidence-high")
    assert.Contains(t, out, "Uncertain")
    assert.Contains(t, out, "(not found)")
    assert.Contains(t, out, "Widget &lt;A&gt;", "cell values are escaped")
    assert.NotContains(t, out, "<th>confidence</th>", "confidence column stays internal")
}

func TestRenderHTMLSkipsEmptySections(t *testing.T) {
    out := RenderHTML(Normalized{})
    assert.NotContains(t, out, "Header Information")
    assert.NotContains(t, out, "Line Items")
}

func TestRenderStructuredHTML(t *testing.T) {
    s := StructuredOutput{
        Names:  []string{"invoice_number", "po_number"},
        Values: map[string]string{"invoice_number": "INV-1", "po_number": ""},
    }
    out := RenderStructuredHTML(s)

    assert.Contains(t, out, "Fields Requested: 2")
    assert.Contains(t, out, "Found: 1")
    assert.Contains(t, out, "Missing: 1")
    assert.Contains(t, out, "Invoice Number", "keys render title-cased")
    assert.Contains(t, out, "INV-1")
    assert.Contains(t, out, "(not found)")

    // selection order survives rendering
    assert.Less(t, strings.Index(out, "Invoice Number"), strings.Index(out, "Po Number"))
}

func TestTitleCase(t *testing.T) {
    assert.Equal(t, "Invoice Number", titleCase("invoice_number"))
    assert.Equal(t, "Total Amount Due", titleCase("total amount due"))
    assert.Equal(t, "X", titleCase("x"))
}
