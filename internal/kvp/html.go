package kvp

import (
    "fmt"
    "html"
    "sort"
    "strings"
)

// RenderHTML renders the full categorized extraction for the result viewer.
func RenderHTML(n Normalized) string {
    var b strings.Builder
    b.WriteString(kvpStyles)
    b.WriteString(`<div class="kvp-results-container">`)
    b.WriteString("\n")
    b.WriteString(renderSummaryStats(n.ExtractionStats))
    if len(n.SectorsDetected) > 0 {
        b.WriteString(renderSectors(n.SectorsDetected))
    }
    sections := []struct {
        title    string
        category string
        items    []NormalizedItem
    }{
        {"Header Information", "header", n.Fields.Header},
        {"Supplier Details", "supplier", n.Fields.Supplier},
        {"Customer Details", "customer", n.Fields.Customer},
        {"Delivery Information", "delivery", n.Fields.Delivery},
        {"Totals & Amounts", "totals", n.Fields.Totals},
        {"Payment Information", "payment", n.Fields.Payment},
        {"Other Fields", "other", n.Fields.Other},
    }
    for _, s := range sections {
        if len(s.items) > 0 {
            b.WriteString(renderSection(s.title, s.category, s.items))
        }
    }
    if len(n.Fields.LineItems) > 0 {
        b.WriteString(renderLineItems(n.Fields.LineItems))
    }
    b.WriteString("</div>")
    return b.String()
}

// RenderStructuredHTML renders the selected-fields-only table.
func RenderStructuredHTML(s StructuredOutput) string {
    var b strings.Builder
    b.WriteString(kvpStyles)
    b.WriteString(`<div class="kvp-results-container">`)
    b.WriteString("\n")

    total := len(s.Names)
    found := 0
    for _, name := range s.Names {
        if s.Values[name] != "" { found++ }
    }
    b.WriteString(fmt.Sprintf(`<div class="structured-output-header">
    <h2>Selected Fields Extraction</h2>
    <div class="structured-stats">
        <span class="stat-badge">Fields Requested: %d</span>
        <span class="stat-badge success">Found: %d</span>
        <span class="stat-badge">Missing: %d</span>
    </div>
</div>
`, total, found, total-found))

    b.WriteString(`<table class="structured-kvp-table">`)
    b.WriteString(`<thead><tr><th style="width: 50px;">Status</th><th>Field Name</th><th>Value</th></tr></thead><tbody>`)
    for _, name := range s.Names {
        value := s.Values[name]
        status, class := "&#10007;", "missing"
        valueHTML := `<span style="color: #999; font-style: italic;">(not found)</span>`
        if value != "" {
            status, class = "&#10003;", "found"
            valueHTML = html.EscapeString(value)
        }
        b.WriteString(fmt.Sprintf(`<tr class="kvp-row %s"><td class="status-cell">%s</td><td class="key-cell">%s</td><td class="value-cell">%s</td></tr>`,
            class, status, html.EscapeString(titleCase(name)), valueHTML))
    }
    b.WriteString(`</tbody></table>`)
    b.WriteString(structuredStyles)
    b.WriteString("</div>")
    return b.String()
}

func titleCase(key string) string {
    words := strings.Fields(strings.ReplaceAll(key, "_", " "))
    for i, w := range words {
        r := []rune(w)
        if len(r) > 0 { r[0] = []rune(strings.ToUpper(string(r[0])))[0] }
        words[i] = string(r)
    }
    return strings.Join(words, " ")
}

func renderSummaryStats(s Stats) string {
    return fmt.Sprintf(`<div class="kvp-summary-stats">
    <div class="kvp-stat"><div class="kvp-stat-label">Keys Found</div><div class="kvp-stat-value">%d/%d</div></div>
    <div class="kvp-stat"><div class="kvp-stat-label">Completeness</div><div class="kvp-stat-value">%g%%</div></div>
    <div class="kvp-stat"><div class="kvp-stat-label">Required Fields</div><div class="kvp-stat-value">%g%%</div></div>
    <div class="kvp-stat"><div class="kvp-stat-label">Line Items</div><div class="kvp-stat-value">%d</div></div>
    <div class="kvp-stat"><div class="kvp-stat-label">Sectors Matched</div><div class="kvp-stat-value">%d</div></div>
</div>
`, s.KeysFound, s.TotalStandardizedKeys, s.CompletenessPct, s.RequiredCompletenessPct, s.LineItemsFound, s.SectorsMatched)
}

func renderSectors(sectors []SectorHit) string {
    var badges strings.Builder
    for _, s := range sectors {
        name := s.SectorName
        if name == "" { name = s.SectorID }
        badges.WriteString(fmt.Sprintf(`<div class="kvp-sector-badge">%s</div>`, html.EscapeString(name)))
    }
    return fmt.Sprintf("<div class=\"kvp-sectors\">%s</div>\n", badges.String())
}

func renderSection(title, category string, items []NormalizedItem) string {
    var b strings.Builder
    b.WriteString(fmt.Sprintf(`<div class="kvp-section kvp-category-%s"><h3 class="kvp-section-title">%s</h3>`, category, html.EscapeString(title)))
    for _, item := range items {
        b.WriteString(renderItem(item))
    }
    b.WriteString("</div>\n")
    return b.String()
}

func renderItem(item NormalizedItem) string {
    displayKey := item.StandardizedKey
    if displayKey == "" { displayKey = item.VisibleKey }

    valueHTML := `<span class="kvp-value kvp-value-null">(not found)</span>`
    if item.Found {
        valueHTML = fmt.Sprintf(`<div class="kvp-value">%s</div>`, html.EscapeString(stringValue(item.Value)))
    }

    visibleHTML := ""
    if item.VisibleKey != "" && item.StandardizedKey != "" && item.VisibleKey != item.StandardizedKey {
        visibleHTML = fmt.Sprintf(`<div class="kvp-visible-key">Original: %s</div>`, html.EscapeString(item.VisibleKey))
    }

    badges := fmt.Sprintf(`<span class="kvp-badge confidence-%s">%s</span>`, item.Confidence, item.Confidence)
    if item.Uncertain {
        badges += `<span class="uncertain-badge">Uncertain</span>`
    }

    return fmt.Sprintf(`<div class="kvp-item">
    <div class="kvp-item-left"><div class="kvp-key">%s</div>%s%s</div>
    <div class="kvp-item-right">%s</div>
</div>
`, html.EscapeString(displayKey), visibleHTML, valueHTML, badges)
}

func renderLineItems(lineItems []map[string]any) string {
    colSet := map[string]bool{}
    for _, item := range lineItems {
        for k := range item {
            if k != "confidence" { colSet[k] = true }
        }
    }
    columns := make([]string, 0, len(colSet))
    for c := range colSet {
        columns = append(columns, c)
    }
    sort.Strings(columns)

    var header strings.Builder
    for _, c := range columns {
        header.WriteString(fmt.Sprintf("<th>%s</th>", html.EscapeString(c)))
    }
    var rows strings.Builder
    for _, item := range lineItems {
        rows.WriteString("<tr>")
        for _, c := range columns {
            rows.WriteString(fmt.Sprintf("<td>%s</td>", html.EscapeString(stringValue(item[c]))))
        }
        rows.WriteString("</tr>")
    }
    return fmt.Sprintf(`<div class="kvp-table-container">
    <h3 class="kvp-section-title">Line Items</h3>
    <table class="kvp-table"><thead><tr>%s</tr></thead><tbody>%s</tbody></table>
</div>
`, header.String(), rows.String())
}

const kvpStyles = `<style>
.kvp-results-container { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', 'Helvetica', 'Arial', sans-serif; max-width: 1200px; margin: 0 auto; padding: 24px; background: #ffffff; color: #1a1a1a; }
.kvp-summary-stats { display: flex; gap: 12px; flex-wrap: wrap; margin-bottom: 24px; padding: 16px; background: #f5f5f5; border-radius: 8px; }
.kvp-stat { display: flex; flex-direction: column; padding: 8px 16px; background: white; border-radius: 6px; border: 1px solid #e0e0e0; }
.kvp-stat-label { font-size: 12px; color: #666; text-transform: uppercase; letter-spacing: 0.5px; margin-bottom: 4px; }
.kvp-stat-value { font-size: 20px; font-weight: 600; color: #1a1a1a; }
.kvp-sectors { display: flex; gap: 8px; flex-wrap: wrap; margin-bottom: 24px; }
.kvp-sector-badge { padding: 6px 12px; background: #c7ff00; color: #1a1a1a; border-radius: 16px; font-size: 13px; font-weight: 500; }
.kvp-section { margin-bottom: 32px; }
.kvp-section-title { font-size: 18px; font-weight: 600; color: #1a1a1a; margin-bottom: 16px; padding-bottom: 8px; border-bottom: 2px solid #c7ff00; }
.kvp-item { display: flex; justify-content: space-between; align-items: center; padding: 12px; margin-bottom: 8px; background: #f9f9f9; border-radius: 6px; border-left: 3px solid #e0e0e0; }
.kvp-item:hover { background: #f0f0f0; }
.kvp-item-left { display: flex; flex-direction: column; flex: 1; margin-right: 16px; }
.kvp-key { font-size: 14px; font-weight: 500; color: #1a1a1a; margin-bottom: 4px; }
.kvp-visible-key { font-size: 12px; color: #666; font-style: italic; }
.kvp-value { font-size: 16px; color: #1a1a1a; font-weight: 400; margin-top: 4px; }
.kvp-value-null { color: #999; font-style: italic; }
.kvp-item-right { display: flex; gap: 8px; align-items: center; }
.kvp-badge { padding: 4px 10px; border-radius: 12px; font-size: 11px; font-weight: 600; text-transform: uppercase; letter-spacing: 0.5px; }
.confidence-high { background: #d4edda; color: #155724; }
.confidence-medium { background: #fff3cd; color: #856404; }
.confidence-low { background: #f8d7da; color: #721c24; }
.uncertain-badge { background: #ffeaa7; color: #d63031; padding: 4px 10px; border-radius: 12px; font-size: 11px; font-weight: 600; }
.kvp-table-container { margin-bottom: 32px; }
.kvp-table { width: 100%; border-collapse: collapse; background: white; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.kvp-table thead { background: #1a1a1a; color: white; }
.kvp-table th { padding: 12px 16px; text-align: left; font-size: 13px; font-weight: 600; text-transform: uppercase; letter-spacing: 0.5px; }
.kvp-table td { padding: 12px 16px; border-bottom: 1px solid #f0f0f0; font-size: 14px; color: #1a1a1a; }
.kvp-table tbody tr:hover { background: #f9f9f9; }
.kvp-table tbody tr:last-child td { border-bottom: none; }
.kvp-empty-message { text-align: center; padding: 32px; color: #999; font-style: italic; }
</style>
`

const structuredStyles = `<style>
.structured-output-header { margin-bottom: 20px; padding: 20px; background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); border-radius: 8px; color: white; }
.structured-output-header h2 { margin: 0 0 15px 0; font-size: 24px; }
.structured-stats { display: flex; gap: 10px; flex-wrap: wrap; }
.stat-badge { padding: 6px 12px; background: rgba(255, 255, 255, 0.2); border-radius: 4px; font-size: 14px; font-weight: 500; }
.stat-badge.success { background: rgba(72, 187, 120, 0.3); }
.structured-kvp-table { width: 100%; border-collapse: collapse; background: white; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
.structured-kvp-table thead { background: #f7fafc; }
.structured-kvp-table th { text-align: left; padding: 12px 16px; font-weight: 600; color: #2d3748; border-bottom: 2px solid #e2e8f0; }
.structured-kvp-table tbody tr { border-bottom: 1px solid #e2e8f0; }
.structured-kvp-table tbody tr:hover { background: #f7fafc; }
.structured-kvp-table td { padding: 12px 16px; }
.status-cell { text-align: center; font-size: 18px; font-weight: bold; }
.kvp-row.found .status-cell { color: #48bb78; }
.kvp-row.missing .status-cell { color: #f56565; }
.key-cell { font-weight: 600; color: #2d3748; }
.value-cell { color: #4a5568; font-family: 'Monaco', 'Courier New', monospace; }
</style>
`
