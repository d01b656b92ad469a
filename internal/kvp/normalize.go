package kvp

import (
    "fmt"
    "math"
    "sort"
    "strconv"
    "strings"

    "github.com/local/ocrworker/internal/task"
)

// RawExtraction is the model's output schema for kvp and anon extraction.
type RawExtraction struct {
    Items  []RawItem  `json:"items"`
    Tables []RawTable `json:"tables"`
}

// RawItem is one extracted pair. Value is any because the model may emit
// strings, numbers or null.
type RawItem struct {
    Key        string `json:"key"`
    Value      any    `json:"value"`
    Confidence string `json:"confidence"`
    Uncertain  bool   `json:"uncertain,omitempty"`
}

// RawTable is one extracted table; rows map header to cell value and may
// carry a per-row confidence entry.
type RawTable struct {
    Headers []string         `json:"headers"`
    Rows    []map[string]any `json:"rows"`
}

// NormalizedItem is one alias-resolved pair in the categorized output.
type NormalizedItem struct {
    VisibleKey      string `json:"visible_key"`
    StandardizedKey string `json:"standardized_key,omitempty"`
    Value           any    `json:"value"`
    Confidence      string `json:"confidence"`
    Uncertain       bool   `json:"uncertain"`
    Required        bool   `json:"required"`
    Found           bool   `json:"found"`
    Sector          string `json:"sector,omitempty"`
    SectorName      string `json:"sector_name,omitempty"`
}

// Fields buckets normalized items by document region.
type Fields struct {
    Header    []NormalizedItem `json:"header"`
    Supplier  []NormalizedItem `json:"supplier"`
    Customer  []NormalizedItem `json:"customer"`
    Delivery  []NormalizedItem `json:"delivery"`
    Totals    []NormalizedItem `json:"totals"`
    Payment   []NormalizedItem `json:"payment"`
    LineItems []map[string]any `json:"line_items"`
    Other     []NormalizedItem `json:"other"`
}

// SectorHit records one detected business sector.
type SectorHit struct {
    SectorID   string `json:"sector_id"`
    SectorName string `json:"sector_name"`
}

// Stats summarizes extraction coverage against the master table.
type Stats struct {
    TotalStandardizedKeys   int     `json:"total_standardized_keys"`
    KeysFound               int     `json:"keys_found"`
    LineItemsFound          int     `json:"line_items_found"`
    RequiredKeys            int     `json:"required_keys"`
    RequiredKeysFound       int     `json:"required_keys_found"`
    CompletenessPct         float64 `json:"completeness_pct"`
    RequiredCompletenessPct float64 `json:"required_completeness_pct"`
    SectorsMatched          int     `json:"sectors_matched"`
}

// Normalized is the categorized extraction artifact.
type Normalized struct {
    DocumentType        string      `json:"document_type"`
    ExtractionMode      string      `json:"extraction_mode"`
    LanguagesDetected   []string    `json:"languages_detected"`
    ExtractionReasoning string      `json:"extraction_reasoning"`
    Fields              Fields      `json:"fields"`
    SectorsDetected     []SectorHit `json:"sectors_detected"`
    ExtractionStats     Stats       `json:"extraction_stats"`
}

func valueFound(v any) bool {
    if v == nil { return false }
    if s, ok := v.(string); ok { return s != "" }
    return true
}

// Normalize maps a raw extraction onto the master table: visible keys
// resolve through aliases, table rows flatten into line items, sectors
// accumulate, and coverage stats are computed.
func Normalize(raw RawExtraction, mt *MasterTable) Normalized {
    am := BuildAliasMap(mt)
    out := Normalized{
        DocumentType:        "unknown",
        ExtractionMode:      "v8_kvp",
        LanguagesDetected:   []string{},
        ExtractionReasoning: "V8 single-pass KVP extraction",
        Fields: Fields{
            Header: []NormalizedItem{}, Supplier: []NormalizedItem{}, Customer: []NormalizedItem{},
            Delivery: []NormalizedItem{}, Totals: []NormalizedItem{}, Payment: []NormalizedItem{},
            LineItems: []map[string]any{}, Other: []NormalizedItem{},
        },
        SectorsDetected: []SectorHit{},
    }

    requiredKeys := map[string]bool{}
    if mt != nil {
        for _, def := range mt.Keys {
            if def.Required { requiredKeys[def.Key] = true }
        }
    }

    sectorsFound := map[string]string{}
    keysFound, requiredFound := 0, 0

    for _, item := range raw.Items {
        std := am.Resolve(item.Key)
        def, _ := am.Info(std)
        conf := item.Confidence
        if conf == "" { conf = "medium" }
        found := valueFound(item.Value)
        if def.Sector != "" && found {
            sectorsFound[def.Sector] = def.SectorName
        }
        ni := NormalizedItem{
            VisibleKey:      item.Key,
            StandardizedKey: std,
            Value:           item.Value,
            Confidence:      conf,
            Uncertain:       item.Uncertain,
            Required:        std != "" && requiredKeys[std],
            Found:           found,
            Sector:          def.Sector,
            SectorName:      def.SectorName,
        }
        if ni.Found { keysFound++ }
        if ni.Required && ni.Found { requiredFound++ }
        out.Fields.add(def.Category, ni)
    }

    for _, table := range raw.Tables {
        for _, row := range table.Rows {
            line := map[string]any{}
            conf := "medium"
            if c, ok := row["confidence"].(string); ok && c != "" { conf = c }
            for _, header := range table.Headers {
                v, ok := row[header]
                if !ok { continue }
                std := am.Resolve(header)
                if std == "" { std = header }
                line[std] = v
                if def, ok := am.Info(std); ok && def.Sector != "" && valueFound(v) {
                    sectorsFound[def.Sector] = def.SectorName
                }
            }
            line["confidence"] = conf
            out.Fields.LineItems = append(out.Fields.LineItems, line)
        }
    }

    sectorIDs := make([]string, 0, len(sectorsFound))
    for id := range sectorsFound {
        sectorIDs = append(sectorIDs, id)
    }
    sort.Strings(sectorIDs)
    for _, id := range sectorIDs {
        out.SectorsDetected = append(out.SectorsDetected, SectorHit{SectorID: id, SectorName: sectorsFound[id]})
    }

    totalStd := 0
    if mt != nil { totalStd = len(mt.Keys) }
    totalRequired := len(requiredKeys)
    if mt == nil { totalRequired = 5 }

    out.ExtractionStats = Stats{
        TotalStandardizedKeys: totalStd,
        KeysFound:             keysFound,
        LineItemsFound:        len(out.Fields.LineItems),
        RequiredKeys:          totalRequired,
        RequiredKeysFound:     requiredFound,
        CompletenessPct:       pct(keysFound, totalStd),
        SectorsMatched:        len(sectorsFound),
    }
    if totalRequired > 0 {
        out.ExtractionStats.RequiredCompletenessPct = pct(requiredFound, totalRequired)
    } else {
        out.ExtractionStats.RequiredCompletenessPct = 100.0
    }
    return out
}

func (f *Fields) add(category string, ni NormalizedItem) {
    switch category {
    case "header":
        f.Header = append(f.Header, ni)
    case "supplier":
        f.Supplier = append(f.Supplier, ni)
    case "customer":
        f.Customer = append(f.Customer, ni)
    case "delivery":
        f.Delivery = append(f.Delivery, ni)
    case "totals":
        f.Totals = append(f.Totals, ni)
    case "payment":
        f.Payment = append(f.Payment, ni)
    default:
        f.Other = append(f.Other, ni)
    }
}

func pct(n, total int) float64 {
    if total <= 0 { return 0 }
    return math.Round(float64(n)/float64(total)*1000) / 10
}

// StructuredOutput holds values for the user-selected keys only, keeping
// selection order for rendering.
type StructuredOutput struct {
    Names  []string          `json:"-"`
    Values map[string]string `json:"structured"`
}

// BuildStructured fills the selected keys from a raw extraction. Alias
// matches win; direct name matches (underscores and dashes folded to
// spaces) cover ad-hoc custom fields. High confidence overwrites earlier
// lower-confidence values.
func BuildStructured(raw RawExtraction, selected []task.SelectedField, am AliasMap) StructuredOutput {
    out := StructuredOutput{Values: map[string]string{}}
    for _, f := range selected {
        if n := f.Name(); n != "" {
            if _, seen := out.Values[n]; !seen {
                out.Names = append(out.Names, n)
                out.Values[n] = ""
            }
        }
    }

    for _, item := range raw.Items {
        rawKey := strings.ToLower(strings.TrimSpace(item.Key))
        value := stringValue(item.Value)
        conf := item.Confidence
        if conf == "" { conf = "medium" }

        if std := am.Resolve(rawKey); std != "" {
            if _, ok := out.Values[std]; ok {
                if out.Values[std] == "" || conf == "high" { out.Values[std] = value }
            }
        }

        rawFolded := foldSeparators(rawKey)
        for _, name := range out.Names {
            if foldSeparators(strings.ToLower(name)) == rawFolded {
                if out.Values[name] == "" || conf == "high" { out.Values[name] = value }
            }
        }
    }
    return out
}

func foldSeparators(s string) string {
    s = strings.ReplaceAll(s, "_", " ")
    return strings.ReplaceAll(s, "-", " ")
}

func stringValue(v any) string {
    switch t := v.(type) {
    case nil:
        return ""
    case string:
        return t
    case float64:
        return strconv.FormatFloat(t, 'f', -1, 64)
    case bool:
        return strconv.FormatBool(t)
    }
    return fmt.Sprint(v)
}
