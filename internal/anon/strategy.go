// Package anon removes personal data from extracted documents. Four
// strategies are supported: redact (irreversible markers), synthetic
// (realistic fakes), generalize (k-anonymity style precision loss) and
// mask (partial reveal for verification). A tokenized rendition plus a
// token-to-original mapping supports controlled re-identification.
package anon

import (
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "regexp"
    "strconv"
    "strings"
    "time"

    "github.com/local/ocrworker/internal/task"
)

// Item is one extracted pair in the anonymization document.
type Item struct {
    Key        string `json:"key"`
    Value      any    `json:"value"`
    Confidence string `json:"confidence,omitempty"`
    Uncertain  bool   `json:"uncertain,omitempty"`
    Anonymized bool   `json:"anonymized,omitempty"`
}

// Table mirrors the extraction table schema.
type Table struct {
    Headers []string         `json:"headers"`
    Rows    []map[string]any `json:"rows"`
}

// Metadata describes one anonymization run.
type Metadata struct {
    Version              string `json:"version"`
    Timestamp            string `json:"timestamp"`
    Strategy             string `json:"strategy"`
    TotalValuesFound     int    `json:"total_values_found"`
    ValuesAnonymized     int    `json:"values_anonymized"`
    AuditTrailGenerated  bool   `json:"audit_trail_generated"`
}

// Document is the anonymization working set, same wire schema as the
// extraction output plus run metadata.
type Document struct {
    Items    []Item    `json:"items"`
    Tables   []Table   `json:"tables"`
    Metadata *Metadata `json:"anonymization_metadata,omitempty"`
}

// MappingEntry records one original-to-replacement substitution.
type MappingEntry struct {
    Key        string `json:"key"`
    Original   string `json:"original"`
    Anonymized string `json:"anonymized"`
}

// AuditRecord proves a substitution happened without retaining the
// original: only a hash prefix and lengths are kept.
type AuditRecord struct {
    Key              string `json:"key"`
    OriginalHash     string `json:"original_hash"`
    OriginalLength   int    `json:"original_length"`
    StrategyApplied  string `json:"strategy_applied"`
    Timestamp        string `json:"timestamp"`
    AnonymizedLength int    `json:"anonymized_length"`
}

// Anonymizer applies one strategy across a document.
type Anonymizer struct {
    strategy task.AnonStrategy
    synth    *Synthesizer
    now      func() time.Time
}

// New builds an anonymizer for a strategy.
func New(strategy task.AnonStrategy) *Anonymizer {
    return &Anonymizer{strategy: strategy, synth: NewSynthesizer(time.Now().UnixNano()), now: time.Now}
}

// Value anonymizes a single value. Empty values pass through untouched
// with a nil audit record.
func (a *Anonymizer) Value(value, key string) (string, *AuditRecord) {
    if value == "" { return value, nil }

    sum := sha256.Sum256([]byte(value))
    rec := &AuditRecord{
        Key:             key,
        OriginalHash:    hex.EncodeToString(sum[:])[:16],
        OriginalLength:  len(value),
        StrategyApplied: string(a.strategy),
        Timestamp:       a.now().Format(time.RFC3339),
    }

    var out string
    switch a.strategy {
    case task.AnonRedact:
        out = redact(value)
    case task.AnonSynthetic:
        out = a.synth.Replace(value, key)
    case task.AnonGeneralize:
        out = a.generalize(value, key)
    case task.AnonMask:
        out = mask(value, key)
    default:
        out = redact(value)
    }
    rec.AnonymizedLength = len(out)
    return out, rec
}

// Document anonymizes every non-empty value in place and returns the
// audit trail (when requested) and the substitution mapping.
func (a *Anonymizer) Document(doc *Document, generateAudit bool) ([]AuditRecord, []MappingEntry) {
    var audit []AuditRecord
    var mapping []MappingEntry
    total, replaced := 0, 0

    for i := range doc.Items {
        original := asString(doc.Items[i].Value)
        if strings.TrimSpace(original) == "" { continue }
        total++
        out, rec := a.Value(original, doc.Items[i].Key)
        doc.Items[i].Value = out
        doc.Items[i].Anonymized = true
        mapping = append(mapping, MappingEntry{Key: doc.Items[i].Key, Original: original, Anonymized: out})
        if generateAudit && rec != nil { audit = append(audit, *rec) }
        replaced++
    }

    for ti := range doc.Tables {
        table := &doc.Tables[ti]
        for _, row := range table.Rows {
            for _, header := range table.Headers {
                v, ok := row[header]
                if !ok { continue }
                original := asString(v)
                if strings.TrimSpace(original) == "" { continue }
                total++
                out, rec := a.Value(original, header)
                row[header] = out
                mapping = append(mapping, MappingEntry{Key: header, Original: original, Anonymized: out})
                if generateAudit && rec != nil { audit = append(audit, *rec) }
                replaced++
            }
        }
    }

    doc.Metadata = &Metadata{
        Version:             "ANON_V001",
        Timestamp:           a.now().Format(time.RFC3339),
        Strategy:            string(a.strategy),
        TotalValuesFound:    total,
        ValuesAnonymized:    replaced,
        AuditTrailGenerated: generateAudit,
    }
    return audit, mapping
}

func redact(value string) string {
    return fmt.Sprintf("[REDACTED:%dchars]", len(value))
}

var (
    digitsRe   = regexp.MustCompile(`\d+`)
    yearRe     = regexp.MustCompile(`(19|20)\d{2}`)
    nonDigitRe = regexp.MustCompile(`[^0-9]`)
)

func keyMatches(key string, needles ...string) bool {
    lower := strings.ToLower(key)
    for _, n := range needles {
        if strings.Contains(lower, n) { return true }
    }
    return false
}

// generalize reduces precision instead of removing data outright. Ages over
// 89 collapse into a single bucket per HIPAA safe harbor.
func (a *Anonymizer) generalize(value, key string) string {
    switch {
    case keyMatches(key, "age"):
        m := digitsRe.FindString(value)
        if m == "" { return "[AGE_RANGE]" }
        age, _ := strconv.Atoi(m)
        switch {
        case age < 18:
            return "0-17"
        case age < 30:
            return "18-29"
        case age < 45:
            return "30-44"
        case age < 60:
            return "45-59"
        case age < 75:
            return "60-74"
        case age < 90:
            return "75-89"
        }
        return "90+"

    case keyMatches(key, "date of birth", "dob", "birthdate", "geburtsdatum"):
        m := yearRe.FindString(value)
        if m == "" { return "[YEAR_ONLY]" }
        year, _ := strconv.Atoi(m)
        if a.now().Year()-year > 89 { return "YEAR_BEFORE_1935" }
        return m

    case keyMatches(key, "zip", "postal", "plz"):
        digits := nonDigitRe.ReplaceAllString(value, "")
        if len(digits) >= 3 { return digits[:3] + "XX" }
        return "[ZIP_GENERALIZED]"

    case keyMatches(key, "date", "datum"):
        for _, layout := range []string{"2006-01-02", "02.01.2006", "01/02/2006"} {
            if dt, err := time.Parse(layout, value); err == nil {
                return dt.Format("2006-01")
            }
        }
        if m := yearRe.FindString(value); m != "" { return m }
        return "[DATE_GENERALIZED]"

    case keyMatches(key, "city", "stadt", "town"):
        return "[CITY_REGION]"
    case keyMatches(key, "address", "street", "adresse"):
        return "[ADDRESS_REMOVED]"
    }

    r := []rune(value)
    if len(r) > 4 { return string(r[:2]) + "***" + string(r[len(r)-2:]) }
    return "[GENERALIZED]"
}

// mask keeps enough of the value for human verification.
func mask(value, key string) string {
    switch {
    case keyMatches(key, "ssn", "social security"):
        digits := nonDigitRe.ReplaceAllString(value, "")
        if len(digits) >= 4 { return "***-**-" + digits[len(digits)-4:] }
        return "***-**-****"

    case keyMatches(key, "phone", "mobile", "tel", "fax"):
        digits := nonDigitRe.ReplaceAllString(value, "")
        if len(digits) >= 4 { return "(***) ***-" + digits[len(digits)-4:] }
        return "(***) ***-****"

    case keyMatches(key, "email", "e-mail"):
        if at := strings.LastIndex(value, "@"); at >= 0 {
            return "***@" + value[at+1:]
        }
        return "***@***.***"

    case keyMatches(key, "account", "acct", "iban", "routing"):
        alnum := regexp.MustCompile(`[^0-9A-Za-z]`).ReplaceAllString(value, "")
        if len(alnum) >= 4 { return "****" + alnum[len(alnum)-4:] }
        return "********"

    case keyMatches(key, "name", "patient", "customer"):
        words := strings.Fields(value)
        if len(words) >= 2 {
            return initial(words[0]) + ". " + initial(words[len(words)-1]) + "."
        }
        if len(words) == 1 && words[0] != "" {
            return initial(words[0]) + "."
        }
        return "*. *."
    }

    r := []rune(value)
    switch {
    case len(r) > 4:
        return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
    case len(r) > 0:
        return string(r[0]) + strings.Repeat("*", len(r)-1)
    }
    return "****"
}

func initial(word string) string {
    r := []rune(word)
    if len(r) == 0 { return "*" }
    return string(r[0])
}

func asString(v any) string {
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
