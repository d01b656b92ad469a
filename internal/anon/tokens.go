package anon

import (
    "encoding/json"
    "fmt"
    "os"
    "strings"
)

// tokenRule maps key substrings to a token kind. Rules are ordered: the
// first match wins, so more specific rules come first.
type tokenRule struct {
    Kind    string   `json:"kind"`
    Needles []string `json:"needles"`
}

var defaultTokenRules = []tokenRule{
    {"FNAME", []string{"first name", "given name", "vorname"}},
    {"LNAME", []string{"last name", "surname", "nachname"}},
    {"NAME", []string{"name", "patient", "customer", "client"}},
    {"DOB", []string{"birth", "dob", "geburtsdatum"}},
    {"DATE", []string{"date", "datum"}},
    {"EMAIL", []string{"email", "e-mail"}},
    {"PHONE", []string{"phone", "mobile", "tel", "fax"}},
    {"ADDR", []string{"address", "street", "adresse"}},
    {"CITY", []string{"city", "stadt"}},
    {"ZIP", []string{"zip", "postal", "plz"}},
    {"STATE", []string{"state", "province"}},
    {"COUNTRY", []string{"country", "land"}},
    {"SSN", []string{"ssn", "social security"}},
    {"TAXID", []string{"tax", "ein", "tin"}},
    {"ACCT", []string{"account", "acct", "iban"}},
    {"INVNUM", []string{"invoice", "rechnung"}},
    {"ORDNUM", []string{"order", "bestellung"}},
    {"POLICYID", []string{"policy", "member", "insurance"}},
    {"MRNID", []string{"patient", "mrn", "medical"}},
    {"AMOUNT", []string{"amount", "total", "price", "betrag", "tax", "vat"}},
    {"ORG", []string{"company", "organization", "firma"}},
    {"DESC", []string{"description", "item"}},
}

// TokenClassifier resolves field keys to token kinds.
type TokenClassifier struct {
    rules []tokenRule
}

// NewTokenClassifier returns the built-in rule table.
func NewTokenClassifier() *TokenClassifier {
    return &TokenClassifier{rules: defaultTokenRules}
}

// LoadTokenClassifier reads an override rule table from a JSON file.
// Missing file falls back to the defaults.
func LoadTokenClassifier(path string) (*TokenClassifier, error) {
    if path == "" { return NewTokenClassifier(), nil }
    data, err := os.ReadFile(path)
    if err != nil {
        if os.IsNotExist(err) { return NewTokenClassifier(), nil }
        return nil, fmt.Errorf("read token rules: %w", err)
    }
    var rules []tokenRule
    if err := json.Unmarshal(data, &rules); err != nil {
        return nil, fmt.Errorf("parse token rules: %w", err)
    }
    if len(rules) == 0 { return NewTokenClassifier(), nil }
    return &TokenClassifier{rules: rules}, nil
}

// Classify maps a key to its token kind, DATA when nothing matches.
func (c *TokenClassifier) Classify(key string) string {
    lower := strings.ToLower(strings.TrimSpace(key))
    for _, rule := range c.rules {
        for _, n := range rule.Needles {
            if strings.Contains(lower, n) { return rule.Kind }
        }
    }
    return "DATA"
}

// TokenInfo is the mapping value for one token.
type TokenInfo struct {
    Key      string `json:"key"`
    Original string `json:"original"`
    Type     string `json:"type"`
}

// Tokenize renders the substitution mapping as a tokenized document plus
// a token-to-original map. Tokens are [KIND_NNN] with per-kind counters.
func (c *TokenClassifier) Tokenize(mapping []MappingEntry) ([]string, map[string]TokenInfo) {
    counters := map[string]int{}
    tokenMap := make(map[string]TokenInfo, len(mapping))
    lines := make([]string, 0, len(mapping))

    for _, entry := range mapping {
        kind := c.Classify(entry.Key)
        counters[kind]++
        token := fmt.Sprintf("[%s_%03d]", kind, counters[kind])
        tokenMap[token] = TokenInfo{Key: entry.Key, Original: entry.Original, Type: kind}
        lines = append(lines, fmt.Sprintf("%s: %s", entry.Key, token))
    }
    return lines, tokenMap
}

// Detokenize restores originals in a tokenized text using the mapping.
func Detokenize(text string, tokenMap map[string]TokenInfo) string {
    for token, info := range tokenMap {
        text = strings.ReplaceAll(text, token, info.Original)
    }
    return text
}
