package anon

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
    c := NewTokenClassifier()

    cases := []struct{ key, want string }{
        {"First Name", "FNAME"},
        {"Surname", "LNAME"},
        {"Customer Name", "NAME"},
        {"Date of Birth", "DOB"},
        {"Invoice Date", "DATE"},
        {"E-Mail", "EMAIL"},
        {"Telefon", "PHONE"},
        {"Street Address", "ADDR"},
        {"ZIP", "ZIP"},
        {"Social Security Number", "SSN"},
        {"IBAN", "ACCT"},
        {"Rechnungsnummer", "INVNUM"},
        {"Total Amount", "AMOUNT"},
        {"Firma", "ORG"},
        {"Serial Reference", "DATA"},
    }
    for _, tc := range cases {
        assert.Equal(t, tc.want, c.Classify(tc.key), tc.key)
    }
}

func TestClassifyRuleOrder(t *testing.T) {
    c := NewTokenClassifier()
    // "First Name" contains both "first name" and "name"; the more
    // specific rule sits earlier and wins.
    assert.Equal(t, "FNAME", c.Classify("first name"))
    // "birth" outranks the generic date rule
    assert.Equal(t, "DOB", c.Classify("birth date"))
}

func TestTokenize(t *testing.T) {
    c := NewTokenClassifier()
    mapping := []MappingEntry{
        {Key: "Customer Name", Original: "John Smith", Anonymized: "James Berg"},
        {Key: "Patient Name", Original: "Jane Doe", Anonymized: "Anna Chen"},
        {Key: "Invoice Date", Original: "2026-03-15", Anonymized: "12.06.2026"},
    }

    lines, tokenMap := c.Tokenize(mapping)

    require.Len(t, lines, 3)
    assert.Equal(t, "Customer Name: [NAME_001]", lines[0])
    assert.Equal(t, "Patient Name: [NAME_002]", lines[1], "counters increment per kind")
    assert.Equal(t, "Invoice Date: [DATE_001]", lines[2])

    require.Len(t, tokenMap, 3)
    info := tokenMap["[NAME_002]"]
    assert.Equal(t, "Jane Doe", info.Original)
    assert.Equal(t, "NAME", info.Type)
}

func TestDetokenizeRoundTrip(t *testing.T) {
    c := NewTokenClassifier()
    mapping := []MappingEntry{
        {Key: "Customer Name", Original: "John Smith"},
        {Key: "Email", Original: "john@acme.test"},
    }
    _, tokenMap := c.Tokenize(mapping)

    text := "Contact [NAME_001] at [EMAIL_001] for details."
    restored := Detokenize(text, tokenMap)
    assert.Equal(t, "Contact John Smith at john@acme.test for details.", restored)
}

func TestLoadTokenClassifier(t *testing.T) {
    t.Run("empty path uses defaults", func(t *testing.T) {
        c, err := LoadTokenClassifier("")
        require.NoError(t, err)
        assert.Equal(t, "NAME", c.Classify("customer"))
    })

    t.Run("missing file uses defaults", func(t *testing.T) {
        c, err := LoadTokenClassifier(filepath.Join(t.TempDir(), "nope.json"))
        require.NoError(t, err)
        assert.Equal(t, "SSN", c.Classify("SSN"))
    })

    t.Run("override file replaces rules", func(t *testing.T) {
        path := filepath.Join(t.TempDir(), "rules.json")
        require.NoError(t, os.WriteFile(path, []byte(`[{"kind":"CASEID","needles":["case"]}]`), 0o644))
        c, err := LoadTokenClassifier(path)
        require.NoError(t, err)
        assert.Equal(t, "CASEID", c.Classify("Case Number"))
        assert.Equal(t, "DATA", c.Classify("customer name"), "defaults are fully replaced")
    })

    t.Run("malformed file fails", func(t *testing.T) {
        path := filepath.Join(t.TempDir(), "rules.json")
        require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
        _, err := LoadTokenClassifier(path)
        assert.Error(t, err)
    })
}
