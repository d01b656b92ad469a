// Package kvp implements structured key-value extraction: the master key
// table, alias-based normalization, selected-field structured output and
// the HTML report rendered for the result viewer.
package kvp

import (
    "encoding/json"
    "fmt"
    "os"
    "sort"
    "strings"
)

// KeyDef is one canonical key in the master table.
type KeyDef struct {
    Key        string   `json:"key"`
    Aliases    []string `json:"aliases,omitempty"`
    Sector     string   `json:"sector,omitempty"`
    SectorName string   `json:"sector_name,omitempty"`
    Category   string   `json:"category,omitempty"`
    Required   bool     `json:"required,omitempty"`
}

// MasterTable is the flattened master key list loaded from the
// sectors-format JSON file.
type MasterTable struct {
    Version     string
    Description string
    Keys        []KeyDef
}

type masterFile struct {
    Version     string                  `json:"version"`
    Description string                  `json:"description"`
    Sectors     map[string]masterSector `json:"sectors"`
}

type masterSector struct {
    Name string `json:"name"`
    KVPs []struct {
        Key     string   `json:"key"`
        Aliases []string `json:"aliases"`
    } `json:"kvps"`
}

// LoadMaster reads the sectors-format master table. A missing file is not
// an error: extraction falls back to open-ended mode with a nil table.
func LoadMaster(path string) (*MasterTable, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        if os.IsNotExist(err) { return nil, nil }
        return nil, fmt.Errorf("read master kvp table: %w", err)
    }
    var raw masterFile
    if err := json.Unmarshal(data, &raw); err != nil {
        return nil, fmt.Errorf("parse master kvp table: %w", err)
    }
    if len(raw.Sectors) == 0 {
        return nil, fmt.Errorf("master kvp table %s: no sectors", path)
    }
    mt := &MasterTable{Version: raw.Version, Description: raw.Description}
    sectorIDs := make([]string, 0, len(raw.Sectors))
    for id := range raw.Sectors {
        sectorIDs = append(sectorIDs, id)
    }
    sort.Strings(sectorIDs)
    for _, id := range sectorIDs {
        sector := raw.Sectors[id]
        name := sector.Name
        if name == "" { name = id }
        for _, k := range sector.KVPs {
            mt.Keys = append(mt.Keys, KeyDef{
                Key:        k.Key,
                Aliases:    k.Aliases,
                Sector:     id,
                SectorName: name,
                Category:   "other",
            })
        }
    }
    return mt, nil
}

// AliasMap resolves any alias (lowercased, trimmed) to its canonical key.
type AliasMap struct {
    toStandard map[string]string
    info       map[string]KeyDef
}

// BuildAliasMap indexes a master table. Nil table yields an empty map.
func BuildAliasMap(mt *MasterTable) AliasMap {
    am := AliasMap{toStandard: map[string]string{}, info: map[string]KeyDef{}}
    if mt == nil { return am }
    for _, def := range mt.Keys {
        am.info[def.Key] = def
        for _, alias := range append([]string{def.Key}, def.Aliases...) {
            am.toStandard[strings.ToLower(strings.TrimSpace(alias))] = def.Key
        }
    }
    return am
}

// Resolve returns the canonical key for a visible key, "" when unmatched.
func (am AliasMap) Resolve(visible string) string {
    return am.toStandard[strings.ToLower(strings.TrimSpace(visible))]
}

// Info returns the key definition for a canonical key.
func (am AliasMap) Info(standard string) (KeyDef, bool) {
    def, ok := am.info[standard]
    return def, ok
}
