package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Items   ItemCatalog
	Species SpeciesCatalog
}

type ItemCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string
}

type ItemDef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "MATERIAL","FOOD","HELD","CURE","QUEST"
	Tradeable bool   `json:"tradeable"`
	MaxStack  int    `json:"max_stack,omitempty"`
}

type SpeciesCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]SpeciesDef
	PaletteDigest string
	DefsDigest    string
}

type SpeciesDef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseStats BaseStats `json:"base_stats"`
	GeneCap   int       `json:"gene_cap,omitempty"`
	MovePool  []string  `json:"move_pool,omitempty"`
}

// BaseStats are the per-species bases that derived stats are computed from.
type BaseStats struct {
	HP  int `json:"hp"`
	Atk int `json:"atk"`
	Def int `json:"def"`
	SpA int `json:"spa"`
	SpD int `json:"spd"`
	Spe int `json:"spe"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadSpecies(filepath.Join(configDir, "species.json"), &c.Species); err != nil {
		return nil, err
	}

	return &c, nil
}

// KnownItem reports whether id is defined in the catalog.
func (ic *ItemCatalog) KnownItem(id string) bool {
	_, ok := ic.Defs[id]
	return ok
}

// ItemTradeable reports whether id may appear in a trade offer. QUEST
// items are never tradeable regardless of their flag.
func (ic *ItemCatalog) ItemTradeable(id string) bool {
	d, ok := ic.Defs[id]
	if !ok {
		return false
	}
	if d.Kind == "QUEST" {
		return false
	}
	return d.Tradeable
}

// StackLimit returns the per-stack cap for an item, 0 when uncapped or
// unknown.
func (ic *ItemCatalog) StackLimit(id string) int {
	return ic.Defs[id].MaxStack
}

func (sc *SpeciesCatalog) Known(id string) bool {
	_, ok := sc.Defs[id]
	return ok
}

func (sc *SpeciesCatalog) Get(id string) (SpeciesDef, bool) {
	d, ok := sc.Defs[id]
	return d, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		if !validItemKind(d.Kind) {
			return fmt.Errorf("items.json: %s: unknown kind %q", d.ID, d.Kind)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func loadSpecies(path string, out *SpeciesCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []SpeciesDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("species.json: %w", err)
	}
	out.Defs = map[string]SpeciesDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("species.json: empty id")
		}
		if d.BaseStats == (BaseStats{}) {
			return fmt.Errorf("species.json: %s: missing base_stats", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func validItemKind(kind string) bool {
	switch kind {
	case "MATERIAL", "FOOD", "HELD", "CURE", "QUEST":
		return true
	}
	return false
}
