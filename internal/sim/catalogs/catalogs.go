package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/tile"
)

// Catalogs is the loaded effect data plus the digests used to stamp logs and snapshots.
type Catalogs struct {
	Effects *effects.Registry

	// Files is indexed by category name ("soil", "animals", ...).
	Files  map[string]FileInfo
	Digest string
}

type FileInfo struct {
	Category string
	Path     string
	Digest   string
	Keys     int
	Raw      []byte // nil when the file is absent
}

// EntryDef is one catalog key as it appears on disk.
type EntryDef struct {
	Key     string      `json:"key"`
	Effects []EffectDef `json:"effects"`
}

// EffectDef is one effect descriptor on disk. Exactly one of Delta and Fn is set.
type EffectDef struct {
	Target   string            `json:"target"`
	Property string            `json:"property"`
	Delta    *float64          `json:"delta,omitempty"`
	Fn       *effects.FuncSpec `json:"fn,omitempty"`
}

const schemaURL = "agrosim://catalog.schema.json"

var catalogSchema = jsonschema.MustCompileString(schemaURL, `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["key", "effects"],
    "additionalProperties": false,
    "properties": {
      "key": {"type": "string", "minLength": 1},
      "effects": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["target", "property"],
          "additionalProperties": false,
          "properties": {
            "target": {"enum": ["topography", "soil", "resources", "plants", "animals"]},
            "property": {"type": "string", "minLength": 1},
            "delta": {"type": "number"},
            "fn": {
              "type": "object",
              "required": ["name"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "of": {"type": "string"},
                "param": {"type": "string"},
                "factor": {"type": "number"},
                "threshold": {"type": "number"},
                "above": {"type": "number"},
                "below": {"type": "number"},
                "rates": {"type": "array", "items": {"type": "number"}, "minItems": 1}
              },
              "additionalProperties": false
            }
          },
          "oneOf": [
            {"required": ["delta"], "not": {"required": ["fn"]}},
            {"required": ["fn"], "not": {"required": ["delta"]}}
          ]
        }
      }
    }
  }
}`)

// Load reads configDir/effects/<category>.json for every category. A missing file is an empty catalog.
func Load(configDir string) (*Catalogs, error) {
	c := &Catalogs{
		Effects: effects.NewRegistry(),
		Files:   map[string]FileInfo{},
	}
	var concat bytes.Buffer
	for _, cat := range effects.Order {
		name := cat.String()
		path := filepath.Join(configDir, "effects", name+".json")
		info, catalog, err := loadFile(path, cat)
		if err != nil {
			return nil, err
		}
		c.Effects.Set(cat, catalog)
		c.Files[name] = info
		concat.WriteString(name)
		concat.WriteByte('=')
		concat.WriteString(info.Digest)
		concat.WriteByte('\n')
	}
	c.Digest = sha256Hex(concat.Bytes())
	return c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadFile(path string, cat effects.Category) (FileInfo, *effects.Catalog, error) {
	info := FileInfo{Category: cat.String(), Path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			info.Digest = sha256Hex(nil)
			return info, effects.NewCatalog(), nil
		}
		return info, nil, err
	}
	info.Raw = raw
	info.Digest = sha256Hex(raw)

	catalog, err := Parse(raw)
	if err != nil {
		return info, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	info.Keys = catalog.Len()
	return info, catalog, nil
}

// Parse validates raw catalog JSON against the catalog schema and builds the catalog.
func Parse(raw []byte) (*effects.Catalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := catalogSchema.Validate(doc); err != nil {
		return nil, err
	}
	var defs []EntryDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, err
	}

	out := effects.NewCatalog()
	for _, d := range defs {
		effs := make([]effects.Effect, 0, len(d.Effects))
		for i, ed := range d.Effects {
			e, err := ed.build()
			if err != nil {
				return nil, fmt.Errorf("key %q effect %d: %w", d.Key, i, err)
			}
			effs = append(effs, e)
		}
		out.Add(d.Key, effs...)
	}
	return out, nil
}

func (d EffectDef) build() (effects.Effect, error) {
	e := effects.Effect{Target: tile.GroupName(d.Target), Property: d.Property}
	switch {
	case d.Delta != nil:
		e.Delta = effects.ConstantDelta(*d.Delta)
	case d.Fn != nil:
		fn, err := effects.Build(*d.Fn)
		if err != nil {
			return e, err
		}
		e.Delta = fn
	default:
		return e, fmt.Errorf("missing delta")
	}
	return e, nil
}
