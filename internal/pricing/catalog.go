package pricing

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Usage is the billable shape of one request: how many items were selected and
// how many target platforms were chosen.
type Usage struct {
	Items     int `json:"items"`
	Platforms int `json:"platforms"`
}

// CostFormula turns usage into the multiplier applied to a tool's base cost.
type CostFormula func(Usage) decimal.Decimal

func atLeastOne(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

// Flat charges the base cost once regardless of usage.
func Flat(Usage) decimal.Decimal { return decimal.NewFromInt(1) }

// PerItem multiplies by the number of selected items.
func PerItem(u Usage) decimal.Decimal { return decimal.NewFromInt(atLeastOne(u.Items)) }

// PerPlatform multiplies by the number of target platforms.
func PerPlatform(u Usage) decimal.Decimal { return decimal.NewFromInt(atLeastOne(u.Platforms)) }

// PerItemAndPlatform sums the item and platform multipliers. They are never averaged.
func PerItemAndPlatform(u Usage) decimal.Decimal {
	return PerItem(u).Add(PerPlatform(u))
}

// ToolType is one entry of the catalog. Adding a tool is a matter of adding a
// ToolType and its input schema; nothing in the ledger or orchestrator changes.
type ToolType struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BaseCost    decimal.Decimal `json:"base_cost"`
	Pricing     string          `json:"pricing"`
	Formula     CostFormula     `json:"-"`

	schema *jsonschema.Schema
}

// Catalog holds the known tool types and their compiled input schemas.
type Catalog struct {
	tools map[string]*ToolType
}

// NewCatalog compiles each tool's input schema from schemas/<name>.json.
func NewCatalog(tools ...ToolType) (*Catalog, error) {
	c := &Catalog{tools: make(map[string]*ToolType, len(tools))}
	for i := range tools {
		t := tools[i]
		if t.Formula == nil {
			return nil, fmt.Errorf("tool %q: missing cost formula", t.Name)
		}
		if !t.BaseCost.IsPositive() {
			return nil, fmt.Errorf("tool %q: base cost must be positive", t.Name)
		}
		data, err := schemaFS.ReadFile("schemas/" + t.Name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema for %q: %w", t.Name, err)
		}
		t.schema, err = jsonschema.CompileString("https://credits.inaiurai.dev/schemas/"+t.Name+".input", string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", t.Name, err)
		}
		c.tools[t.Name] = &t
	}
	return c, nil
}

// DefaultCatalog returns the production tool set.
func DefaultCatalog() (*Catalog, error) {
	return NewCatalog(
		ToolType{Name: "image-generation", Description: "Text to image", BaseCost: decimal.NewFromInt(4), Pricing: "per-item", Formula: PerItem},
		ToolType{Name: "video-generation", Description: "Text to short video clip", BaseCost: decimal.NewFromInt(25), Pricing: "flat", Formula: Flat},
		ToolType{Name: "social-caption", Description: "Captions tailored per social platform", BaseCost: decimal.RequireFromString("1.5"), Pricing: "per-platform", Formula: PerPlatform},
		ToolType{Name: "product-photoshoot", Description: "Product shots for each item and platform", BaseCost: decimal.NewFromInt(3), Pricing: "per-item-and-platform", Formula: PerItemAndPlatform},
		ToolType{Name: "voiceover", Description: "Text to speech", BaseCost: decimal.NewFromInt(6), Pricing: "flat", Formula: Flat},
	)
}

// Lookup returns the tool type or ErrUnknownTool.
func (c *Catalog) Lookup(name string) (*ToolType, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// List returns all tool types sorted by name.
func (c *Catalog) List() []*ToolType {
	out := make([]*ToolType, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate hard-rejects params that do not match the tool's input schema and
// returns the usage they describe.
func (c *Catalog) Validate(name string, params json.RawMessage) (Usage, error) {
	t, err := c.Lookup(name)
	if err != nil {
		return Usage{}, err
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return Usage{}, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidParams, err)
	}
	if err := t.schema.Validate(doc); err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return usageOf(doc), nil
}

// usageOf reads the conventional "count", "items" and "platforms" fields.
func usageOf(doc interface{}) Usage {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return Usage{}
	}
	var u Usage
	if n, ok := m["count"].(float64); ok {
		u.Items = int(n)
	}
	if items, ok := m["items"].([]interface{}); ok {
		u.Items = len(items)
	}
	if platforms, ok := m["platforms"].([]interface{}); ok {
		u.Platforms = len(platforms)
	}
	return u
}
