// Package pricing turns tool usage into a credit price. Margins and base-cost
// overrides are live admin settings and are read on every quote.
package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/credits/internal/models"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxQuote = decimal.NewFromInt(math.MaxInt64)
)

// PriceQuote is an ephemeral price. It is never persisted; jobs keep only FinalCost.
type PriceQuote struct {
	ToolType      string          `json:"tool_type,omitempty"`
	BaseCost      decimal.Decimal `json:"base_cost"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	FinalCost     int64           `json:"final_cost"`
}

// Quote computes ceil(base * multiplier * (1 + margin/100)). Rounding happens
// once, on the final product.
func Quote(baseCost, marginPercent, multiplier decimal.Decimal) (PriceQuote, error) {
	if !baseCost.IsPositive() {
		return PriceQuote{}, fmt.Errorf("%w: base cost %s must be positive", ErrInvalidQuote, baseCost)
	}
	if !multiplier.IsPositive() {
		return PriceQuote{}, fmt.Errorf("%w: multiplier %s must be positive", ErrInvalidQuote, multiplier)
	}
	if marginPercent.IsNegative() {
		return PriceQuote{}, fmt.Errorf("%w: margin %s must not be negative", ErrInvalidQuote, marginPercent)
	}
	// base * mult * (100 + margin) / 100; dividing by 100 is exact in decimal.
	final := baseCost.Mul(multiplier).Mul(hundred.Add(marginPercent)).Div(hundred).Ceil()
	if final.GreaterThan(maxQuote) {
		return PriceQuote{}, fmt.Errorf("%w: price overflows", ErrInvalidQuote)
	}
	return PriceQuote{
		BaseCost:      baseCost,
		MarginPercent: marginPercent,
		Multiplier:    multiplier,
		FinalCost:     final.IntPart(),
	}, nil
}

// SettingsReader exposes the admin pricing configuration.
type SettingsReader interface {
	PricingSettings(ctx context.Context, toolType string) (models.PricingSettings, error)
}

// Calculator prices catalog tools against the live settings.
type Calculator struct {
	catalog  *Catalog
	settings SettingsReader
}

func NewCalculator(catalog *Catalog, settings SettingsReader) *Calculator {
	return &Calculator{catalog: catalog, settings: settings}
}

func (c *Calculator) Catalog() *Catalog {
	return c.catalog
}

// QuoteTool prices one use of toolType. Settings are fetched fresh each call.
func (c *Calculator) QuoteTool(ctx context.Context, toolType string, usage Usage) (PriceQuote, error) {
	t, err := c.catalog.Lookup(toolType)
	if err != nil {
		return PriceQuote{}, err
	}
	settings, err := c.settings.PricingSettings(ctx, toolType)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("read pricing settings: %w", err)
	}
	base := t.BaseCost
	if settings.BaseCostOverride != nil {
		base = *settings.BaseCostOverride
	}
	q, err := Quote(base, settings.Margin(), t.Formula(usage))
	if err != nil {
		return PriceQuote{}, err
	}
	q.ToolType = toolType
	return q, nil
}
