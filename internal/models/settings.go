package models

import "github.com/shopspring/decimal"

// PricingSettings is the live admin configuration relevant to one tool type.
// Nil overrides fall back to the global margin or the catalog base cost.
type PricingSettings struct {
	ToolType         string
	DefaultMargin    decimal.Decimal
	MarginOverride   *decimal.Decimal
	BaseCostOverride *decimal.Decimal
}

// Margin resolves the margin percent to apply.
func (p PricingSettings) Margin() decimal.Decimal {
	if p.MarginOverride != nil {
		return *p.MarginOverride
	}
	return p.DefaultMargin
}
