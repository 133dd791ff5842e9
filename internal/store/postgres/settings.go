package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/credits/internal/models"
)

const globalSettingsKey = "*"

// PricingSettings reads the current margin and base cost configuration for a
// tool. It always hits the database; admins edit these rows at runtime.
func (s *Store) PricingSettings(ctx context.Context, toolType string) (models.PricingSettings, error) {
	var defMargin, margin, baseCost *string
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT margin_percent::text FROM pricing_settings WHERE tool_type = $1),
			(SELECT margin_percent::text FROM pricing_settings WHERE tool_type = $2),
			(SELECT base_cost::text FROM pricing_settings WHERE tool_type = $2)
	`, globalSettingsKey, toolType).Scan(&defMargin, &margin, &baseCost)
	if err != nil {
		return models.PricingSettings{}, fmt.Errorf("read pricing settings: %w", mapErr(err))
	}

	out := models.PricingSettings{ToolType: toolType, DefaultMargin: decimal.Zero}
	if defMargin != nil {
		if out.DefaultMargin, err = decimal.NewFromString(*defMargin); err != nil {
			return out, fmt.Errorf("parse default margin: %w", err)
		}
	}
	if out.MarginOverride, err = parseOptional(margin); err != nil {
		return out, fmt.Errorf("parse margin for %q: %w", toolType, err)
	}
	if out.BaseCostOverride, err = parseOptional(baseCost); err != nil {
		return out, fmt.Errorf("parse base cost for %q: %w", toolType, err)
	}
	return out, nil
}

func parseOptional(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
