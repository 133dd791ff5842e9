package pricing

import "errors"

var (
	// ErrInvalidQuote is returned for a non-positive base cost or multiplier, or a negative margin.
	ErrInvalidQuote = errors.New("invalid quote input")
	// ErrUnknownTool is returned when the tool type is not in the catalog.
	ErrUnknownTool = errors.New("unknown tool type")
	// ErrInvalidParams is returned when input params fail the tool's schema.
	ErrInvalidParams = errors.New("invalid input params")
)
