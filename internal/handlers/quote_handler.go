package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/inaiurai/credits/internal/pricing"
)

// Quoter prices catalog tools against the live settings.
type Quoter interface {
	Catalog() *pricing.Catalog
	QuoteTool(ctx context.Context, toolType string, usage pricing.Usage) (pricing.PriceQuote, error)
}

// QuoteHandler serves the tool catalog and price quotes.
type QuoteHandler struct {
	Quoter Quoter
	Logger *slog.Logger
}

// ListTools handles GET /api/v1/tools.
func (h *QuoteHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Quoter.Catalog().List())
}

type quoteRequest struct {
	ToolType    string          `json:"tool_type"`
	InputParams json.RawMessage `json:"input_params,omitempty"`
	Items       int             `json:"items"`
	Platforms   int             `json:"platforms"`
}

// Quote handles POST /api/v1/quotes. Usage comes from input_params when
// given, otherwise from the explicit items and platforms counts.
func (h *QuoteHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ToolType == "" {
		writeError(w, http.StatusBadRequest, "tool_type is required")
		return
	}
	if req.Items < 0 || req.Platforms < 0 {
		writeError(w, http.StatusBadRequest, "items and platforms must not be negative")
		return
	}

	usage := pricing.Usage{Items: req.Items, Platforms: req.Platforms}
	if len(req.InputParams) > 0 {
		var err error
		usage, err = h.Quoter.Catalog().Validate(req.ToolType, req.InputParams)
		if err != nil {
			fail(w, logger(h.Logger), "validate quote params", err)
			return
		}
	}
	q, err := h.Quoter.QuoteTool(r.Context(), req.ToolType, usage)
	if err != nil {
		fail(w, logger(h.Logger), "quote tool", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
