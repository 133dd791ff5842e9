package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/audit"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/models"
)

// grantCategories are the categories an operator may credit under.
var grantCategories = map[models.Category]bool{
	models.CategoryPurchase:        true,
	models.CategoryAdReward:        true,
	models.CategoryCampaignReward:  true,
	models.CategoryReferral:        true,
	models.CategoryAdminAdjustment: true,
}

// AdminLedger is the subset of the ledger behind the operator endpoints.
type AdminLedger interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, category models.Category, description string) (ledger.Result, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (ledger.Reconciliation, error)
	Deactivate(ctx context.Context, accountID uuid.UUID) error
}

// SummaryReader aggregates the audit log platform-wide.
type SummaryReader interface {
	Summary(ctx context.Context, since, until *time.Time) (audit.Summary, error)
}

// AdminHandler serves /api/v1/admin endpoints. Routes are wrapped in
// middleware.RequirePrivileged.
type AdminHandler struct {
	Ledger  AdminLedger
	Summary SummaryReader
	Logger  *slog.Logger
}

type grantRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      int64           `json:"amount"`
	Category    models.Category `json:"category"`
	Description string          `json:"description"`
}

// Grant handles POST /api/v1/admin/credits.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account_id")
		return
	}
	if !grantCategories[req.Category] {
		writeError(w, http.StatusBadRequest, "category cannot be granted")
		return
	}
	res, err := h.Ledger.Credit(r.Context(), accountID, req.Amount, req.Category, req.Description)
	if err != nil {
		fail(w, logger(h.Logger), "grant credits", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconciliation handles GET /api/v1/admin/reconciliation?since=&until=.
func (h *AdminHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		return
	}
	until, err := timeParam(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, "until must be an RFC 3339 timestamp")
		return
	}
	s, err := h.Summary.Summary(r.Context(), since, until)
	if err != nil {
		fail(w, logger(h.Logger), "reconciliation summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ReconcileAccount handles GET /api/v1/admin/accounts/{id}/reconcile.
func (h *AdminHandler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	rec, err := h.Ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		fail(w, logger(h.Logger), "reconcile account", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Deactivate handles POST /api/v1/admin/accounts/{id}/deactivate.
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.Ledger.Deactivate(r.Context(), accountID); err != nil {
		fail(w, logger(h.Logger), "deactivate account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
