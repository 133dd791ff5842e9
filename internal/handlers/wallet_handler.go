package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// WalletLedger is the subset of the ledger the wallet endpoints use.
type WalletLedger interface {
	Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error)
}

// HistoryReader lists an account's audit entries, newest first.
type HistoryReader interface {
	QueryByAccount(ctx context.Context, accountID uuid.UUID, since *time.Time, limit int) ([]*models.AuditEntry, error)
}

// WalletHandler serves /api/v1/wallet endpoints.
type WalletHandler struct {
	Ledger WalletLedger
	Audit  HistoryReader
	Logger *slog.Logger
}

// Balance handles GET /api/v1/wallet.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	fresh, err := h.Ledger.Account(r.Context(), acc.ID)
	if err != nil {
		fail(w, logger(h.Logger), "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}

// History handles GET /api/v1/wallet/history?since=&limit=.
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	since, err := timeParam(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		return
	}
	limit, err := intParam(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.Audit.QueryByAccount(r.Context(), acc.ID, since, limit)
	if err != nil {
		fail(w, logger(h.Logger), "wallet history", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type transferRequest struct {
	ReceiverID   string `json:"receiver_id"`
	Amount       int64  `json:"amount"`
	RequestToken string `json:"request_token"`
}

// Transfer handles POST /api/v1/wallet/transfer. The Idempotency-Key header,
// when present, takes precedence over request_token.
func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid receiver_id")
		return
	}
	token := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if token == "" {
		token = strings.TrimSpace(req.RequestToken)
	}

	res, err := h.Ledger.Transfer(r.Context(), ledger.TransferRequest{
		SenderID:   acc.ID,
		ReceiverID: receiverID,
		Amount:     req.Amount,
		Token:      token,
	})
	if err != nil {
		fail(w, logger(h.Logger), "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
