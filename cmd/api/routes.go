package main

import (
	"log/slog"
	"net/http"

	"github.com/inaiurai/credits/internal/audit"
	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/jobs"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/pricing"
	"github.com/inaiurai/credits/internal/router"
)

// newAPIHandler builds the /api/v1 surface. Middleware chain:
// BearerAuth -> (RequirePrivileged on admin routes) -> handler.
func newAPIHandler(
	cfg *config.Config,
	ledgerSvc *ledger.Service,
	auditLog *audit.Log,
	calculator *pricing.Calculator,
	orchestrator *jobs.Orchestrator,
	verifier *auth.Verifier,
	logger *slog.Logger,
) http.Handler {
	h := router.Handlers{
		Wallet: &handlers.WalletHandler{Ledger: ledgerSvc, Audit: auditLog, Logger: logger},
		Quotes: &handlers.QuoteHandler{Quoter: calculator, Logger: logger},
		Jobs:   &handlers.JobHandler{Jobs: orchestrator, Quoter: calculator, Logger: logger},
		Admin:  &handlers.AdminHandler{Ledger: ledgerSvc, Summary: auditLog, Logger: logger},
	}
	authn := middleware.BearerAuth(verifier, ledgerSvc, cfg.Ledger.SignupBonus, logger)
	return router.New(h, authn)
}
