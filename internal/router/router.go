package router

import (
	"net/http"

	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/middleware"
)

// Handlers groups the endpoint handlers mounted under /api/v1.
type Handlers struct {
	Wallet *handlers.WalletHandler
	Quotes *handlers.QuoteHandler
	Jobs   *handlers.JobHandler
	Admin  *handlers.AdminHandler
}

// New returns an http.Handler that serves the API under /api/v1. Every route
// except health runs behind authn; admin routes also require a privileged
// account.
func New(h Handlers, authn func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	const base = "/api/v1"

	mux.HandleFunc("GET "+base+"/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	user := func(hf http.HandlerFunc) http.Handler { return authn(hf) }
	admin := func(hf http.HandlerFunc) http.Handler { return authn(middleware.RequirePrivileged(hf)) }

	mux.Handle("GET "+base+"/wallet", user(h.Wallet.Balance))
	mux.Handle("GET "+base+"/wallet/history", user(h.Wallet.History))
	mux.Handle("POST "+base+"/wallet/transfer", user(h.Wallet.Transfer))

	mux.Handle("GET "+base+"/tools", user(h.Quotes.ListTools))
	mux.Handle("POST "+base+"/quotes", user(h.Quotes.Quote))

	mux.Handle("POST "+base+"/jobs", user(h.Jobs.Create))
	mux.Handle("GET "+base+"/jobs", user(h.Jobs.List))
	mux.Handle("GET "+base+"/jobs/{id}", user(h.Jobs.Get))
	mux.Handle("POST "+base+"/jobs/{id}/cancel", user(h.Jobs.Cancel))

	mux.Handle("POST "+base+"/admin/credits", admin(h.Admin.Grant))
	mux.Handle("GET "+base+"/admin/reconciliation", admin(h.Admin.Reconciliation))
	mux.Handle("GET "+base+"/admin/accounts/{id}/reconcile", admin(h.Admin.ReconcileAccount))
	mux.Handle("POST "+base+"/admin/accounts/{id}/deactivate", admin(h.Admin.Deactivate))

	return mux
}
