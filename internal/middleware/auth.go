package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/models"
)

type contextKey string

const ctxAccountKey contextKey = "account"

// TokenValidator verifies a raw bearer token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Identity, error)
}

// AccountResolver loads the caller's account, opening it on first contact.
type AccountResolver interface {
	EnsureAccount(ctx context.Context, req ledger.OpenRequest) (*models.Account, error)
}

// BearerAuth authenticates requests with a JWT bearer token and puts the
// caller's account in the request context. The first request from a new
// subject opens its account with signupBonus credits; the role claim is only
// read at that point.
func BearerAuth(tokens TokenValidator, accounts AccountResolver, signupBonus int64, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			role := id.Role
			if role != models.RolePrivileged {
				role = models.RoleOrdinary
			}
			acc, err := accounts.EnsureAccount(r.Context(), ledger.OpenRequest{
				ID:          id.AccountID,
				DisplayName: id.DisplayName,
				Role:        role,
				SignupBonus: signupBonus,
			})
			if err != nil {
				log.Error("resolve account failed", "account_id", id.AccountID, "error", err)
				http.Error(w, `{"error":"failed to load account"}`, http.StatusInternalServerError)
				return
			}
			if !acc.Active {
				http.Error(w, `{"error":"account inactive"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// RequirePrivileged lets only privileged accounts through. It must run after
// BearerAuth.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc := AccountFromCtx(r.Context())
		if acc == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !acc.IsPrivileged() {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
