package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleOrdinary   = "ordinary"
	RolePrivileged = "privileged"
)

// Account holds a wallet balance in whole credits. Balance is never negative and
// only changes through the ledger service.
type Account struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"`
	Balance      int64     `json:"balance"`
	InitialGrant int64     `json:"initial_grant"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsPrivileged reports whether the account bypasses cost enforcement.
func (a *Account) IsPrivileged() bool {
	return a.Role == RolePrivileged
}
