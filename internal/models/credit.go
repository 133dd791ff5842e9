package models

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies an audit entry.
type Category string

// Audit entry categories.
const (
	CategoryPurchase         Category = "purchase"
	CategoryAdReward         Category = "ad-reward"
	CategoryCampaignReward   Category = "campaign-reward"
	CategoryReferral         Category = "referral"
	CategoryAdminAdjustment  Category = "admin-adjustment"
	CategoryToolDeduction    Category = "tool-deduction"
	CategoryTransferIn       Category = "transfer-in"
	CategoryTransferOut      Category = "transfer-out"
	CategoryPrivilegedBypass Category = "privileged-bypass"
	CategoryChargeShortfall  Category = "charge-shortfall"
)

var knownCategories = map[Category]bool{
	CategoryPurchase:         true,
	CategoryAdReward:         true,
	CategoryCampaignReward:   true,
	CategoryReferral:         true,
	CategoryAdminAdjustment:  true,
	CategoryToolDeduction:    true,
	CategoryTransferIn:       true,
	CategoryTransferOut:      true,
	CategoryPrivilegedBypass: true,
	CategoryChargeShortfall:  true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return knownCategories[c]
}

// IsFreeIssue reports whether credits in this category were granted without payment.
func (c Category) IsFreeIssue() bool {
	return c == CategoryAdReward || c == CategoryCampaignReward || c == CategoryReferral
}

// AuditEntry is one immutable balance-affecting event. Amount is signed:
// positive credits the account, negative debits it.
type AuditEntry struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Amount      int64     `json:"amount"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Reference   *string   `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransferReceipt is the stored outcome of a transfer, keyed by sender and
// client request token so retried calls replay instead of re-executing.
type TransferReceipt struct {
	SenderID            uuid.UUID `json:"sender_id"`
	Token               string    `json:"token"`
	ReceiverID          uuid.UUID `json:"receiver_id"`
	Amount              int64     `json:"amount"`
	SenderBalance       int64     `json:"sender_balance"`
	ReceiverDisplayName string    `json:"receiver_display_name"`
	CreatedAt           time.Time `json:"created_at"`
}
