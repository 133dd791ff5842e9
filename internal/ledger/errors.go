package ledger

import "errors"

var (
	// ErrInsufficientBalance is returned when a non-privileged account cannot cover a debit or transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidTransfer is returned for a transfer to self or a reused request token.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrReceiverNotFound is returned when the receiver is missing or inactive at commit time.
	ErrReceiverNotFound = errors.New("receiver not found")
	// ErrConcurrencyConflict is returned once the bounded retry budget for
	// serialization failures is spent. Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account inactive")
	ErrAccountExists   = errors.New("account already exists")
)
