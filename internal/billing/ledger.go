package billing

import (
	"context"
	"errors"
	"time"
)

const (
	// FreeCredits is granted once when a profile is first seen
	FreeCredits = 30

	// Transaction types
	TransactionSignupBonus = "signup_bonus"
	TransactionUsage       = "usage"
	TransactionPurchase    = "purchase"
)

var (
	// ErrInsufficientCredit is returned by Deduct when the balance is below one credit
	ErrInsufficientCredit = errors.New("insufficient credits")

	// ErrProfileNotFound is returned for users without a profile
	ErrProfileNotFound = errors.New("profile not found")
)

// Transaction is one ledger entry. Amount is negative for usage.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Amount      int       `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ledger owns per-user credit balances. Deduct must be atomic: it never
// takes a balance below zero, whatever the concurrency.
type Ledger interface {
	// EnsureProfile creates a profile with FreeCredits on first sight and returns the balance
	EnsureProfile(ctx context.Context, userID, email string) (int, error)
	Balance(ctx context.Context, userID string) (int, error)
	// Deduct removes one credit and returns the remaining balance
	Deduct(ctx context.Context, userID, description string) (int, error)
	Add(ctx context.Context, userID string, amount int, txType, description string) (int, error)
	Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
}
