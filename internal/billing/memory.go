package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type profile struct {
	email   string
	credits int
}

// MemoryLedger is an in-process Ledger for tests and single-node development
type MemoryLedger struct {
	profiles     map[string]*profile
	transactions map[string][]Transaction
	mu           sync.Mutex
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		profiles:     make(map[string]*profile),
		transactions: make(map[string][]Transaction),
	}
}

// EnsureProfile creates the profile with the signup bonus if missing
func (l *MemoryLedger) EnsureProfile(ctx context.Context, userID, email string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.profiles[userID]; ok {
		return p.credits, nil
	}

	l.profiles[userID] = &profile{email: email, credits: FreeCredits}
	l.record(userID, FreeCredits, TransactionSignupBonus, "Welcome bonus credits")
	return FreeCredits, nil
}

// Balance returns the current balance
func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.profiles[userID]
	if !ok {
		return 0, ErrProfileNotFound
	}
	return p.credits, nil
}

// Deduct atomically removes one credit
func (l *MemoryLedger) Deduct(ctx context.Context, userID, description string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.profiles[userID]
	if !ok {
		return 0, ErrProfileNotFound
	}
	if p.credits < 1 {
		return p.credits, ErrInsufficientCredit
	}

	p.credits--
	l.record(userID, -1, TransactionUsage, description)
	return p.credits, nil
}

// Add credits a purchase or grant
func (l *MemoryLedger) Add(ctx context.Context, userID string, amount int, txType, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.profiles[userID]
	if !ok {
		return 0, ErrProfileNotFound
	}

	p.credits += amount
	l.record(userID, amount, txType, description)
	return p.credits, nil
}

// Transactions returns the newest entries first
func (l *MemoryLedger) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs := append([]Transaction(nil), l.transactions[userID]...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (l *MemoryLedger) record(userID string, amount int, txType, description string) {
	// newest last; reversed on read
	createdAt := time.Now()
	if txs := l.transactions[userID]; len(txs) > 0 && !createdAt.After(txs[len(txs)-1].CreatedAt) {
		createdAt = txs[len(txs)-1].CreatedAt.Add(time.Nanosecond)
	}
	l.transactions[userID] = append(l.transactions[userID], Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   createdAt,
	})
}
