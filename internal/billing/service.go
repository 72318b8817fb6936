package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDuration is returned for non-positive or non-finite durations
var ErrInvalidDuration = errors.New("invalid audio duration")

// Estimate is the pre-flight answer for one recording
type Estimate struct {
	DurationSeconds float64 `json:"durationSeconds"`
	RequiredCredits int     `json:"requiredCredits"`
	CurrentCredits  int     `json:"currentCredits"`
	CanProceed      bool    `json:"canProceed"`
}

// CreditPackage is a purchasable bundle. Checkout happens elsewhere.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	PriceCents int    `json:"priceCents"`
	Popular    bool   `json:"popular,omitempty"`
}

// CreditPackages is the fixed catalogue
var CreditPackages = []CreditPackage{
	{ID: "pack_10", Name: "Starter", Credits: 10, PriceCents: 500},
	{ID: "pack_50", Name: "Popular", Credits: 50, PriceCents: 2000, Popular: true},
	{ID: "pack_100", Name: "Pro", Credits: 100, PriceCents: 3500},
}

// FindPackage returns the package with id
func FindPackage(id string) (CreditPackage, bool) {
	for _, p := range CreditPackages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}

// Service prices recordings against a ledger
type Service struct {
	ledger          Ledger
	creditPerMinute float64
}

// NewService creates a billing service. creditPerMinute <= 0 means one credit per minute.
func NewService(ledger Ledger, creditPerMinute float64) *Service {
	if creditPerMinute <= 0 {
		creditPerMinute = 1
	}
	return &Service{ledger: ledger, creditPerMinute: creditPerMinute}
}

// Ledger returns the underlying ledger
func (s *Service) Ledger() Ledger { return s.ledger }

// RequiredCredits returns ceil(minutes * creditPerMinute)
func (s *Service) RequiredCredits(durationSeconds float64) int {
	return int(math.Ceil(durationSeconds / 60 * s.creditPerMinute))
}

// Estimate checks whether userID can afford durationSeconds of audio
func (s *Service) Estimate(ctx context.Context, userID string, durationSeconds float64) (*Estimate, error) {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, durationSeconds)
	}

	current, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	required := s.RequiredCredits(durationSeconds)
	return &Estimate{
		DurationSeconds: durationSeconds,
		RequiredCredits: required,
		CurrentCredits:  current,
		CanProceed:      current >= required,
	}, nil
}
