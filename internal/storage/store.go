package storage

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultListLimit is the number of transcripts returned by List when limit <= 0
const DefaultListLimit = 50

var (
	// ErrNotFound is returned when a transcript does not exist or belongs to another user
	ErrNotFound = errors.New("transcript not found")

	// ErrEmptyText is returned when saving a transcript without text
	ErrEmptyText = errors.New("missing transcription text")
)

// Transcript is a persisted transcription
type Transcript struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Text            string    `json:"text"`
	DurationSeconds int       `json:"durationSeconds"`
	CreditsUsed     int       `json:"creditsUsed"`
	IsPartial       bool      `json:"isPartial"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewTranscript is the input to Save
type NewTranscript struct {
	Text            string
	DurationSeconds float64
	CreditsUsed     int
	IsPartial       bool
}

// Validate checks the transcript can be stored
func (n NewTranscript) Validate() error {
	if n.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// RoundedDuration returns the duration rounded to whole seconds
func (n NewTranscript) RoundedDuration() int {
	if n.DurationSeconds <= 0 || math.IsNaN(n.DurationSeconds) {
		return 0
	}
	return int(math.Round(n.DurationSeconds))
}

// Store persists transcripts. Every operation is scoped to one owner.
type Store interface {
	Save(ctx context.Context, userID string, t NewTranscript) (*Transcript, error)
	// List returns the newest transcripts first
	List(ctx context.Context, userID string, limit int) ([]Transcript, error)
	Delete(ctx context.Context, userID, id string) error
}
