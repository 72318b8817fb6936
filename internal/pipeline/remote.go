package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
)

var (
	// ErrInsufficientCredit is the remote's distinct signal that the balance
	// cannot cover another chunk. It ends the run and is never retried.
	ErrInsufficientCredit = errors.New("insufficient credits")

	// ErrCancelled is returned when a run is cancelled
	ErrCancelled = errors.New("run cancelled")

	// ErrCannotProceed is returned when confirming a run whose estimate
	// reported too few credits
	ErrCannotProceed = errors.New("insufficient credits to start transcription")

	// ErrInvalidTransition is returned when an operation does not fit the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrEmptyTranscript is returned when every chunk came back without text
	ErrEmptyTranscript = errors.New("transcription produced no text")
)

// Estimate is the pre-flight credit check
type Estimate struct {
	DurationSeconds float64 `json:"durationSeconds"`
	RequiredCredits int     `json:"requiredCredits"`
	CurrentCredits  int     `json:"currentCredits"`
	CanProceed      bool    `json:"canProceed"`
}

// ChunkResult is the remote's answer for one transcribed chunk. Estimated is
// set when CreditsRemaining is a local guess because the deduction failed.
type ChunkResult struct {
	Text             string `json:"text"`
	CreditsRemaining int    `json:"creditsRemaining"`
	ChunkIndex       int    `json:"chunkIndex"`
	Estimated        bool   `json:"creditsEstimated,omitempty"`
}

// SaveRequest is the transcript persisted when a run completes or partially completes
type SaveRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"durationSeconds"`
	CreditsUsed     int     `json:"creditsUsed"`
	IsPartial       bool    `json:"isPartial"`
}

// Remote is the credit-metering service a pipeline runs against
type Remote interface {
	Estimate(ctx context.Context, durationSeconds float64) (*Estimate, error)
	TranscribeSegment(ctx context.Context, audioBase64 string, chunkIndex, totalChunks int) (*ChunkResult, error)
	PersistTranscript(ctx context.Context, req SaveRequest) (string, error)
	FetchCreditBalance(ctx context.Context) (int, error)
}

// PermanentError marks a remote failure another attempt cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retry loop gives up on it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// PersistenceError reports a transcript that could not be saved. The text it
// belongs to is still returned to the caller.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save transcript: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether a chunk submission that failed with err may be attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientCredit) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	var de *audio.DecodeError
	return !errors.As(err, &de)
}
