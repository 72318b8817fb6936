package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
)

// TranscriptionUnit records one chunk's successful exchange with the remote
type TranscriptionUnit struct {
	ChunkIndex            int     `json:"chunkIndex"`
	Attempts              int     `json:"attempts"`
	Text                  string  `json:"text"`
	CreditsRemainingAfter int     `json:"creditsRemainingAfter"`
	CreditsEstimated      bool    `json:"creditsEstimated,omitempty"`
	DurationSeconds       float64 `json:"durationSeconds"`
	PayloadBytes          int     `json:"payloadBytes"`
}

// Progress counts processed chunks
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Snapshot is a consistent copy of a run's observable state
type Snapshot struct {
	ID               string              `json:"id"`
	State            State               `json:"state"`
	SourceName       string              `json:"sourceName,omitempty"`
	Estimate         *Estimate           `json:"estimate,omitempty"`
	Progress         Progress            `json:"progress"`
	Text             string              `json:"text"`
	CreditsUsed      int                 `json:"creditsUsed"`
	CreditsRemaining int                 `json:"creditsRemaining"`
	CreditsEstimated bool                `json:"creditsEstimated,omitempty"`
	IsPartial        bool                `json:"isPartial"`
	TranscriptID     string              `json:"transcriptionId,omitempty"`
	Error            string              `json:"error,omitempty"`
	Units            []TranscriptionUnit `json:"units,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Run is one end-to-end transcription attempt for one source.
// A Run is driven by one Pipeline call at a time; Cancel and Snapshot may be
// called from any goroutine.
type Run struct {
	ID     string
	Source audio.Source

	state    State
	estimate *Estimate
	units    []TranscriptionUnit
	text     string

	creditsUsed      int
	creditsRemaining int
	creditsEstimated bool
	isPartial        bool
	cancelRequested  bool
	progress         Progress
	transcriptID     string
	lastErr          error

	onProgress func(Snapshot)

	createdAt time.Time
	updatedAt time.Time

	mu sync.RWMutex
}

// NewRun creates an idle run for src
func NewRun(src audio.Source) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.NewString(),
		Source:    src,
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
	}
}

// OnProgress registers fn to receive a snapshot after every state or chunk change.
// fn runs on the goroutine driving the run and must not block.
func (r *Run) OnProgress(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = fn
}

// State returns the current state
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Estimate returns the pre-flight estimate, nil before analysis
func (r *Run) Estimate() *Estimate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.estimate == nil {
		return nil
	}
	est := *r.estimate
	return &est
}

// Err returns the error that last returned the run to Idle
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Cancel requests cooperative cancellation. A run that has not started
// processing moves to Cancelled immediately; a processing run stops at the
// next chunk boundary. It reports whether the run was still active.
func (r *Run) Cancel() bool {
	r.mu.Lock()
	if !r.state.Active() {
		r.mu.Unlock()
		return false
	}
	r.cancelRequested = true
	notify := false
	if r.state == StateReady {
		r.state = StateCancelled
		r.updatedAt = time.Now()
		notify = true
	}
	r.mu.Unlock()

	if notify {
		r.notify()
	}
	return true
}

// Reset abandons a Ready run before it starts, returning it to Idle
func (r *Run) Reset() error {
	if err := r.transition(StateIdle); err != nil {
		return err
	}
	r.mu.Lock()
	r.estimate = nil
	r.lastErr = nil
	r.cancelRequested = false
	r.mu.Unlock()
	return nil
}

// clearAttempt drops everything a previous processing attempt accumulated
func (r *Run) clearAttempt() {
	r.mu.Lock()
	r.units = nil
	r.text = ""
	r.creditsUsed = 0
	r.creditsEstimated = false
	r.isPartial = false
	r.transcriptID = ""
	r.lastErr = nil
	r.progress = Progress{}
	r.mu.Unlock()
}

// Snapshot returns a copy of the observable state
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:               r.ID,
		State:            r.state,
		SourceName:       r.Source.Name,
		Progress:         r.progress,
		Text:             r.text,
		CreditsUsed:      r.creditsUsed,
		CreditsRemaining: r.creditsRemaining,
		CreditsEstimated: r.creditsEstimated,
		IsPartial:        r.isPartial,
		TranscriptID:     r.transcriptID,
		Units:            append([]TranscriptionUnit(nil), r.units...),
		CreatedAt:        r.createdAt,
		UpdatedAt:        r.updatedAt,
	}
	if r.estimate != nil {
		est := *r.estimate
		s.Estimate = &est
	}
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
	}
	return s
}

func (r *Run) notify() {
	r.mu.RLock()
	fn := r.onProgress
	snap := r.snapshotLocked()
	r.mu.RUnlock()

	if fn != nil {
		fn(snap)
	}
}

// transition moves the run to next if the state table allows it
func (r *Run) transition(next State) error {
	r.mu.Lock()
	if !CanTransition(r.state, next) {
		from := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	r.state = next
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.notify()
	return nil
}

// fail returns the run to Idle and records err
func (r *Run) fail(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.cancelRequested = false
	r.mu.Unlock()
	_ = r.transition(StateIdle)
}

func (r *Run) cancelled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancelRequested
}

// accumulate appends one successful chunk
func (r *Run) accumulate(unit TranscriptionUnit) {
	r.mu.Lock()
	r.units = append(r.units, unit)
	r.text = AppendText(r.text, unit.Text)
	r.creditsUsed++
	r.creditsRemaining = unit.CreditsRemainingAfter
	r.creditsEstimated = unit.CreditsEstimated
	r.progress.Current++
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.notify()
}

// AppendText joins next onto acc with a single space, inserting the separator
// only when both sides are non-empty
func AppendText(acc, next string) string {
	if acc != "" && next != "" {
		return acc + " " + next
	}
	return acc + next
}
