package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
)

// Config contains pipeline configuration
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns two retries with a one second base delay
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// Result is the outcome handed back when a run reaches Done or Partial
type Result struct {
	RunID            string  `json:"runId"`
	State            State   `json:"state"`
	Text             string  `json:"text"`
	DurationSeconds  float64 `json:"durationSeconds"`
	CreditsUsed      int     `json:"creditsUsed"`
	CreditsRemaining int     `json:"creditsRemaining"`
	CreditsEstimated bool    `json:"creditsEstimated,omitempty"`
	IsPartial        bool    `json:"isPartial"`
	TranscriptID     string  `json:"transcriptionId,omitempty"`
	ChunksCompleted  int     `json:"chunksCompleted"`
	ChunksTotal      int     `json:"chunksTotal"`

	// PersistErr is a *PersistenceError when the transcript could not be saved
	PersistErr error `json:"-"`
}

// Pipeline drives runs against a Remote, one chunk at a time
type Pipeline struct {
	remote  Remote
	chunker *audio.Chunker
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	// detachCalls lets a chunk request finish after ctx is cancelled
	detachCalls bool
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSleep replaces the retry backoff wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithUninterruptedChunks lets the chunk request in flight complete when ctx
// is cancelled. Decoding and retry waits still stop, and the run is cancelled
// at the next chunk boundary.
func WithUninterruptedChunks() Option {
	return func(p *Pipeline) { p.detachCalls = true }
}

// New creates a pipeline
func New(remote Remote, chunker *audio.Chunker, config Config, opts ...Option) *Pipeline {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if chunker == nil {
		chunker = audio.NewChunker(audio.ChunkingConfig{}, nil)
	}

	p := &Pipeline{
		remote:  remote,
		chunker: chunker,
		config:  config,
		logger:  slog.Default(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Analyze discovers the source duration and asks the remote for a credit
// estimate. Idle -> Analyzing -> Ready, or back to Idle on failure.
func (p *Pipeline) Analyze(ctx context.Context, run *Run) (*Estimate, error) {
	if err := run.transition(StateAnalyzing); err != nil {
		return nil, err
	}
	// a run that failed back to Idle starts over
	run.clearAttempt()

	logger := p.logger.With(slog.String("run_id", run.ID))

	info, err := p.chunker.Probe(ctx, run.Source)
	if err != nil {
		p.metrics.RecordDecodeFailure()
		logger.Warn("Failed to read audio duration", slog.String("error", err.Error()))
		run.fail(err)
		return nil, err
	}

	est, err := p.remote.Estimate(ctx, info.DurationSeconds)
	if err != nil {
		err = fmt.Errorf("estimate credits: %w", err)
		logger.Warn("Credit estimate failed", slog.String("error", err.Error()))
		run.fail(err)
		return nil, err
	}

	if run.cancelled() {
		_ = run.transition(StateCancelled)
		return nil, ErrCancelled
	}

	run.mu.Lock()
	run.estimate = est
	run.creditsRemaining = est.CurrentCredits
	run.progress = Progress{}
	run.mu.Unlock()

	if err := run.transition(StateReady); err != nil {
		return nil, err
	}

	logger.Info("Audio analyzed",
		slog.Float64("duration_seconds", est.DurationSeconds),
		slog.Int("required_credits", est.RequiredCredits),
		slog.Int("current_credits", est.CurrentCredits),
		slog.Bool("can_proceed", est.CanProceed))

	return est, nil
}

// Process runs a confirmed, Ready run to completion. Chunks are decoded
// lazily here and submitted strictly in order. A returned error means the run
// ended in Idle or Cancelled with nothing saved.
func (p *Pipeline) Process(ctx context.Context, run *Run) (*Result, error) {
	est := run.Estimate()
	state := run.State()
	if state == StateCancelled {
		return nil, ErrCancelled
	}
	if state != StateReady || est == nil {
		return nil, fmt.Errorf("%w: cannot process from %s", ErrInvalidTransition, state)
	}
	if !est.CanProceed {
		return nil, ErrCannotProceed
	}
	if err := run.transition(StateProcessing); err != nil {
		if run.State() == StateCancelled {
			return nil, ErrCancelled
		}
		return nil, err
	}

	logger := p.logger.With(slog.String("run_id", run.ID))
	startTime := time.Now()

	segs, err := p.chunker.Split(ctx, run.Source)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(run, logger)
		}
		p.metrics.RecordDecodeFailure()
		run.fail(err)
		p.metrics.RecordPipelineRun("failed")
		return nil, err
	}
	p.metrics.RecordSourceDecoded()

	total := segs.Len()
	run.mu.Lock()
	run.progress = Progress{Total: total}
	run.mu.Unlock()
	run.notify()

	logger.Info("Processing audio",
		slog.Int("chunks", total),
		slog.Float64("duration_seconds", est.DurationSeconds))

	var (
		insufficient bool
		failure      error
	)

	for {
		if run.cancelled() || ctx.Err() != nil {
			return p.cancel(run, logger)
		}

		seg, err := segs.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failure = fmt.Errorf("encode chunk: %w", err)
			break
		}
		p.metrics.RecordChunkGenerated(seg.DurationSeconds, len(seg.Payload))

		res, attempts, err := p.submit(ctx, logger, audio.EncodeBase64(seg.Payload), seg.Index, total)

		// a cancelled run discards whatever the in-flight call produced
		if run.cancelled() || ctx.Err() != nil {
			return p.cancel(run, logger)
		}

		if err != nil {
			if errors.Is(err, ErrInsufficientCredit) {
				logger.Warn("Credits exhausted", slog.Int("chunk", seg.Index))
				insufficient = true
			} else {
				logger.Error("Chunk failed",
					slog.Int("chunk", seg.Index),
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()))
				failure = err
			}
			break
		}

		run.accumulate(TranscriptionUnit{
			ChunkIndex:            seg.Index,
			Attempts:              attempts,
			Text:                  res.Text,
			CreditsRemainingAfter: res.CreditsRemaining,
			CreditsEstimated:      res.Estimated,
			DurationSeconds:       seg.DurationSeconds,
			PayloadBytes:          len(seg.Payload),
		})

		logger.Debug("Chunk transcribed",
			slog.Int("chunk", seg.Index),
			slog.Int("attempts", attempts),
			slog.Int("credits_remaining", res.CreditsRemaining))
	}

	snap := run.Snapshot()
	stoppedEarly := insufficient || failure != nil

	if snap.Text == "" {
		err := failure
		switch {
		case insufficient:
			err = ErrInsufficientCredit
		case err == nil:
			err = ErrEmptyTranscript
		}
		run.fail(err)
		p.metrics.RecordPipelineRun("failed")
		return nil, err
	}

	if run.cancelled() || ctx.Err() != nil {
		return p.cancel(run, logger)
	}

	final := StateDone
	if stoppedEarly {
		final = StatePartial
	}

	run.mu.Lock()
	run.isPartial = stoppedEarly
	run.mu.Unlock()

	result := &Result{
		RunID:            run.ID,
		State:            final,
		Text:             snap.Text,
		DurationSeconds:  est.DurationSeconds,
		CreditsUsed:      snap.CreditsUsed,
		CreditsRemaining: snap.CreditsRemaining,
		CreditsEstimated: snap.CreditsEstimated,
		IsPartial:        stoppedEarly,
		ChunksCompleted:  snap.Progress.Current,
		ChunksTotal:      total,
	}

	id, err := p.remote.PersistTranscript(ctx, SaveRequest{
		Text:            result.Text,
		DurationSeconds: est.DurationSeconds,
		CreditsUsed:     result.CreditsUsed,
		IsPartial:       result.IsPartial,
	})
	if err != nil {
		result.PersistErr = &PersistenceError{Err: err}
		p.metrics.RecordPersistenceFailure()
		logger.Error("Failed to save transcript", slog.String("error", err.Error()))
	} else {
		result.TranscriptID = id
	}

	if result.CreditsEstimated {
		p.refreshBalance(ctx, logger, result)
	}

	run.mu.Lock()
	run.transcriptID = result.TranscriptID
	run.creditsRemaining = result.CreditsRemaining
	run.creditsEstimated = result.CreditsEstimated
	if result.PersistErr != nil {
		run.lastErr = result.PersistErr
	}
	run.mu.Unlock()

	if err := run.transition(final); err != nil {
		return nil, err
	}

	p.metrics.RecordPipelineRun(final.String())
	logger.Info("Run finished",
		slog.String("state", final.String()),
		slog.Int("credits_used", result.CreditsUsed),
		slog.Int("chunks_completed", result.ChunksCompleted),
		slog.Int("chunks_total", total),
		slog.Duration("elapsed", time.Since(startTime)))

	return result, nil
}

// Start analyzes a fresh run, then processes it when confirm approves the estimate
func (p *Pipeline) Start(ctx context.Context, run *Run, confirm func(*Estimate) bool) (*Result, error) {
	est, err := p.Analyze(ctx, run)
	if err != nil {
		return nil, err
	}
	if !est.CanProceed {
		return nil, ErrCannotProceed
	}
	if confirm != nil && !confirm(est) {
		if err := run.Reset(); err != nil {
			return nil, err
		}
		return nil, ErrCancelled
	}
	return p.Process(ctx, run)
}

// submit sends one chunk, retrying transient failures with a linearly
// increasing delay. It returns the number of attempts made.
func (p *Pipeline) submit(ctx context.Context, logger *slog.Logger, audioBase64 string, index, total int) (*ChunkResult, int, error) {
	var lastErr error

	callCtx := ctx
	if p.detachCalls {
		callCtx = context.WithoutCancel(ctx)
	}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.RecordTranscriptionRetry()
			delay := p.config.RetryDelay * time.Duration(attempt)
			logger.Warn("Retrying chunk",
				slog.Int("chunk", index),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := p.sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
		}

		res, err := p.remote.TranscribeSegment(callCtx, audioBase64, index, total)
		if err == nil {
			return res, attempt + 1, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, attempt + 1, err
		}
	}

	return nil, p.config.MaxRetries + 1, fmt.Errorf("chunk %d failed after %d attempts: %w", index, p.config.MaxRetries+1, lastErr)
}

// refreshBalance replaces a locally estimated balance with the remote's, if reachable
func (p *Pipeline) refreshBalance(ctx context.Context, logger *slog.Logger, result *Result) {
	credits, err := p.remote.FetchCreditBalance(ctx)
	if err != nil {
		logger.Debug("Credit balance refresh failed", slog.String("error", err.Error()))
		return
	}
	result.CreditsRemaining = credits
	result.CreditsEstimated = false
}

func (p *Pipeline) cancel(run *Run, logger *slog.Logger) (*Result, error) {
	_ = run.transition(StateCancelled)
	p.metrics.RecordPipelineRun(StateCancelled.String())
	logger.Info("Run cancelled", slog.Int("chunks_completed", run.Snapshot().Progress.Current))
	return nil, ErrCancelled
}
