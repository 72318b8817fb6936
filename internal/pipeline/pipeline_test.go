package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
)

type outcome struct {
	text string
	err  error
}

// fakeRemote scripts per-chunk outcomes and records every call
type fakeRemote struct {
	mu sync.Mutex

	credits     int
	estimateErr error
	estimates   []float64

	script    map[int][]outcome
	calls     []int
	onCall    func(index int)
	estimated bool

	saves   []SaveRequest
	saveErr error

	balanceCalls int
	balanceErr   error
}

func newFakeRemote(credits int) *fakeRemote {
	return &fakeRemote{credits: credits, script: make(map[int][]outcome)}
}

func (f *fakeRemote) Estimate(ctx context.Context, durationSeconds float64) (*Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates = append(f.estimates, durationSeconds)
	if f.estimateErr != nil {
		return nil, f.estimateErr
	}
	required := int(math.Ceil(durationSeconds / 60))
	return &Estimate{
		DurationSeconds: durationSeconds,
		RequiredCredits: required,
		CurrentCredits:  f.credits,
		CanProceed:      f.credits >= required,
	}, nil
}

func (f *fakeRemote) TranscribeSegment(ctx context.Context, audioBase64 string, chunkIndex, totalChunks int) (*ChunkResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chunkIndex)
	onCall := f.onCall
	var next *outcome
	if queue := f.script[chunkIndex]; len(queue) > 0 {
		next = &queue[0]
		f.script[chunkIndex] = queue[1:]
	}
	f.mu.Unlock()

	if onCall != nil {
		onCall(chunkIndex)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	text := fmt.Sprintf("chunk-%d", chunkIndex)
	if next != nil {
		if next.err != nil {
			return nil, next.err
		}
		text = next.text
	}
	if f.credits < 1 {
		return nil, ErrInsufficientCredit
	}
	f.credits--
	return &ChunkResult{Text: text, CreditsRemaining: f.credits, ChunkIndex: chunkIndex, Estimated: f.estimated}, nil
}

func (f *fakeRemote) PersistTranscript(ctx context.Context, req SaveRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, req)
	if f.saveErr != nil {
		return "", f.saveErr
	}
	return fmt.Sprintf("tr-%d", len(f.saves)), nil
}

func (f *fakeRemote) FetchCreditBalance(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.credits, f.balanceErr
}

func (f *fakeRemote) fail(index int, times int, err error) {
	for i := 0; i < times; i++ {
		f.script[index] = append(f.script[index], outcome{err: err})
	}
}

const testRate = 100

// source builds a silent WAV of the given length at testRate
func source(t *testing.T, seconds float64) audio.Source {
	t.Helper()
	data, err := audio.EncodeWAV(make([]float32, int(math.Round(seconds*testRate))), testRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return audio.Source{Name: "test.wav", MIMEType: "audio/wav", Data: data}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestPipeline(remote Remote, chunk time.Duration, sleeper *sleepRecorder) *Pipeline {
	chunker := audio.NewChunker(audio.ChunkingConfig{ChunkDuration: chunk, SampleRate: testRate}, nil)
	return New(remote, chunker, DefaultConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleep(sleeper.sleep))
}

func analyzed(t *testing.T, p *Pipeline, src audio.Source) *Run {
	t.Helper()
	run := NewRun(src)
	if _, err := p.Analyze(context.Background(), run); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if run.State() != StateReady {
		t.Fatalf("Expected ready, got %s", run.State())
	}
	return run
}

func TestTwoChunksComplete(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 120*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 125))
	est := run.Estimate()
	if est.RequiredCredits != 3 || !est.CanProceed {
		t.Errorf("Unexpected estimate %+v", est)
	}

	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if run.State() != StateDone || result.State != StateDone {
		t.Errorf("Expected done, got %s/%s", run.State(), result.State)
	}
	if result.CreditsUsed != 2 || result.IsPartial {
		t.Errorf("Expected 2 credits and not partial, got %+v", result)
	}
	if result.Text != "chunk-0 chunk-1" {
		t.Errorf("Unexpected text %q", result.Text)
	}
	if result.CreditsRemaining != 8 {
		t.Errorf("Expected 8 credits remaining, got %d", result.CreditsRemaining)
	}
	if result.TranscriptID != "tr-1" {
		t.Errorf("Expected transcript tr-1, got %q", result.TranscriptID)
	}

	want := []SaveRequest{{Text: "chunk-0 chunk-1", DurationSeconds: 125, CreditsUsed: 2, IsPartial: false}}
	if diff := cmp.Diff(want, remote.saves); diff != "" {
		t.Errorf("saves mismatch (-want +got):\n%s", diff)
	}

	snap := run.Snapshot()
	if len(snap.Units) != 2 || snap.Units[0].DurationSeconds != 120 || snap.Units[1].DurationSeconds != 5 {
		t.Errorf("Unexpected units %+v", snap.Units)
	}
	if snap.Progress != (Progress{Current: 2, Total: 2}) {
		t.Errorf("Unexpected progress %+v", snap.Progress)
	}
}

func TestChunkExhaustsRetriesAfterText(t *testing.T) {
	remote := newFakeRemote(10)
	remote.fail(1, 3, errors.New("provider unavailable"))
	sleeper := &sleepRecorder{}
	p := newTestPipeline(remote, 10*time.Second, sleeper)

	run := analyzed(t, p, source(t, 30))
	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if run.State() != StatePartial {
		t.Errorf("Expected partial, got %s", run.State())
	}
	if result.CreditsUsed != 1 || !result.IsPartial {
		t.Errorf("Expected 1 credit and partial, got %+v", result)
	}
	if diff := cmp.Diff([]int{0, 1, 1, 1}, remote.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, sleeper.delays); diff != "" {
		t.Errorf("retry delays mismatch (-want +got):\n%s", diff)
	}
	if len(remote.saves) != 1 || remote.saves[0].Text != "chunk-0" || !remote.saves[0].IsPartial {
		t.Errorf("Expected partial save of chunk-0, got %+v", remote.saves)
	}
}

func TestCannotProceedMakesNoCalls(t *testing.T) {
	remote := newFakeRemote(1)
	p := newTestPipeline(remote, 120*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 125))
	if run.Estimate().CanProceed {
		t.Fatal("Expected estimate to refuse")
	}

	if _, err := p.Process(context.Background(), run); !errors.Is(err, ErrCannotProceed) {
		t.Errorf("Expected ErrCannotProceed, got %v", err)
	}
	if len(remote.calls) != 0 {
		t.Errorf("Expected no transcription calls, got %v", remote.calls)
	}
	if run.State() != StateReady {
		t.Errorf("Expected run to stay ready, got %s", run.State())
	}
}

func TestCancelMidProcessing(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})
	run := analyzed(t, p, source(t, 30))

	// cancel while chunk 1 is in flight
	remote.onCall = func(index int) {
		if index == 1 {
			run.Cancel()
		}
	}

	result, err := p.Process(context.Background(), run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v (%+v)", err, result)
	}
	if run.State() != StateCancelled {
		t.Errorf("Expected cancelled, got %s", run.State())
	}
	if len(remote.saves) != 0 {
		t.Errorf("Expected no save, got %+v", remote.saves)
	}
	if diff := cmp.Diff([]int{0, 1}, remote.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	// the in-flight result is discarded
	if snap := run.Snapshot(); snap.Text != "chunk-0" || snap.CreditsUsed != 1 {
		t.Errorf("Expected only chunk 0 accumulated, got %q/%d", snap.Text, snap.CreditsUsed)
	}
}

func TestContextCancellationCancelsRun(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})
	run := analyzed(t, p, source(t, 30))

	ctx, cancel := context.WithCancel(context.Background())
	remote.onCall = func(index int) {
		if index == 0 {
			cancel()
		}
	}

	if _, err := p.Process(ctx, run); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if run.State() != StateCancelled || len(remote.saves) != 0 {
		t.Errorf("Expected cancelled without save, got %s/%d", run.State(), len(remote.saves))
	}
}

// cancellingRemote cancels the run context during the first chunk request and
// records whether that request saw the cancellation
type cancellingRemote struct {
	*fakeRemote
	cancel  context.CancelFunc
	callErr error
}

func (c *cancellingRemote) TranscribeSegment(ctx context.Context, audioBase64 string, chunkIndex, totalChunks int) (*ChunkResult, error) {
	if chunkIndex == 0 {
		c.cancel()
		c.callErr = ctx.Err()
	}
	return c.fakeRemote.TranscribeSegment(ctx, audioBase64, chunkIndex, totalChunks)
}

func TestUninterruptedChunksFinishInFlightCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	remote := &cancellingRemote{fakeRemote: newFakeRemote(10), cancel: cancel}

	chunker := audio.NewChunker(audio.ChunkingConfig{ChunkDuration: 10 * time.Second, SampleRate: testRate}, nil)
	p := New(remote, chunker, DefaultConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleep((&sleepRecorder{}).sleep),
		WithUninterruptedChunks())
	run := analyzed(t, p, source(t, 30))

	if _, err := p.Process(ctx, run); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if remote.callErr != nil {
		t.Errorf("Expected the in-flight request to keep a live context, got %v", remote.callErr)
	}
	if diff := cmp.Diff([]int{0}, remote.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if run.State() != StateCancelled || len(remote.saves) != 0 {
		t.Errorf("Expected cancelled without save, got %s/%d", run.State(), len(remote.saves))
	}
}

func TestCancelBeforeProcessing(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})
	run := analyzed(t, p, source(t, 5))

	if !run.Cancel() {
		t.Fatal("Expected cancel to take effect")
	}
	if run.State() != StateCancelled {
		t.Errorf("Expected cancelled, got %s", run.State())
	}
	if _, err := p.Process(context.Background(), run); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if run.Cancel() {
		t.Error("Expected second cancel to be a no-op")
	}
	if len(remote.calls) != 0 {
		t.Errorf("Expected no calls, got %v", remote.calls)
	}
}

func TestInsufficientCreditSavesPartial(t *testing.T) {
	remote := newFakeRemote(10)
	remote.fail(2, 1, fmt.Errorf("chunk rejected: %w", ErrInsufficientCredit))
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 40))
	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.State != StatePartial || !result.IsPartial || result.CreditsUsed != 2 {
		t.Errorf("Unexpected result %+v", result)
	}
	// never retried, nothing after chunk 2
	if diff := cmp.Diff([]int{0, 1, 2}, remote.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if len(remote.saves) != 1 || remote.saves[0].Text != "chunk-0 chunk-1" {
		t.Errorf("Unexpected saves %+v", remote.saves)
	}
}

func TestInsufficientCreditWithoutText(t *testing.T) {
	remote := newFakeRemote(10)
	remote.fail(0, 1, ErrInsufficientCredit)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 15))
	if _, err := p.Process(context.Background(), run); !errors.Is(err, ErrInsufficientCredit) {
		t.Errorf("Expected ErrInsufficientCredit, got %v", err)
	}
	if run.State() != StateIdle {
		t.Errorf("Expected idle, got %s", run.State())
	}
	if len(remote.saves) != 0 || len(remote.calls) != 1 {
		t.Errorf("Expected one call and no save, got %v/%v", remote.calls, remote.saves)
	}
}

func TestFirstChunkFailureReturnsToIdle(t *testing.T) {
	remote := newFakeRemote(10)
	cause := errors.New("gateway timeout")
	remote.fail(0, 3, cause)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 25))
	_, err := p.Process(context.Background(), run)
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if run.State() != StateIdle || run.Err() == nil {
		t.Errorf("Expected idle with error, got %s/%v", run.State(), run.Err())
	}
	if len(remote.saves) != 0 {
		t.Errorf("Expected no save, got %+v", remote.saves)
	}
}

func TestRetryAfterIdleStartsClean(t *testing.T) {
	remote := newFakeRemote(10)
	remote.script[0] = []outcome{{text: ""}}
	remote.fail(1, 3, errors.New("gateway timeout"))
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 20))
	if _, err := p.Process(context.Background(), run); err == nil {
		t.Fatal("Expected first attempt to fail")
	}
	if run.State() != StateIdle {
		t.Fatalf("Expected idle, got %s", run.State())
	}

	if _, err := p.Analyze(context.Background(), run); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	snap := run.Snapshot()
	if snap.CreditsUsed != 0 || len(snap.Units) != 0 || snap.Text != "" || snap.Error != "" {
		t.Errorf("Expected a clean run after analysis, got %+v", snap)
	}

	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.CreditsUsed != 2 {
		t.Errorf("Expected 2 credits used, got %d", result.CreditsUsed)
	}
	if units := run.Snapshot().Units; len(units) != 2 {
		t.Errorf("Expected 2 units, got %d", len(units))
	}
	if len(remote.saves) != 1 || remote.saves[0].CreditsUsed != 2 {
		t.Errorf("Expected one save with 2 credits, got %+v", remote.saves)
	}
}

func TestRetriedChunkAccumulatesOnce(t *testing.T) {
	remote := newFakeRemote(10)
	remote.fail(0, 2, errors.New("flaky"))
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 15))
	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Text != "chunk-0 chunk-1" || result.CreditsUsed != 2 || result.IsPartial {
		t.Errorf("Unexpected result %+v", result)
	}
	if units := run.Snapshot().Units; units[0].Attempts != 3 || units[1].Attempts != 1 {
		t.Errorf("Unexpected attempts %+v", units)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	remote := newFakeRemote(10)
	remote.fail(1, 1, Permanent(errors.New("unauthorized")))
	sleeper := &sleepRecorder{}
	p := newTestPipeline(remote, 10*time.Second, sleeper)

	run := analyzed(t, p, source(t, 15))
	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !result.IsPartial || len(remote.calls) != 2 || len(sleeper.delays) != 0 {
		t.Errorf("Expected partial without retries, got %+v calls=%v", result, remote.calls)
	}
}

func TestEmptyChunksJoin(t *testing.T) {
	remote := newFakeRemote(10)
	remote.script[0] = []outcome{{text: "a"}}
	remote.script[1] = []outcome{{text: ""}}
	remote.script[2] = []outcome{{text: "b"}}
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	result, err := p.Process(context.Background(), analyzed(t, p, source(t, 30)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Text != "a b" {
		t.Errorf("Expected %q, got %q", "a b", result.Text)
	}
	// silence is billable work
	if result.CreditsUsed != 3 {
		t.Errorf("Expected 3 credits, got %d", result.CreditsUsed)
	}
}

func TestAllSilenceIsNotSaved(t *testing.T) {
	remote := newFakeRemote(10)
	remote.script[0] = []outcome{{text: ""}}
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 5))
	if _, err := p.Process(context.Background(), run); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Expected ErrEmptyTranscript, got %v", err)
	}
	if run.State() != StateIdle || len(remote.saves) != 0 {
		t.Errorf("Expected idle without save, got %s/%d", run.State(), len(remote.saves))
	}
}

func TestPersistenceErrorKeepsText(t *testing.T) {
	remote := newFakeRemote(10)
	remote.saveErr = errors.New("database unavailable")
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := analyzed(t, p, source(t, 5))
	result, err := p.Process(context.Background(), run)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	var pe *PersistenceError
	if !errors.As(result.PersistErr, &pe) {
		t.Fatalf("Expected PersistenceError, got %v", result.PersistErr)
	}
	if result.Text != "chunk-0" || result.TranscriptID != "" {
		t.Errorf("Expected text without id, got %+v", result)
	}
	if run.State() != StateDone {
		t.Errorf("Expected done, got %s", run.State())
	}
	if len(remote.saves) != 1 {
		t.Errorf("Expected exactly one save attempt, got %d", len(remote.saves))
	}
}

func TestEstimatedBalanceIsRefreshed(t *testing.T) {
	remote := newFakeRemote(10)
	remote.estimated = true
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	result, err := p.Process(context.Background(), analyzed(t, p, source(t, 5)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if remote.balanceCalls != 1 {
		t.Errorf("Expected one balance refresh, got %d", remote.balanceCalls)
	}
	if result.CreditsEstimated || result.CreditsRemaining != 9 {
		t.Errorf("Expected authoritative balance 9, got %+v", result)
	}
}

func TestAnalyzeDecodeError(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := NewRun(audio.Source{MIMEType: "audio/wav", Data: []byte("garbage")})
	_, err := p.Analyze(context.Background(), run)

	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if run.State() != StateIdle {
		t.Errorf("Expected idle, got %s", run.State())
	}
	if len(remote.estimates) != 0 {
		t.Error("Expected no estimate call for an undecodable source")
	}
}

func TestAnalyzeEstimateError(t *testing.T) {
	remote := newFakeRemote(10)
	remote.estimateErr = errors.New("service unavailable")
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	run := NewRun(source(t, 5))
	if _, err := p.Analyze(context.Background(), run); !errors.Is(err, remote.estimateErr) {
		t.Errorf("Expected estimate error, got %v", err)
	}
	if run.State() != StateIdle {
		t.Errorf("Expected idle, got %s", run.State())
	}

	// the run can be analyzed again once the service recovers
	remote.estimateErr = nil
	if _, err := p.Analyze(context.Background(), run); err != nil {
		t.Errorf("Second Analyze failed: %v", err)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})
	run := analyzed(t, p, source(t, 5))

	if err := run.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if run.State() != StateIdle || run.Estimate() != nil {
		t.Errorf("Expected clean idle run, got %s", run.State())
	}
	if _, err := p.Process(context.Background(), run); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestStartWithConfirmation(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

	var seen *Estimate
	result, err := p.Start(context.Background(), NewRun(source(t, 12)), func(est *Estimate) bool {
		seen = est
		return true
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if seen == nil || seen.RequiredCredits != 1 {
		t.Errorf("Unexpected estimate %+v", seen)
	}
	if result.CreditsUsed != 2 {
		t.Errorf("Expected 2 credits, got %d", result.CreditsUsed)
	}

	run := NewRun(source(t, 12))
	if _, err := p.Start(context.Background(), run, func(*Estimate) bool { return false }); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled on decline, got %v", err)
	}
	if run.State() != StateIdle {
		t.Errorf("Expected declined run to be idle, got %s", run.State())
	}
}

func TestProgressCallback(t *testing.T) {
	remote := newFakeRemote(10)
	p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})
	run := NewRun(source(t, 25))

	var states []State
	var last Snapshot
	run.OnProgress(func(s Snapshot) {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
		last = s
	})

	if _, err := p.Start(context.Background(), run, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []State{StateAnalyzing, StateReady, StateProcessing, StateDone}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("state sequence mismatch (-want +got):\n%s", diff)
	}
	if last.Progress != (Progress{Current: 3, Total: 3}) || last.TranscriptID != "tr-1" {
		t.Errorf("Unexpected final snapshot %+v", last)
	}
}

func TestCreditsUsedBoundedBySegments(t *testing.T) {
	for _, seconds := range []float64{1, 9.99, 10, 10.01, 59, 61} {
		t.Run(fmt.Sprint(seconds), func(t *testing.T) {
			remote := newFakeRemote(100)
			p := newTestPipeline(remote, 10*time.Second, &sleepRecorder{})

			result, err := p.Process(context.Background(), analyzed(t, p, source(t, seconds)))
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			segments := int(math.Ceil(seconds / 10))
			if result.CreditsUsed != segments || result.ChunksTotal != segments {
				t.Errorf("Expected %d segments and credits, got %d/%d", segments, result.ChunksTotal, result.CreditsUsed)
			}
		})
	}
}
