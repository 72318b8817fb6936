package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/transcription"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	f.calls++
	return f.text, f.err
}

// failingLedger lets every operation through except Deduct
type failingLedger struct {
	*billing.MemoryLedger
}

func (l failingLedger) Deduct(ctx context.Context, userID, description string) (int, error) {
	return 0, errors.New("database unavailable")
}

func newTestService(t *testing.T, ledger billing.Ledger, tr transcription.Transcriber) *Service {
	t.Helper()
	if _, err := ledger.EnsureProfile(context.Background(), "u1", "u1@example.com"); err != nil {
		t.Fatalf("EnsureProfile failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(billing.NewService(ledger, 1), storage.NewMemoryStore(), tr, Config{MaxAudioBytes: 1024}, logger, nil)
}

func chunkAudio() string {
	return base64.StdEncoding.EncodeToString([]byte("RIFF....WAVEfmt "))
}

func TestTranscribeChunkDeductsAfterSuccess(t *testing.T) {
	ledger := billing.NewMemoryLedger()
	tr := &fakeTranscriber{text: "ආයුබෝවන්"}
	svc := newTestService(t, ledger, tr)

	res, err := svc.TranscribeChunk(context.Background(), "u1", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 0, TotalChunks: 2})
	if err != nil {
		t.Fatalf("TranscribeChunk failed: %v", err)
	}
	if res.Text != "ආයුබෝවන්" {
		t.Errorf("Unexpected text %q", res.Text)
	}
	if res.CreditsRemaining != billing.FreeCredits-1 || res.Estimated {
		t.Errorf("Expected exact remaining %d, got %+v", billing.FreeCredits-1, res)
	}

	txs, _ := ledger.Transactions(context.Background(), "u1", 1)
	if len(txs) != 1 || txs[0].Description != "Transcription chunk 1/2" {
		t.Errorf("Unexpected usage transaction %+v", txs)
	}
}

func TestTranscribeChunkSilenceIsBilled(t *testing.T) {
	ledger := billing.NewMemoryLedger()
	svc := newTestService(t, ledger, &fakeTranscriber{text: ""})

	res, err := svc.TranscribeChunk(context.Background(), "u1", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 0, TotalChunks: 1})
	if err != nil {
		t.Fatalf("TranscribeChunk failed: %v", err)
	}
	if res.Text != "" || res.CreditsRemaining != billing.FreeCredits-1 {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestTranscribeChunkInsufficientCreditSkipsProvider(t *testing.T) {
	ctx := context.Background()
	ledger := billing.NewMemoryLedger()
	tr := &fakeTranscriber{text: "x"}
	svc := newTestService(t, ledger, tr)

	for i := 0; i < billing.FreeCredits; i++ {
		ledger.Deduct(ctx, "u1", "drain")
	}

	_, err := svc.TranscribeChunk(ctx, "u1", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 0, TotalChunks: 1})
	if !errors.Is(err, billing.ErrInsufficientCredit) {
		t.Fatalf("Expected ErrInsufficientCredit, got %v", err)
	}
	if tr.calls != 0 {
		t.Errorf("Expected provider not to be called, got %d calls", tr.calls)
	}
}

func TestTranscribeChunkProviderFailureNotBilled(t *testing.T) {
	ctx := context.Background()
	ledger := billing.NewMemoryLedger()
	svc := newTestService(t, ledger, &fakeTranscriber{err: &transcription.ProviderError{Provider: "fake", StatusCode: 500}})

	_, err := svc.TranscribeChunk(ctx, "u1", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 0, TotalChunks: 1})
	var pe *transcription.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if b, _ := ledger.Balance(ctx, "u1"); b != billing.FreeCredits {
		t.Errorf("Expected balance untouched at %d, got %d", billing.FreeCredits, b)
	}
}

func TestTranscribeChunkDeductionFailureKeepsText(t *testing.T) {
	ledger := failingLedger{billing.NewMemoryLedger()}
	svc := newTestService(t, ledger, &fakeTranscriber{text: "kept"})

	res, err := svc.TranscribeChunk(context.Background(), "u1", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 0, TotalChunks: 1})
	if err != nil {
		t.Fatalf("Expected text despite deduction failure, got %v", err)
	}
	if res.Text != "kept" {
		t.Errorf("Unexpected text %q", res.Text)
	}
	if !res.Estimated || res.CreditsRemaining != billing.FreeCredits-1 {
		t.Errorf("Expected estimated remaining %d, got %+v", billing.FreeCredits-1, res)
	}
}

func TestChunkRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  ChunkRequest
	}{
		{"missing audio", ChunkRequest{ChunkIndex: 0, TotalChunks: 1}},
		{"zero total", ChunkRequest{Audio: chunkAudio(), TotalChunks: 0}},
		{"negative index", ChunkRequest{Audio: chunkAudio(), ChunkIndex: -1, TotalChunks: 1}},
		{"index past total", ChunkRequest{Audio: chunkAudio(), ChunkIndex: 2, TotalChunks: 2}},
		{"bad base64", ChunkRequest{Audio: "!!!not base64", TotalChunks: 1}},
		{"too large", ChunkRequest{Audio: base64.StdEncoding.EncodeToString(make([]byte, 2048)), TotalChunks: 1}},
	}

	for _, tt := range tests {
		if _, err := tt.req.Validate(1024); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", tt.name, err)
		}
	}

	if n, err := (ChunkRequest{Audio: chunkAudio(), ChunkIndex: 1, TotalChunks: 2}).Validate(1024); err != nil || n == 0 {
		t.Errorf("Expected valid request, got n=%d err=%v", n, err)
	}
}

func TestSaveAndList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, billing.NewMemoryLedger(), &fakeTranscriber{})

	if _, err := svc.Save(ctx, "u1", storage.NewTranscript{}); !errors.Is(err, storage.ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}

	id, err := svc.Save(ctx, "u1", storage.NewTranscript{Text: "hello", DurationSeconds: 12.6, CreditsUsed: 1})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	list, _ := svc.Transcripts(ctx, "u1")
	if len(list) != 1 || list[0].ID != id || list[0].DurationSeconds != 13 {
		t.Errorf("Unexpected transcripts %+v", list)
	}

	if err := svc.DeleteTranscript(ctx, "u1", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty id, got %v", err)
	}
	if err := svc.DeleteTranscript(ctx, "u1", id); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
}

func TestForUserRemoteErrors(t *testing.T) {
	ctx := context.Background()
	ledger := billing.NewMemoryLedger()
	svc := newTestService(t, ledger, &fakeTranscriber{text: "x"})
	remote := svc.ForUser("u1")

	est, err := remote.Estimate(ctx, 125)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if est.RequiredCredits != 3 || !est.CanProceed {
		t.Errorf("Unexpected estimate %+v", est)
	}

	if _, err := remote.Estimate(ctx, 0); pipeline.IsRetryable(err) {
		t.Errorf("Expected invalid duration to be permanent, got %v", err)
	}

	if _, err := remote.TranscribeSegment(ctx, "", 0, 1); pipeline.IsRetryable(err) {
		t.Errorf("Expected invalid chunk to be permanent, got %v", err)
	}

	for i := 0; i < billing.FreeCredits; i++ {
		ledger.Deduct(ctx, "u1", "drain")
	}
	_, err = remote.TranscribeSegment(ctx, chunkAudio(), 0, 1)
	if !errors.Is(err, pipeline.ErrInsufficientCredit) {
		t.Errorf("Expected pipeline.ErrInsufficientCredit, got %v", err)
	}

	balance, err := remote.FetchCreditBalance(ctx)
	if err != nil || balance != 0 {
		t.Errorf("Expected balance 0, got %d (%v)", balance, err)
	}

	id, err := remote.PersistTranscript(ctx, pipeline.SaveRequest{Text: "partial", DurationSeconds: 60, CreditsUsed: 1, IsPartial: true})
	if err != nil || id == "" {
		t.Errorf("PersistTranscript failed: %q %v", id, err)
	}
}
