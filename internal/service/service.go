package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/transcription"
)

// DefaultMaxAudioBytes is the largest accepted chunk or upload
const DefaultMaxAudioBytes = 25 * 1024 * 1024

// ErrInvalidRequest is returned for malformed input
var ErrInvalidRequest = errors.New("invalid request")

// Config contains service configuration
type Config struct {
	SampleRate    int
	MaxAudioBytes int64
}

// ChunkRequest is one chunk submitted for transcription
type ChunkRequest struct {
	Audio       string `json:"audio"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// Validate checks the request fields and returns the decoded payload size
func (r ChunkRequest) Validate(maxBytes int64) (int, error) {
	if r.Audio == "" {
		return 0, fmt.Errorf("%w: missing audio", ErrInvalidRequest)
	}
	if r.TotalChunks <= 0 || r.ChunkIndex < 0 || r.ChunkIndex >= r.TotalChunks {
		return 0, fmt.Errorf("%w: chunk %d of %d", ErrInvalidRequest, r.ChunkIndex, r.TotalChunks)
	}
	if int64(base64.StdEncoding.DecodedLen(len(r.Audio))) > maxBytes+2 {
		return 0, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidRequest, maxBytes)
	}
	data, err := audio.DecodeBase64(r.Audio)
	if err != nil {
		return 0, fmt.Errorf("%w: audio is not valid base64", ErrInvalidRequest)
	}
	if int64(len(data)) > maxBytes {
		return 0, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidRequest, maxBytes)
	}
	return len(data), nil
}

// Service meters transcription against a user's credits
type Service struct {
	billing     *billing.Service
	store       storage.Store
	transcriber transcription.Transcriber
	config      Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a service
func New(b *billing.Service, store storage.Store, t transcription.Transcriber, config Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.MaxAudioBytes <= 0 {
		config.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		billing:     b,
		store:       store,
		transcriber: t,
		config:      config,
		logger:      logger,
		metrics:     m,
	}
}

// Config returns the service configuration
func (s *Service) Config() Config {
	return s.config
}

// EnsureUser creates the user's profile on first sight
func (s *Service) EnsureUser(ctx context.Context, userID, email string) (int, error) {
	return s.billing.Ledger().EnsureProfile(ctx, userID, email)
}

// Analyze estimates the credits a recording of durationSeconds needs
func (s *Service) Analyze(ctx context.Context, userID string, durationSeconds float64) (*billing.Estimate, error) {
	return s.billing.Estimate(ctx, userID, durationSeconds)
}

// TranscribeChunk transcribes one chunk and charges one credit for it.
// The balance is checked before the provider is called, and the credit is
// deducted only after a successful call. When the deduction itself fails
// the text is still returned with an estimated balance.
func (s *Service) TranscribeChunk(ctx context.Context, userID string, req ChunkRequest) (*pipeline.ChunkResult, error) {
	size, err := req.Validate(s.config.MaxAudioBytes)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(
		slog.String("user_id", userID),
		slog.Int("chunk_index", req.ChunkIndex),
		slog.Int("total_chunks", req.TotalChunks))

	balance, err := s.billing.Ledger().Balance(ctx, userID)
	if errors.Is(err, billing.ErrProfileNotFound) {
		return nil, billing.ErrInsufficientCredit
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < 1 {
		return nil, billing.ErrInsufficientCredit
	}

	text, err := s.transcriber.Transcribe(ctx, transcription.Request{
		AudioBase64: req.Audio,
		MimeType:    "audio/wav",
		SampleRate:  s.config.SampleRate,
	})
	if err != nil {
		logger.Error("Chunk transcription failed",
			slog.String("provider", s.transcriber.Name()),
			slog.String("error", err.Error()))
		return nil, err
	}

	result := &pipeline.ChunkResult{
		Text:       text,
		ChunkIndex: req.ChunkIndex,
	}

	description := fmt.Sprintf("Transcription chunk %d/%d", req.ChunkIndex+1, req.TotalChunks)
	remaining, err := s.billing.Ledger().Deduct(ctx, userID, description)
	if err != nil {
		s.metrics.RecordDeductionFailure()
		logger.Warn("Credit deduction failed after successful transcription",
			slog.Int("balance_before", balance),
			slog.String("error", err.Error()))
		result.CreditsRemaining = max(balance-1, 0)
		result.Estimated = true
		return result, nil
	}

	s.metrics.RecordCreditDeducted()
	result.CreditsRemaining = remaining

	logger.Debug("Chunk transcribed",
		slog.Int("audio_bytes", size),
		slog.Int("text_length", len(text)),
		slog.Int("credits_remaining", remaining))

	return result, nil
}

// Save stores a finished transcript and returns its id
func (s *Service) Save(ctx context.Context, userID string, t storage.NewTranscript) (string, error) {
	saved, err := s.store.Save(ctx, userID, t)
	if err != nil {
		if !errors.Is(err, storage.ErrEmptyText) {
			s.logger.Error("Failed to save transcription",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return "", err
	}

	s.logger.Info("Transcription saved",
		slog.String("user_id", userID),
		slog.String("transcription_id", saved.ID),
		slog.Int("credits_used", saved.CreditsUsed),
		slog.Bool("is_partial", saved.IsPartial))

	return saved.ID, nil
}

// Credits returns the user's balance
func (s *Service) Credits(ctx context.Context, userID string) (int, error) {
	return s.billing.Ledger().Balance(ctx, userID)
}

// Transcripts returns the user's newest transcripts
func (s *Service) Transcripts(ctx context.Context, userID string) ([]storage.Transcript, error) {
	return s.store.List(ctx, userID, storage.DefaultListLimit)
}

// DeleteTranscript removes one of the user's transcripts
func (s *Service) DeleteTranscript(ctx context.Context, userID, id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing transcription id", ErrInvalidRequest)
	}
	return s.store.Delete(ctx, userID, id)
}

// ForUser returns a pipeline.Remote that acts on behalf of userID
func (s *Service) ForUser(userID string) pipeline.Remote {
	return &userRemote{service: s, userID: userID}
}
