package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
)

// userRemote adapts Service to pipeline.Remote for in-process runs
type userRemote struct {
	service *Service
	userID  string
}

var _ pipeline.Remote = (*userRemote)(nil)

func (r *userRemote) Estimate(ctx context.Context, durationSeconds float64) (*pipeline.Estimate, error) {
	est, err := r.service.Analyze(ctx, r.userID, durationSeconds)
	if err != nil {
		return nil, remoteError(err)
	}
	return &pipeline.Estimate{
		DurationSeconds: est.DurationSeconds,
		RequiredCredits: est.RequiredCredits,
		CurrentCredits:  est.CurrentCredits,
		CanProceed:      est.CanProceed,
	}, nil
}

func (r *userRemote) TranscribeSegment(ctx context.Context, audioBase64 string, chunkIndex, totalChunks int) (*pipeline.ChunkResult, error) {
	res, err := r.service.TranscribeChunk(ctx, r.userID, ChunkRequest{
		Audio:       audioBase64,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return nil, remoteError(err)
	}
	return res, nil
}

func (r *userRemote) PersistTranscript(ctx context.Context, req pipeline.SaveRequest) (string, error) {
	return r.service.Save(ctx, r.userID, storage.NewTranscript{
		Text:            req.Text,
		DurationSeconds: req.DurationSeconds,
		CreditsUsed:     req.CreditsUsed,
		IsPartial:       req.IsPartial,
	})
}

func (r *userRemote) FetchCreditBalance(ctx context.Context) (int, error) {
	return r.service.Credits(ctx, r.userID)
}

// remoteError translates service errors into the pipeline's retry taxonomy
func remoteError(err error) error {
	switch {
	case errors.Is(err, billing.ErrInsufficientCredit):
		return fmt.Errorf("%w: %w", pipeline.ErrInsufficientCredit, err)
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billing.ErrInvalidDuration),
		errors.Is(err, billing.ErrProfileNotFound):
		return pipeline.Permanent(err)
	default:
		return err
	}
}
