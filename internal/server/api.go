package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/auth"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/service"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/session"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/transcription"
)

const smallBodyLimit = 1 << 20

type analyzeRequest struct {
	DurationSeconds float64 `json:"durationSeconds"`
}

type chunkRequest struct {
	Audio       string `json:"audio"`
	ChunkIndex  *int   `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// decodeJSON reads a JSON body of at most limit bytes
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

func currentUser(r *http.Request) *auth.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// statusFor maps domain errors to HTTP status codes and client messages
func statusFor(err error) (int, string) {
	var (
		decodeErr   *audio.DecodeError
		timeoutErr  *transcription.TimeoutError
		providerErr *transcription.ProviderError
		maxBytesErr *http.MaxBytesError
	)

	switch {
	case errors.Is(err, billing.ErrInsufficientCredit),
		errors.Is(err, pipeline.ErrInsufficientCredit):
		return http.StatusPaymentRequired, "Insufficient credits"
	case errors.Is(err, pipeline.ErrCannotProceed):
		return http.StatusPaymentRequired, "Not enough credits for this recording"
	case errors.Is(err, billing.ErrInvalidDuration):
		return http.StatusBadRequest, "Invalid duration"
	case errors.Is(err, storage.ErrEmptyText):
		return http.StatusBadRequest, "Missing transcription text"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, billing.ErrProfileNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrCancelled):
		return http.StatusConflict, err.Error()
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, fmt.Sprintf("Failed to transcribe audio chunk: %v", err)
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, fmt.Sprintf("Failed to transcribe audio chunk: %v", err)
	case errors.Is(err, session.ErrManagerStopped),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= 500 {
		h.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
	writeError(w, status, message)
}

// handleAnalyze implements POST /api/transcribe/analyze
func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(w, r, smallBodyLimit, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	est, err := h.service.Analyze(r.Context(), currentUser(r).ID, req.DurationSeconds)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, est)
}

// handleChunk implements POST /api/transcribe/chunk
func (h *HTTPServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by a third
	limit := h.config.MaxUploadBytes*4/3 + smallBodyLimit

	var req chunkRequest
	if err := decodeJSON(w, r, limit, &req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio chunk too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Audio == "" || req.ChunkIndex == nil || req.TotalChunks == 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	res, err := h.service.TranscribeChunk(r.Context(), currentUser(r).ID, service.ChunkRequest{
		Audio:       req.Audio,
		ChunkIndex:  *req.ChunkIndex,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleSave implements POST /api/transcribe/save
func (h *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SaveRequest
	if err := decodeJSON(w, r, h.config.MaxUploadBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.service.Save(r.Context(), currentUser(r).ID, storage.NewTranscript{
		Text:            req.Text,
		DurationSeconds: req.DurationSeconds,
		CreditsUsed:     req.CreditsUsed,
		IsPartial:       req.IsPartial,
	})
	if err != nil {
		if status, _ := statusFor(err); status >= 500 {
			h.logger.Error("Failed to save transcription", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to save transcription")
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"transcriptionId": id})
}

// handleListTranscriptions implements GET /api/transcriptions
func (h *HTTPServer) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Transcripts(r.Context(), currentUser(r).ID)
	if err != nil {
		h.logger.Error("Failed to fetch transcriptions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to fetch transcriptions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"transcriptions": list})
}

// handleDeleteTranscription implements DELETE /api/transcriptions?id=
func (h *HTTPServer) handleDeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing transcription ID")
		return
	}

	if err := h.service.DeleteTranscript(r.Context(), currentUser(r).ID, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleCredits implements GET /api/credits
func (h *HTTPServer) handleCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.Credits(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

// handleCreditPackages implements GET /api/credits/packages
func (h *HTTPServer) handleCreditPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": billing.CreditPackages})
}
