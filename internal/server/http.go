package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/auth"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/service"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/session"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/transcription"
)

const (
	serviceName    = "sinhala-translator"
	serviceVersion = "1.0.0"
)

// HTTPServer provides the transcription API plus health and monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	router  chi.Router
	logger  *slog.Logger
	config  HTTPServerConfig
	metrics *metrics.Metrics

	service       *service.Service
	sessions      *session.Manager
	auth          *auth.Authenticator
	transcription *transcription.Client
	chunker       *audio.Chunker
	gatherer      prometheus.Gatherer

	// Server state
	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port           int
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Dependencies are the components the API is served from
type Dependencies struct {
	Service  *service.Service
	Sessions *session.Manager
	Auth     *auth.Authenticator

	// Optional, reported by /stats
	Transcription *transcription.Client
	Chunker       *audio.Chunker

	// Gatherer backs /metrics; nil means the default registry
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, deps Dependencies, m *metrics.Metrics) *HTTPServer {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = service.DefaultMaxAudioBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:        logger,
		config:        cfg,
		metrics:       m,
		service:       deps.Service,
		sessions:      deps.Sessions,
		auth:          deps.Auth,
		transcription: deps.Transcription,
		chunker:       deps.Chunker,
		gatherer:      deps.Gatherer,
		startTime:     time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the root handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(h.withMetrics)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/credits/packages", h.handleCreditPackages)

		// the capture socket authenticates itself; browsers cannot set headers on upgrades
		r.Get("/capture", h.handleCapture)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Use(h.ensureProfile)

			r.Post("/transcribe/analyze", h.handleAnalyze)
			r.Post("/transcribe/chunk", h.handleChunk)
			r.Post("/transcribe/save", h.handleSave)

			r.Get("/transcriptions", h.handleListTranscriptions)
			r.Delete("/transcriptions", h.handleDeleteTranscription)

			r.Get("/credits", h.handleCredits)

			r.Post("/sessions", h.handleCreateSession)
			r.Get("/sessions/{id}", h.handleGetSession)
			r.Post("/sessions/{id}/confirm", h.handleConfirmSession)
			r.Post("/sessions/{id}/cancel", h.handleCancelSession)
		})
	})

	return r
}

// withMetrics records request counts and latency per route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// requestLogger logs every request with slog
func (h *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(startTime)))
	})
}

// ensureProfile creates the caller's profile with the signup bonus on first sight
func (h *HTTPServer) ensureProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if _, err := h.service.EnsureUser(r.Context(), user.ID, user.Email); err != nil {
			h.logger.Error("Failed to ensure profile",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to fetch profile")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.sessions.GetActiveSessionCount(),
		},
	}
	if h.transcription != nil {
		stats := h.transcription.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"provider":        stats.Provider,
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessions.GetActiveSessionCount(),
		},
	}
	if h.transcription != nil {
		stats["transcription"] = h.transcription.GetStats()
	}
	if h.chunker != nil {
		stats["chunker"] = h.chunker.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Sinhala Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                           "API documentation",
			"GET /health":                     "Service health check",
			"GET /stats":                      "Service statistics",
			"GET /metrics":                    "Prometheus metrics",
			"POST /api/transcribe/analyze":    "Estimate credits for a recording",
			"POST /api/transcribe/chunk":      "Transcribe one chunk and deduct one credit",
			"POST /api/transcribe/save":       "Save a finished transcript",
			"GET /api/transcriptions":         "List the 50 newest transcripts",
			"DELETE /api/transcriptions?id=":  "Delete a transcript",
			"GET /api/credits":                "Current credit balance",
			"GET /api/credits/packages":       "Credit packages",
			"POST /api/sessions":              "Upload audio and analyze it server-side",
			"GET /api/sessions/{id}":          "Session state and progress",
			"POST /api/sessions/{id}/confirm": "Start transcribing an analyzed session",
			"POST /api/sessions/{id}/cancel":  "Cancel a session",
			"GET /api/capture":                "Websocket for live audio capture",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
