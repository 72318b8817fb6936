package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Audio chunking metrics
	SourcesDecoded  prometheus.Counter
	DecodeFailures  prometheus.Counter
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  *prometheus.CounterVec
	TranscriptionSuccesses *prometheus.CounterVec
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  *prometheus.HistogramVec
	TranscriptionRetries   prometheus.Counter

	// Pipeline and billing metrics
	PipelineRuns        *prometheus.CounterVec
	CreditsDeducted     prometheus.Counter
	DeductionFailures   prometheus.Counter
	PersistenceFailures prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsFinished *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Audio chunking metrics
		SourcesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_audio_sources_decoded_total",
			Help: "Total number of audio sources decoded and chunked",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_audio_decode_failures_total",
			Help: "Total number of audio sources that could not be decoded",
		}),
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_audio_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sinhala_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2 minutes
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sinhala_chunk_size_bytes",
			Help:    "Size of encoded audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}, []string{"provider"}),
		TranscriptionSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}, []string{"provider"}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"provider", "error_type"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinhala_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}, []string{"provider"}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_transcription_retries_total",
			Help: "Total number of per-chunk transcription retries",
		}),

		// Pipeline and billing metrics
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		CreditsDeducted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_credits_deducted_total",
			Help: "Total number of credits deducted for transcribed chunks",
		}),
		DeductionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_credit_deduction_failures_total",
			Help: "Total number of deductions that failed after a successful transcription",
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_transcript_persistence_failures_total",
			Help: "Total number of transcripts that could not be saved",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sinhala_active_sessions",
			Help: "Current number of server-side transcription sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinhala_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_sessions_finished_total",
			Help: "Total number of sessions removed by final state",
		}, []string{"state"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinhala_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinhala_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSourceDecoded increments the decoded sources counter
func (m *Metrics) RecordSourceDecoded() {
	if m == nil {
		return
	}
	m.SourcesDecoded.Inc()
}

// RecordDecodeFailure increments the decode failures counter
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

// RecordChunkGenerated records a generated audio chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest(provider string) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(provider).Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(provider string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.WithLabelValues(provider).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(provider, errorType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(provider, errorType).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordPipelineRun records a finished pipeline run
func (m *Metrics) RecordPipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordCreditDeducted increments the credits deducted counter
func (m *Metrics) RecordCreditDeducted() {
	if m == nil {
		return
	}
	m.CreditsDeducted.Inc()
}

// RecordDeductionFailure increments the deduction failures counter
func (m *Metrics) RecordDeductionFailure() {
	if m == nil {
		return
	}
	m.DeductionFailures.Inc()
}

// RecordPersistenceFailure increments the persistence failures counter
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionFinished records a removed session by its final state
func (m *Metrics) RecordSessionFinished(state string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(state).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
