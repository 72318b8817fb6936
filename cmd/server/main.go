package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/auth"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/config"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/server"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/service"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/session"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage/postgres"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "sinhala-translator"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	issueToken := flag.String("issue-token", "", "Print a bearer token for this user id and exit")
	tokenEmail := flag.String("email", "", "Email embedded in an issued token")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\n%s", config.Usage())
	}
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	authenticator, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.GetTokenTTL(), logger)
	if err != nil {
		logger.Error("Failed to create authenticator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := authenticator.Issue(*issueToken, *tokenEmail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without secrets)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("chunk_duration", cfg.Audio.GetChunkDuration()),
		slog.Int("max_audio_size_mb", cfg.Audio.MaxAudioSizeMB),
		slog.String("provider", cfg.Transcription.Provider),
		slog.Int("max_retries", cfg.Pipeline.MaxRetries),
		slog.Float64("credits_per_minute", cfg.Billing.CreditsPerMinute),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	ledger, store, closeStorage, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStorage()

	transcriber, err := transcription.New(transcription.Config{
		Provider:      cfg.Transcription.Provider,
		APIKey:        cfg.Transcription.ProviderAPIKey(),
		Model:         cfg.Transcription.Model,
		BaseURL:       cfg.Transcription.BaseURL,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		ChunkDuration: cfg.Audio.GetChunkDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer transcriber.Close()
	logger.Info("Transcription client initialized",
		slog.String("provider", transcriber.Name()),
		slog.Duration("timeout", transcriber.Timeout()),
	)

	decoder := audio.NewAutoDecoder(audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath))
	chunker := audio.NewChunker(audio.ChunkingConfig{
		ChunkDuration: cfg.Audio.GetChunkDuration(),
		SampleRate:    cfg.Audio.SampleRate,
	}, decoder)

	svc := service.New(
		billing.NewService(ledger, cfg.Billing.CreditsPerMinute),
		store,
		transcriber,
		service.Config{
			SampleRate:    cfg.Audio.SampleRate,
			MaxAudioBytes: cfg.Audio.GetMaxAudioBytes(),
		},
		logger,
		appMetrics,
	)

	sessions := session.NewManager(logger, appMetrics, session.Config{
		Timeout: cfg.Session.GetTimeoutDuration(),
		Pipeline: pipeline.Config{
			MaxRetries: cfg.Pipeline.MaxRetries,
			RetryDelay: cfg.Pipeline.GetRetryDelay(),
		},
	}, svc.ForUser, chunker)
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Session.GetTimeoutDuration()),
	)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTP.Port,
		Address:        cfg.HTTP.Address,
		ReadTimeout:    cfg.HTTP.GetReadTimeout(),
		WriteTimeout:   cfg.HTTP.GetWriteTimeout(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxUploadBytes: cfg.Audio.GetMaxAudioBytes(),
	}, logger, server.Dependencies{
		Service:       svc,
		Sessions:      sessions,
		Auth:          authenticator,
		Transcription: transcriber,
		Chunker:       chunker,
		Gatherer:      registry,
	}, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests before cancelling in-flight runs
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	sessions.Stop()

	stats := transcriber.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// openStorage returns the ledger and transcript store selected by cfg
func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (billing.Ledger, storage.Store, func(), error) {
	if cfg.Driver != "postgres" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return billing.NewMemoryLedger(), storage.NewMemoryStore(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := postgres.Open(connectCtx, postgres.Config{
		DSN:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.GetConnMaxLifetime(),
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := db.Migrate(connectCtx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	logger.Info("PostgreSQL storage initialized",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)

	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Error("Error closing database", slog.String("error", err.Error()))
		}
	}
	return db, db, closeFn, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
