// Command transcribe splits a local recording and transcribes it chunk by
// chunk against a running server, billing one credit per chunk.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/apiclient"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/config"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
)

type options struct {
	server      string
	token       string
	yes         bool
	out         string
	watch       string
	chunk       time.Duration
	sampleRate  int
	maxRetries  int
	retryDelay  time.Duration
	ffmpegPath  string
	ffprobePath string
	verbose     bool
}

func main() {
	// .env must be loaded before flag defaults read the environment
	envErr := config.LoadDotEnv()

	var opts options
	flag.StringVar(&opts.server, "server", envOr("TRANSCRIBE_SERVER", "http://localhost:8080"), "Transcription server base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("TRANSCRIBE_TOKEN"), "Bearer token")
	flag.BoolVar(&opts.yes, "yes", false, "Skip the credit confirmation prompt")
	flag.StringVar(&opts.out, "out", "", "Write the transcript to this file (default: stdout, or <name>.txt in watch mode)")
	flag.StringVar(&opts.watch, "watch", "", "Watch a directory and transcribe recordings as they appear")
	flag.DurationVar(&opts.chunk, "chunk", audio.DefaultChunkDuration, "Chunk duration")
	flag.IntVar(&opts.sampleRate, "sample-rate", audio.DefaultSampleRate, "Sample rate of transcribed chunks")
	flag.IntVar(&opts.maxRetries, "retries", 2, "Retries per chunk")
	flag.DurationVar(&opts.retryDelay, "retry-delay", time.Second, "Base delay between retries")
	flag.StringVar(&opts.ffmpegPath, "ffmpeg", "ffmpeg", "Path to ffmpeg")
	flag.StringVar(&opts.ffprobePath, "ffprobe", "ffprobe", "Path to ffprobe")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if envErr != nil {
		logger.Warn("Failed to load .env", slog.String("error", envErr.Error()))
	}
	if opts.token == "" {
		fmt.Fprintln(os.Stderr, "A bearer token is required (-token or TRANSCRIBE_TOKEN)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := newTranscriber(opts, logger)

	if opts.watch != "" {
		if err := t.watch(ctx, opts.watch); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <audio-file>...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	if opts.out != "" && flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "-out takes a single input file")
		os.Exit(2)
	}

	exitCode := 0
	for _, path := range flag.Args() {
		result, err := t.transcribeFile(ctx, path, opts.yes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: transcription failed: %v\n", path, err)
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrInsufficientCredit) {
				os.Exit(1)
			}
			exitCode = 1
			continue
		}

		if opts.out != "" {
			if err := writeFileAtomic(opts.out, []byte(result.Text+"\n")); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write transcript: %v\n", err)
				os.Exit(1)
			}
		} else {
			if flag.NArg() > 1 {
				fmt.Printf("== %s\n", filepath.Base(path))
			}
			fmt.Println(result.Text)
		}

		if result.IsPartial {
			fmt.Fprintf(os.Stderr, "%s: partial transcript, %d of %d chunks, %d credits used, %d remaining\n",
				path, result.ChunksCompleted, result.ChunksTotal, result.CreditsUsed, result.CreditsRemaining)
			exitCode = 3
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: %d credits used, %d remaining\n", path, result.CreditsUsed, result.CreditsRemaining)
	}
	os.Exit(exitCode)
}

// transcriber runs local pipelines against the server
type transcriber struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	in       *bufio.Reader
}

func newTranscriber(opts options, logger *slog.Logger) *transcriber {
	client := apiclient.New(apiclient.Config{BaseURL: opts.server, Token: opts.token})

	chunker := audio.NewChunker(audio.ChunkingConfig{
		ChunkDuration: opts.chunk,
		SampleRate:    opts.sampleRate,
	}, audio.NewAutoDecoder(audio.NewFFmpegDecoder(opts.ffmpegPath, opts.ffprobePath)))

	p := pipeline.New(client, chunker, pipeline.Config{
		MaxRetries: opts.maxRetries,
		RetryDelay: opts.retryDelay,
	}, pipeline.WithLogger(logger), pipeline.WithUninterruptedChunks())

	return &transcriber{pipeline: p, logger: logger, in: bufio.NewReader(os.Stdin)}
}

// transcribeFile runs one file end to end. Cancelling ctx stops decoding and
// the prompt right away; once chunks are being sent the run stops after the
// chunk in flight and nothing is saved.
func (t *transcriber) transcribeFile(ctx context.Context, path string, yes bool) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	run := pipeline.NewRun(audio.Source{
		Name:     filepath.Base(path),
		MIMEType: mimeTypeFor(path),
		Data:     data,
	})
	run.OnProgress(func(s pipeline.Snapshot) {
		if s.State == pipeline.StateProcessing && s.Progress.Total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s: chunk %d/%d", s.SourceName, s.Progress.Current, s.Progress.Total)
		}
	})

	result, err := t.pipeline.Start(ctx, run, func(est *pipeline.Estimate) bool {
		fmt.Fprintf(os.Stderr, "%s: %.0fs of audio needs %d credits (%d available)\n",
			run.Source.Name, est.DurationSeconds, est.RequiredCredits, est.CurrentCredits)
		if yes {
			return true
		}
		return t.confirm(ctx, "Proceed?")
	})
	fmt.Fprintln(os.Stderr)

	if errors.Is(err, pipeline.ErrCannotProceed) {
		if est := run.Estimate(); est != nil {
			return nil, fmt.Errorf("need %d credits, have %d: %w", est.RequiredCredits, est.CurrentCredits, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if result.PersistErr != nil {
		t.logger.Warn("Transcript not saved on the server", slog.String("error", result.PersistErr.Error()))
	}
	return result, nil
}

// confirm asks a yes/no question on stdin. A cancelled ctx counts as no.
func (t *transcriber) confirm(ctx context.Context, prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)

	answer := make(chan bool, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			answer <- false
			return
		}
		line = strings.ToLower(strings.TrimSpace(line))
		answer <- line == "y" || line == "yes"
	}()

	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		return false
	}
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".webm":
		return "audio/webm"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/x-m4a"
	case ".mp4":
		return "audio/mp4"
	default:
		return ""
	}
}

// writeFileAtomic writes data next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
