package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
)

// settleDelay is how long a file must stay unchanged before it is picked up
const settleDelay = 2 * time.Second

// watch transcribes every recording that appears in dir, one at a time,
// writing <name>.txt next to it. Recordings that already have a transcript
// are skipped.
func (t *transcriber) watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s for recordings...\n", dir)

	// path -> last time it changed
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isRecording(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			t.logger.Warn("File watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			for path, changed := range pending {
				if now.Sub(changed) < settleDelay {
					continue
				}
				delete(pending, path)
				if err := t.transcribeToSidecar(ctx, path); err != nil {
					if errors.Is(err, pipeline.ErrInsufficientCredit) || errors.Is(err, pipeline.ErrCannotProceed) {
						fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
						continue
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
					t.logger.Error("Transcription failed",
						slog.String("file", path),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (t *transcriber) transcribeToSidecar(ctx context.Context, path string) error {
	out := sidecarPath(path)
	if _, err := os.Stat(out); err == nil {
		t.logger.Debug("Transcript exists, skipping", slog.String("file", path))
		return nil
	}

	// no prompt in watch mode; the server still refuses runs it cannot cover
	result, err := t.transcribeFile(ctx, path, true)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(out, []byte(result.Text+"\n")); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "%s -> %s (%d credits, %d remaining)\n",
		filepath.Base(path), filepath.Base(out), result.CreditsUsed, result.CreditsRemaining)
	return nil
}

func sidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
}

func isRecording(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return mimeTypeFor(path) != ""
}
