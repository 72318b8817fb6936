package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes compressed containers (webm, mp3, ogg, flac, m4a) by
// piping them through the ffmpeg binary. Native rate and channel layout are
// preserved so downmixing and resampling stay in this package.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegDecoder creates a decoder using the given binaries, defaulting to PATH lookups
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Probe asks ffprobe for the container duration. Streams recorded in a browser
// often carry no duration header; those are decoded fully instead.
func (d *FFmpegDecoder) Probe(ctx context.Context, data []byte) (*Info, error) {
	cmd := exec.CommandContext(ctx, d.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0",
	)
	out, err := d.run(ctx, cmd, data)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(string(out))
	if duration, perr := strconv.ParseFloat(raw, 64); perr == nil && duration > 0 {
		return &Info{DurationSeconds: duration, Format: "ffmpeg"}, nil
	}

	pcm, err := d.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return &Info{
		DurationSeconds: pcm.DurationSeconds(),
		SampleRate:      pcm.SampleRate,
		Channels:        pcm.Channels,
		Format:          "ffmpeg",
	}, nil
}

// Decode converts data to 32-bit float WAV and parses the result
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	// ffmpeg -i pipe:0 -f wav -acodec pcm_f32le pipe:1
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-v", "error",
		"-i", "pipe:0",
		"-f", "wav",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	out, err := d.run(ctx, cmd, data)
	if err != nil {
		return nil, err
	}

	pcm, err := DecodeWAV(out)
	if err != nil {
		return nil, &DecodeError{Format: "ffmpeg", Err: err}
	}
	return pcm, nil
}

func (d *FFmpegDecoder) run(ctx context.Context, cmd *exec.Cmd, data []byte) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &DecodeError{Format: "ffmpeg", Err: fmt.Errorf("%s not available: %w", cmd.Path, ErrUnsupportedFormat)}
		}
		return nil, &DecodeError{Format: "ffmpeg", Err: fmt.Errorf("%s: %w: %s", cmd.Path, err, strings.TrimSpace(stderr.String()))}
	}
	return stdout.Bytes(), nil
}
