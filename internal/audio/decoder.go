package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptySource is returned when a source carries no bytes or no samples
	ErrEmptySource = errors.New("audio source is empty")

	// ErrUnsupportedFormat is returned when no decoder understands the container
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// SupportedMIMETypes lists the containers accepted for upload
var SupportedMIMETypes = []string{
	"audio/webm",
	"audio/mp3",
	"audio/mpeg",
	"audio/wav",
	"audio/ogg",
	"audio/flac",
	"audio/mp4",
	"audio/x-m4a",
}

// IsSupportedMIMEType reports whether mimeType (parameters ignored) is accepted
func IsSupportedMIMEType(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "audio/x-wav" || base == "audio/wave" {
		return true
	}
	for _, t := range SupportedMIMETypes {
		if t == base {
			return true
		}
	}
	return false
}

// Source is a captured or uploaded audio blob. It is never mutated after creation.
type Source struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Info describes a source without decoding all of its samples
type Info struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Channels        int     `json:"channels,omitempty"`
	Format          string  `json:"format"`
}

// PCM holds decoded samples per channel in the nominal range [-1.0, 1.0]
type PCM struct {
	SampleRate int
	Channels   int
	Samples    [][]float32
}

// Frames returns the number of samples per channel
func (p *PCM) Frames() int {
	if len(p.Samples) == 0 {
		return 0
	}
	n := len(p.Samples[0])
	for _, ch := range p.Samples[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	return n
}

// DurationSeconds returns the decoded duration
func (p *PCM) DurationSeconds() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

// Decoder turns container bytes into samples.
// Probe must be cheap enough to run before the user confirms a transcription.
type Decoder interface {
	Probe(ctx context.Context, data []byte) (*Info, error)
	Decode(ctx context.Context, data []byte) (*PCM, error)
}

// DecodeError reports an unusable source. It is fatal and never retried.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// asDecodeError wraps err in a DecodeError unless it already is one
func asDecodeError(format string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &DecodeError{Format: format, Err: err}
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// AutoDecoder decodes WAV natively and hands every other container to a fallback
type AutoDecoder struct {
	wav      *WAVDecoder
	fallback Decoder
}

var (
	_ Decoder = (*AutoDecoder)(nil)
	_ Decoder = (*WAVDecoder)(nil)
	_ Decoder = (*FFmpegDecoder)(nil)
)

// NewAutoDecoder creates a decoder. fallback may be nil, in which case only WAV is accepted.
func NewAutoDecoder(fallback Decoder) *AutoDecoder {
	return &AutoDecoder{wav: &WAVDecoder{}, fallback: fallback}
}

func (d *AutoDecoder) pick(data []byte) (Decoder, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: ErrEmptySource}
	}
	if IsWAV(data) {
		return d.wav, nil
	}
	if d.fallback == nil {
		return nil, &DecodeError{Err: ErrUnsupportedFormat}
	}
	return d.fallback, nil
}

// Probe discovers the duration of data
func (d *AutoDecoder) Probe(ctx context.Context, data []byte) (*Info, error) {
	dec, err := d.pick(data)
	if err != nil {
		return nil, err
	}
	return dec.Probe(ctx, data)
}

// Decode decodes data into per-channel samples
func (d *AutoDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	dec, err := d.pick(data)
	if err != nil {
		return nil, err
	}
	return dec.Decode(ctx, data)
}
