package audio

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestIsSupportedMIMEType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     bool
	}{
		{"audio/webm", true},
		{"audio/webm;codecs=opus", true},
		{"AUDIO/MPEG", true},
		{"audio/x-m4a", true},
		{"audio/x-wav", true},
		{"audio/aac", false},
		{"video/mp4", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsSupportedMIMEType(tt.mimeType); got != tt.want {
			t.Errorf("IsSupportedMIMEType(%q) = %v, want %v", tt.mimeType, got, tt.want)
		}
	}
}

func TestIsWAV(t *testing.T) {
	data, _ := EncodeWAV([]float32{0}, 16000)
	if !IsWAV(data) {
		t.Error("Expected encoded data to be detected as WAV")
	}
	if IsWAV([]byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00")) {
		t.Error("Expected ogg data not to be detected as WAV")
	}
}

func TestPCMDuration(t *testing.T) {
	pcm := &PCM{SampleRate: 8000, Channels: 2, Samples: [][]float32{make([]float32, 8000), make([]float32, 4000)}}
	if pcm.Frames() != 4000 {
		t.Errorf("Expected 4000 frames, got %d", pcm.Frames())
	}
	if pcm.DurationSeconds() != 0.5 {
		t.Errorf("Expected 0.5s, got %v", pcm.DurationSeconds())
	}

	if (&PCM{}).DurationSeconds() != 0 {
		t.Error("Expected zero duration without a sample rate")
	}
}

func TestFFmpegDecoderMissingBinary(t *testing.T) {
	dec := NewFFmpegDecoder("sinhala-translator-no-such-ffmpeg", "sinhala-translator-no-such-ffprobe")

	_, err := dec.Decode(context.Background(), []byte("data"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}

	_, err = dec.Probe(context.Background(), []byte("data"))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("Expected DecodeError, got %v", err)
	}
}

func TestFFmpegDecoderRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wav, err := EncodeWAV(sine(22050, 1, 440), 22050)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	dec := NewFFmpegDecoder("", "")
	pcm, err := dec.Decode(ctx, wav)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 1 {
		t.Errorf("Expected mono 22050, got %dch/%d", pcm.Channels, pcm.SampleRate)
	}
	if pcm.Frames() != 22050 {
		t.Errorf("Expected 22050 frames, got %d", pcm.Frames())
	}

	info, err := dec.Probe(ctx, wav)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.DurationSeconds < 0.99 || info.DurationSeconds > 1.01 {
		t.Errorf("Expected ~1s, got %v", info.DurationSeconds)
	}
}
