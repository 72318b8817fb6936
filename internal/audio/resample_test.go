package audio

import (
	"math"
	"testing"
)

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		channels [][]float32
		want     []float32
	}{
		{"none", nil, nil},
		{"mono copy", [][]float32{{0.1, 0.2}}, []float32{0.1, 0.2}},
		{"stereo average", [][]float32{{1, 0.5}, {0, -0.5}}, []float32{0.5, 0}},
		{"uneven lengths", [][]float32{{1, 1, 1}, {1, 1}}, []float32{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downmix(tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d samples, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-7 {
					t.Errorf("Sample %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDownmixDoesNotAlias(t *testing.T) {
	ch := []float32{0.3}
	mono := Downmix([][]float32{ch})
	mono[0] = 0
	if ch[0] != 0.3 {
		t.Error("Downmix of a single channel must copy its input")
	}
}

func TestResampledLength(t *testing.T) {
	tests := []struct {
		n, from, to, want int
	}{
		{0, 44100, 16000, 0},
		{16000, 16000, 16000, 16000},
		{44100, 44100, 16000, 16000},
		{48000, 48000, 16000, 16000},
		{8000, 8000, 16000, 16000},
		{1, 48000, 16000, 1},
	}

	for _, tt := range tests {
		if got := ResampledLength(tt.n, tt.from, tt.to); got != tt.want {
			t.Errorf("ResampledLength(%d, %d, %d) = %d, want %d", tt.n, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResampleUpsampleInterpolates(t *testing.T) {
	got := Resample([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestResamplePreservesConstant(t *testing.T) {
	in := make([]float32, 4410)
	for i := range in {
		in[i] = 0.25
	}

	out := Resample(in, 44100, 16000)
	if len(out) != 1600 {
		t.Fatalf("Expected 1600 samples, got %d", len(out))
	}
	for i, s := range out {
		if math.Abs(float64(s)-0.25) > 1e-6 {
			t.Fatalf("Sample %d drifted to %v", i, s)
		}
	}
}

func TestResampleSameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("Expected same-rate resample to return the input")
	}
}

func TestResampleAttenuatesAboveNyquist(t *testing.T) {
	// 20 kHz tone at 48 kHz cannot be represented at 16 kHz
	in := sine(48000, 0.1, 20000)
	out := Resample(in, 48000, 16000)

	var peak float64
	for _, s := range out[10 : len(out)-10] {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak > 0.35 {
		t.Errorf("Expected attenuated alias, peak %v", peak)
	}
}
