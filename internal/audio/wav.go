package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	wavHeaderSize = 44

	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE

	// streamed writers (ffmpeg to a pipe) leave sizes unset
	unknownChunkSize = 0xFFFFFFFF
)

// WAVHeader represents the canonical 44-byte header written by the encoder
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV quantizes mono float samples and wraps them in a 16-bit PCM WAV container
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	return EncodePCM16(Quantize(samples), sampleRate)
}

// Quantize converts float samples to signed 16-bit values.
// Samples are clamped to [-1, 1]; the negative side scales by 32768 and the
// positive side by 32767, truncating toward zero.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantizeSample(s)
	}
	return out
}

func quantizeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// EncodePCM16 encodes PCM-16 mono samples into WAV format
func EncodePCM16(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// wavFile is the parsed layout of a RIFF/WAVE byte slice
type wavFile struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
	blockAlign    int
	data          []byte
}

func (w *wavFile) frames() int {
	return len(w.data) / w.blockAlign
}

// parseWAV walks the RIFF chunks, skipping anything that is not fmt or data
func parseWAV(data []byte) (*wavFile, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		w        wavFile
		foundFmt bool
		foundDat bool
	)

	offset := 12
	for offset+8 <= len(data) && !(foundFmt && foundDat) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		start := offset + 8
		remaining := len(data) - start

		switch id {
		case "fmt ":
			if size < 16 || int(size) > remaining {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk size %d", size)
			}
			body := data[start : start+int(size)]
			w.audioFormat = binary.LittleEndian.Uint16(body[0:2])
			w.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			w.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			w.blockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
			w.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if w.audioFormat == formatExtensible && size >= 26 {
				// first two bytes of the sub-format GUID carry the real format code
				w.audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			foundFmt = true
		case "data":
			n := int(size)
			if size == 0 || size == unknownChunkSize || n > remaining {
				n = remaining
			}
			w.data = data[start : start+n]
			foundDat = true
			size = uint32(n)
		}

		next := start + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= offset {
			break
		}
		offset = next
	}

	if !foundFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !foundDat {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if w.channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", w.channels)
	}
	if w.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", w.sampleRate)
	}

	switch w.audioFormat {
	case formatPCM:
		switch w.bitsPerSample {
		case 8, 16, 24, 32:
		default:
			return nil, fmt.Errorf("unsupported PCM bit depth: %d", w.bitsPerSample)
		}
	case formatIEEEFloat:
		if w.bitsPerSample != 32 && w.bitsPerSample != 64 {
			return nil, fmt.Errorf("unsupported float bit depth: %d", w.bitsPerSample)
		}
	default:
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM and IEEE float are supported)", w.audioFormat)
	}

	expectedAlign := w.channels * w.bitsPerSample / 8
	if w.blockAlign != expectedAlign {
		w.blockAlign = expectedAlign
	}

	return &w, nil
}

// DecodeWAV decodes WAV data into per-channel float samples
func DecodeWAV(data []byte) (*PCM, error) {
	w, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	frames := w.frames()
	if frames <= 0 {
		return nil, fmt.Errorf("no audio data found")
	}

	pcm := &PCM{
		SampleRate: w.sampleRate,
		Channels:   w.channels,
		Samples:    make([][]float32, w.channels),
	}
	for c := range pcm.Samples {
		pcm.Samples[c] = make([]float32, frames)
	}

	width := w.bitsPerSample / 8
	for i := 0; i < frames; i++ {
		base := i * w.blockAlign
		for c := 0; c < w.channels; c++ {
			off := base + c*width
			pcm.Samples[c][i] = w.sample(w.data[off : off+width])
		}
	}

	return pcm, nil
}

func (w *wavFile) sample(b []byte) float32 {
	if w.audioFormat == formatIEEEFloat {
		if w.bitsPerSample == 64 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch w.bitsPerSample {
	case 8:
		return (float32(b[0]) - 128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float32(v) / 8388608
	default:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	}
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := parseWAV(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	w, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	frames := w.frames()
	return &WAVInfo{
		SampleRate:    uint32(w.sampleRate),
		Channels:      uint16(w.channels),
		BitsPerSample: uint16(w.bitsPerSample),
		Duration:      float64(frames) / float64(w.sampleRate),
		DataSize:      uint32(len(w.data)),
		NumSamples:    uint32(frames),
	}, nil
}

// WAVDecoder is the native decoder for RIFF/WAVE sources
type WAVDecoder struct{}

// Probe reads the headers and computes the duration
func (WAVDecoder) Probe(ctx context.Context, data []byte) (*Info, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, &DecodeError{Format: "wav", Err: err}
	}
	return &Info{
		DurationSeconds: info.Duration,
		SampleRate:      int(info.SampleRate),
		Channels:        int(info.Channels),
		Format:          "wav",
	}, nil
}

// Decode decodes every channel of data
func (WAVDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, &DecodeError{Format: "wav", Err: err}
	}
	return pcm, nil
}

// EncodeBase64 converts an encoded segment into its JSON-safe transport form
func EncodeBase64(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodeBase64 reverses EncodeBase64. A leading data URL prefix is tolerated.
func DecodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return b, nil
}
