package audio

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

const (
	// DefaultChunkDuration is the fixed segment length
	DefaultChunkDuration = 120 * time.Second

	// DefaultSampleRate is the rate every segment is resampled to
	DefaultSampleRate = 16000
)

// Segment is one fixed-duration slice of a source, encoded as mono 16-bit WAV
type Segment struct {
	Index           int     `json:"index"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Payload         []byte  `json:"-"`
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	ChunkDuration time.Duration
	SampleRate    int
}

// Chunker splits sources into ordered, gap-free segments
type Chunker struct {
	config  ChunkingConfig
	decoder Decoder

	// Statistics
	chunksCreated uint64
	totalDuration float64
	sourcesSplit  uint64

	mu sync.RWMutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	SourcesSplit  uint64  `json:"sources_split"`
	ChunksCreated uint64  `json:"chunks_created"`
	TotalDuration float64 `json:"total_duration_sec"`
	AvgChunkSize  float64 `json:"avg_chunk_duration_sec"`
}

// NewChunker creates a new audio chunker
func NewChunker(config ChunkingConfig, decoder Decoder) *Chunker {
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = DefaultChunkDuration
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if decoder == nil {
		decoder = NewAutoDecoder(nil)
	}
	return &Chunker{
		config:  config,
		decoder: decoder,
	}
}

// Config returns the effective configuration
func (c *Chunker) Config() ChunkingConfig {
	return c.config
}

// Probe discovers the source duration without chunking it
func (c *Chunker) Probe(ctx context.Context, src Source) (*Info, error) {
	if len(src.Data) == 0 {
		return nil, &DecodeError{Err: ErrEmptySource}
	}
	info, err := c.decoder.Probe(ctx, src.Data)
	if err != nil {
		return nil, asDecodeError(sourceFormat(src), err)
	}
	if info.DurationSeconds <= 0 || math.IsNaN(info.DurationSeconds) || math.IsInf(info.DurationSeconds, 0) {
		return nil, &DecodeError{Format: info.Format, Err: ErrEmptySource}
	}
	return info, nil
}

func sourceFormat(src Source) string {
	return src.MIMEType
}

// Split decodes the whole source, downmixes it to mono and resamples it to the
// target rate once. Segments are then sliced and encoded lazily by Next.
func (c *Chunker) Split(ctx context.Context, src Source) (*Segments, error) {
	if len(src.Data) == 0 {
		return nil, &DecodeError{Err: ErrEmptySource}
	}

	pcm, err := c.decoder.Decode(ctx, src.Data)
	if err != nil {
		return nil, asDecodeError(sourceFormat(src), err)
	}

	mono := Downmix(pcm.Samples)
	if len(mono) == 0 {
		return nil, &DecodeError{Err: ErrEmptySource}
	}
	mono = Resample(mono, pcm.SampleRate, c.config.SampleRate)

	window := int(math.Round(c.config.ChunkDuration.Seconds() * float64(c.config.SampleRate)))
	if window < 1 {
		window = 1
	}

	c.mu.Lock()
	c.sourcesSplit++
	c.mu.Unlock()

	return &Segments{
		samples:    mono,
		window:     window,
		sampleRate: c.config.SampleRate,
		total:      (len(mono) + window - 1) / window,
		duration:   float64(len(mono)) / float64(c.config.SampleRate),
		chunker:    c,
	}, nil
}

func (c *Chunker) recordChunk(seg *Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunksCreated++
	c.totalDuration += seg.DurationSeconds
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avgDuration := float64(0)
	if c.chunksCreated > 0 {
		avgDuration = c.totalDuration / float64(c.chunksCreated)
	}

	return ChunkerStats{
		SourcesSplit:  c.sourcesSplit,
		ChunksCreated: c.chunksCreated,
		TotalDuration: c.totalDuration,
		AvgChunkSize:  avgDuration,
	}
}

// Segments is a finite, forward-only sequence of encoded segments.
// It is not safe for concurrent use and cannot be restarted.
type Segments struct {
	samples    []float32
	window     int
	sampleRate int
	offset     int
	next       int
	total      int
	duration   float64
	chunker    *Chunker
}

// Len returns the total number of segments the sequence yields
func (s *Segments) Len() int {
	return s.total
}

// DurationSeconds returns the resampled duration of the whole source
func (s *Segments) DurationSeconds() float64 {
	return s.duration
}

// Next encodes and returns the next segment, or io.EOF when exhausted
func (s *Segments) Next() (*Segment, error) {
	if s.offset >= len(s.samples) {
		s.samples = nil
		return nil, io.EOF
	}

	end := min(s.offset+s.window, len(s.samples))
	window := s.samples[s.offset:end]

	payload, err := EncodeWAV(window, s.sampleRate)
	if err != nil {
		return nil, err
	}

	seg := &Segment{
		Index:           s.next,
		DurationSeconds: float64(len(window)) / float64(s.sampleRate),
		SampleRate:      s.sampleRate,
		Payload:         payload,
	}

	s.offset = end
	s.next++
	if s.chunker != nil {
		s.chunker.recordChunk(seg)
	}
	return seg, nil
}
