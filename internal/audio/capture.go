package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCaptureTooLarge is returned when a capture exceeds its byte limit
	ErrCaptureTooLarge = errors.New("capture exceeds maximum size")

	// ErrCaptureClosed is returned when writing to a finalized capture
	ErrCaptureClosed = errors.New("capture already finalized")
)

// CaptureBuffer accumulates recorder fragments for one live capture.
// Fragments carry a sequence number and may arrive out of order; they are
// appended in sequence order and duplicates are rejected.
type CaptureBuffer struct {
	mimeType string
	maxBytes int

	data    []byte
	pending map[uint32][]byte

	expectedSeq uint32
	started     bool
	closed      bool

	startedAt  time.Time
	lastUpdate time.Time
	fragments  uint32
	duplicates uint32

	mu sync.RWMutex
}

// CaptureStats represents capture statistics for monitoring
type CaptureStats struct {
	MIMEType    string `json:"mime_type"`
	Bytes       int    `json:"bytes"`
	Fragments   uint32 `json:"fragments"`
	Duplicates  uint32 `json:"duplicates"`
	PendingSeqs int    `json:"pending_sequences"`
	Closed      bool   `json:"closed"`

	StartedAt  time.Time `json:"started_at"`
	LastUpdate time.Time `json:"last_update"`
}

// NewCaptureBuffer creates a buffer for one capture. maxBytes <= 0 disables the limit.
func NewCaptureBuffer(mimeType string, maxBytes int) *CaptureBuffer {
	now := time.Now()
	return &CaptureBuffer{
		mimeType:   mimeType,
		maxBytes:   maxBytes,
		data:       make([]byte, 0, 64*1024),
		pending:    make(map[uint32][]byte),
		startedAt:  now,
		lastUpdate: now,
	}
}

// Write adds one fragment. Sequence numbers start wherever the first fragment starts.
func (b *CaptureBuffer) Write(sequence uint32, fragment []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrCaptureClosed
	}
	if len(fragment) == 0 {
		return nil
	}

	if !b.started {
		b.expectedSeq = sequence
		b.started = true
	}

	if sequence < b.expectedSeq {
		b.duplicates++
		return fmt.Errorf("ignoring old/duplicate fragment: seq=%d, expected=%d", sequence, b.expectedSeq)
	}
	if _, dup := b.pending[sequence]; dup {
		b.duplicates++
		return fmt.Errorf("ignoring duplicate fragment: seq=%d", sequence)
	}

	if b.maxBytes > 0 && b.sizeLocked()+len(fragment) > b.maxBytes {
		return fmt.Errorf("%w: limit %d bytes", ErrCaptureTooLarge, b.maxBytes)
	}

	b.lastUpdate = time.Now()
	b.fragments++

	if sequence == b.expectedSeq {
		b.data = append(b.data, fragment...)
		b.expectedSeq++
		b.drainPending()
		return nil
	}

	buf := make([]byte, len(fragment))
	copy(buf, fragment)
	b.pending[sequence] = buf
	return nil
}

// drainPending appends any consecutive buffered fragments
func (b *CaptureBuffer) drainPending() {
	for {
		frag, ok := b.pending[b.expectedSeq]
		if !ok {
			return
		}
		b.data = append(b.data, frag...)
		delete(b.pending, b.expectedSeq)
		b.expectedSeq++
	}
}

func (b *CaptureBuffer) sizeLocked() int {
	n := len(b.data)
	for _, frag := range b.pending {
		n += len(frag)
	}
	return n
}

// Finalize closes the capture and returns it as an immutable source.
// Fragments stuck behind a gap are appended in sequence order.
func (b *CaptureBuffer) Finalize(name string) (Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Source{}, ErrCaptureClosed
	}
	b.closed = true

	for len(b.pending) > 0 {
		lowest := uint32(0)
		first := true
		for seq := range b.pending {
			if first || seq < lowest {
				lowest = seq
				first = false
			}
		}
		b.expectedSeq = lowest
		b.drainPending()
	}

	if len(b.data) == 0 {
		return Source{}, &DecodeError{Err: ErrEmptySource}
	}

	data := make([]byte, len(b.data))
	copy(data, b.data)
	return Source{Name: name, MIMEType: b.mimeType, Data: data}, nil
}

// Reset discards everything captured so far and reopens the buffer
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.pending = make(map[uint32][]byte)
	b.started = false
	b.closed = false
	b.expectedSeq = 0
	b.fragments = 0
	b.duplicates = 0
	b.startedAt = time.Now()
	b.lastUpdate = b.startedAt
}

// Size returns the number of bytes captured, including out-of-order fragments
func (b *CaptureBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sizeLocked()
}

// GetStats returns current capture statistics
func (b *CaptureBuffer) GetStats() CaptureStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return CaptureStats{
		MIMEType:    b.mimeType,
		Bytes:       b.sizeLocked(),
		Fragments:   b.fragments,
		Duplicates:  b.duplicates,
		PendingSeqs: len(b.pending),
		Closed:      b.closed,
		StartedAt:   b.startedAt,
		LastUpdate:  b.lastUpdate,
	}
}
