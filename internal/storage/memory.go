package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps transcripts in process memory
type MemoryStore struct {
	transcripts map[string]*Transcript
	mu          sync.RWMutex
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transcripts: make(map[string]*Transcript),
		now:         time.Now,
	}
}

// Save stores a new transcript
func (s *MemoryStore) Save(ctx context.Context, userID string, n NewTranscript) (*Transcript, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	t := &Transcript{
		ID:              uuid.NewString(),
		UserID:          userID,
		Text:            n.Text,
		DurationSeconds: n.RoundedDuration(),
		CreditsUsed:     n.CreditsUsed,
		IsPartial:       n.IsPartial,
		CreatedAt:       s.now(),
	}

	s.mu.Lock()
	s.transcripts[t.ID] = t
	s.mu.Unlock()

	out := *t
	return &out, nil
}

// List returns the user's transcripts, newest first
func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	out := make([]Transcript, 0)
	for _, t := range s.transcripts {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a transcript owned by userID
func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(s.transcripts, id)
	return nil
}
