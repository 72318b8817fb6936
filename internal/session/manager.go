package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
)

const defaultCleanupInterval = 30 * time.Second

var (
	// ErrSessionNotFound is returned for unknown sessions or sessions owned by another user
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionActive is returned when the user already has a session analyzing or processing
	ErrSessionActive = errors.New("a transcription session is already active")

	// ErrManagerStopped is returned after Stop
	ErrManagerStopped = errors.New("session manager stopped")
)

// RemoteFactory returns the remote a user's runs are metered against
type RemoteFactory func(userID string) pipeline.Remote

// Session is one user's transcription run hosted by the server
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	run    *pipeline.Run
	result *pipeline.Result

	lastActivity time.Time
	started      bool
	done         chan struct{}

	mu sync.RWMutex
}

// Info is the externally visible state of a session
type Info struct {
	pipeline.Snapshot
	UserID    string `json:"userId"`
	SaveError string `json:"saveError,omitempty"`
}

// Info returns a consistent snapshot
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Snapshot: s.run.Snapshot(), UserID: s.UserID}
	if s.result != nil && s.result.PersistErr != nil {
		info.SaveError = s.result.PersistErr.Error()
	}
	return info
}

// Done is closed when background processing ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Config contains session manager configuration
type Config struct {
	// Timeout is how long a finished or abandoned session is kept
	Timeout         time.Duration
	CleanupInterval time.Duration
	Pipeline        pipeline.Config
}

// Manager hosts server-side pipeline runs, at most one active run per user
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	config   Config

	remotes RemoteFactory
	chunker *audio.Chunker

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	workers sync.WaitGroup
}

// NewManager creates a manager and starts its cleanup routine
func NewManager(logger *slog.Logger, m *metrics.Metrics, config Config, remotes RemoteFactory, chunker *audio.Chunker) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
		config:   config,
		remotes:  remotes,
		chunker:  chunker,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

func (m *Manager) newPipeline(userID string) *pipeline.Pipeline {
	return pipeline.New(m.remotes(userID), m.chunker, m.config.Pipeline,
		pipeline.WithLogger(m.logger.With(slog.String("user_id", userID))),
		pipeline.WithMetrics(m.metrics))
}

// Create registers a session for src and analyzes it. A previous session of
// the same user that is still waiting for confirmation is cancelled and
// replaced; one that is analyzing or processing blocks with ErrSessionActive.
func (m *Manager) Create(ctx context.Context, userID string, src audio.Source) (*Session, error) {
	if m.ctx.Err() != nil {
		return nil, ErrManagerStopped
	}

	run := pipeline.NewRun(src)
	now := time.Now()
	session := &Session{
		ID:           run.ID,
		UserID:       userID,
		CreatedAt:    now,
		run:          run,
		lastActivity: now,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	for id, existing := range m.sessions {
		if existing.UserID != userID {
			continue
		}
		existing.mu.RLock()
		started := existing.started
		existing.mu.RUnlock()

		switch state := existing.run.State(); {
		case state == pipeline.StateAnalyzing || state == pipeline.StateProcessing,
			state == pipeline.StateReady && started:
			m.mu.Unlock()
			return nil, ErrSessionActive
		case state == pipeline.StateReady:
			existing.run.Cancel()
			m.metrics.RecordSessionFinished(pipeline.StateCancelled.String())
			delete(m.sessions, id)
			m.logger.Info("Replaced pending session",
				slog.String("session_id", id),
				slog.String("user_id", userID))
		}
	}
	m.sessions[session.ID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(count)

	if _, err := m.newPipeline(userID).Analyze(ctx, run); err != nil {
		m.RemoveSession(session.ID)
		return nil, err
	}

	m.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID),
		slog.String("source", src.Name))

	return session, nil
}

// GetSession returns a session owned by userID
func (m *Manager) GetSession(id, userID string) (*Session, error) {
	m.mu.RLock()
	session, exists := m.sessions[id]
	m.mu.RUnlock()

	if !exists || session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Get returns the current state of a session
func (m *Manager) Get(id, userID string) (Info, error) {
	session, err := m.GetSession(id, userID)
	if err != nil {
		return Info{}, err
	}
	session.touch()
	return session.Info(), nil
}

// Confirm starts processing a Ready session in the background
func (m *Manager) Confirm(id, userID string) (Info, error) {
	session, err := m.GetSession(id, userID)
	if err != nil {
		return Info{}, err
	}
	if m.ctx.Err() != nil {
		return Info{}, ErrManagerStopped
	}

	session.mu.Lock()
	if session.started {
		session.mu.Unlock()
		return Info{}, fmt.Errorf("%w: session already confirmed", pipeline.ErrInvalidTransition)
	}
	state := session.run.State()
	if state == pipeline.StateCancelled {
		session.mu.Unlock()
		return Info{}, pipeline.ErrCancelled
	}
	if state != pipeline.StateReady {
		session.mu.Unlock()
		return Info{}, fmt.Errorf("%w: cannot confirm from %s", pipeline.ErrInvalidTransition, state)
	}
	if est := session.run.Estimate(); est == nil || !est.CanProceed {
		session.mu.Unlock()
		return Info{}, pipeline.ErrCannotProceed
	}
	session.started = true
	session.lastActivity = time.Now()
	session.mu.Unlock()

	m.workers.Add(1)
	go m.process(session)

	return session.Info(), nil
}

func (m *Manager) process(session *Session) {
	defer m.workers.Done()
	defer close(session.done)

	logger := m.logger.With(
		slog.String("session_id", session.ID),
		slog.String("user_id", session.UserID))

	result, err := m.newPipeline(session.UserID).Process(m.ctx, session.run)

	session.mu.Lock()
	session.result = result
	session.lastActivity = time.Now()
	session.mu.Unlock()

	state := session.run.State()
	m.metrics.RecordSessionFinished(state.String())

	switch {
	case err == nil:
		logger.Info("Session finished",
			slog.String("state", state.String()),
			slog.Int("credits_used", result.CreditsUsed))
	case errors.Is(err, pipeline.ErrCancelled):
		logger.Info("Session cancelled")
	default:
		logger.Warn("Session failed", slog.String("error", err.Error()))
	}
}

// Cancel requests cooperative cancellation of a session
func (m *Manager) Cancel(id, userID string) (Info, error) {
	session, err := m.GetSession(id, userID)
	if err != nil {
		return Info{}, err
	}

	if session.run.Cancel() {
		m.logger.Info("Session cancel requested",
			slog.String("session_id", id),
			slog.String("user_id", userID))

		session.mu.RLock()
		started := session.started
		session.mu.RUnlock()
		if !started {
			m.metrics.RecordSessionFinished(pipeline.StateCancelled.String())
		}
	}

	session.touch()
	return session.Info(), nil
}

// GetActiveSessionCount returns the number of hosted sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RemoveSession drops a session, cancelling it if still active
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.run.Cancel()
	m.metrics.SetActiveSessions(count)

	m.logger.Debug("Session removed",
		slog.String("session_id", id),
		slog.String("state", session.run.State().String()),
		slog.Duration("age", time.Since(session.CreatedAt)))

	return true
}

// Stop cancels every session and waits for background work to end
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.RLock()
	for _, session := range m.sessions {
		session.run.Cancel()
	}
	m.mu.RUnlock()

	// Cancel context to stop processing and the cleanup routine
	m.cancel()

	<-m.cleanup
	m.workers.Wait()

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()))
}

// startCleanupRoutine runs in a separate goroutine to drop stale sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes sessions untouched for longer than the
// timeout. Processing sessions are never expired.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.lastActivity
		session.mu.RUnlock()

		if session.run.State() == pipeline.StateProcessing {
			continue
		}
		if now.Sub(lastActivity) > m.config.Timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
	return len(expired)
}
