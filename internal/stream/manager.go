package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/pool"
)

// Transcript is a finalized utterance handed to the transcript sink.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Result    string    `json:"result"` // engine JSON, verbatim
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptSink receives finalized transcripts, typically a webhook
// publisher. Implementations must be safe for concurrent use.
type TranscriptSink interface {
	Publish(ctx context.Context, t Transcript)
}

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	SampleRate  float64
	IdleTimeout time.Duration
}

// Manager owns all active recognition sessions.
type Manager struct {
	source  DecoderSource
	pool    *pool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    TranscriptSink
	config  ManagerConfig

	sessions map[string]*Session
	mu       sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager. The metrics and sink arguments may
// be nil; every session created by the manager decodes through p.
func NewManager(source DecoderSource, p *pool.Pool, logger *slog.Logger, m *metrics.Metrics, sink TranscriptSink, config ManagerConfig) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("decoder source is required")
	}
	if p == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", config.SampleRate)
	}
	if config.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %v", config.IdleTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		source:   source,
		pool:     p,
		logger:   logger,
		metrics:  m,
		sink:     sink,
		config:   config,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a new session against the named model. An empty
// model name selects the source's default.
func (m *Manager) CreateSession(model string) (*Session, error) {
	if !m.source.HasModel(model) {
		return nil, fmt.Errorf("unknown model %q", model)
	}

	dec, err := m.source.NewDecoder(model, m.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		Model:        model,
		CreatedAt:    now,
		lastActivity: now,
		dec:          dec,
		pool:         m.pool,
		metrics:      m.metrics,
		onFinal:      m.handleFinal,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("model", model),
	)
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(count)
	}

	return session, nil
}

// GetSession retrieves an existing session.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// RemoveSession closes a session and removes it from the manager. Returns
// false when the session does not exist.
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

	info := session.Info()
	if err := session.Close(); err != nil {
		m.logger.Warn("Error closing session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks", info.Chunks),
		slog.Uint64("utterances", info.Utterances),
		slog.Uint64("decode_errors", info.DecodeErrors),
	)
	if m.metrics != nil {
		m.metrics.RecordSessionClosed(info.Duration.Seconds())
		m.metrics.SetActiveSessions(count)
	}

	return true
}

// ActiveSessionCount returns the number of open sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of all open sessions for monitoring.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Stop closes all sessions and stops the cleanup routine. Models are owned
// by the decoder source and stay loaded until the source is closed.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveSession(id)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_closed", len(ids)),
	)
}

// handleFinal forwards a finalized transcript to the sink, if any.
func (m *Manager) handleFinal(s *Session, result string) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(m.ctx, Transcript{
		SessionID: s.ID,
		Model:     s.Model,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// startCleanupRoutine periodically reaps sessions that exceeded the idle
// timeout.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions inactive beyond the idle timeout.
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]*Session, 0)

	m.mu.RLock()
	for _, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, session)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up expired sessions",
		slog.Int("expired_count", len(expired)),
	)

	for _, session := range expired {
		info := session.Info()
		if m.RemoveSession(session.ID) && m.metrics != nil {
			m.metrics.RecordSessionExpired()
		}
		m.logger.Info("Session expired",
			slog.String("session_id", session.ID),
			slog.Duration("idle", now.Sub(info.LastActivity)),
		)
	}
}
