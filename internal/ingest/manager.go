package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
)

// Manager owns one Session per configured source and fans every accepted
// message into a single shared channel for the parser stage, the way the
// teacher's ingestion.Manager fans multiple on-chain sources into shared
// stores. Unlike the teacher's pull-based Fetch model, sessions here push.
type Manager struct {
	out      chan domain.RawMessage
	log      *logrus.Logger
	cfg      SessionConfig
	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOutBuffer is the parser-bound fan-in channel capacity from spec §5.
const ManagerOutBuffer = 4096

// NewManager creates a manager whose Messages() channel has the spec's
// fixed fan-in buffer size.
func NewManager(log *logrus.Logger, cfg SessionConfig) *Manager {
	return &Manager{
		out:      make(chan domain.RawMessage, ManagerOutBuffer),
		log:      log,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Messages is the single channel every parser worker reads from.
func (m *Manager) Messages() <-chan domain.RawMessage {
	return m.out
}

// AddSource registers a source under sourceID, wiring it into the shared
// fan-in channel. Must be called before Run.
func (m *Manager) AddSource(sourceID string, source ChatSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sourceID] = NewSession(sourceID, source, m.out, m.cfg, m.log)
}

// Session returns the session registered for sourceID, or nil.
func (m *Manager) Session(sourceID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sourceID]
}

// Run starts every registered session's Run loop and blocks until ctx is
// cancelled or a session returns a non-nil, non-shutdown error. Each
// session reconnects on its own transient failures; Run only surfaces a
// session that gave up permanently.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	sessions := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	m.mu.Unlock()

	if len(sessions) == 0 {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, len(sessions))
	var wg sync.WaitGroup
	for id, s := range sessions {
		wg.Add(1)
		go func(id string, s *Session) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				errCh <- fmt.Errorf("ingest session %s: %w", id, err)
			}
		}(id, s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
		return nil
	case err := <-errCh:
		return err
	case <-done:
		return nil
	}
}

// Close closes every registered session's transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		_ = s.Close()
	}
	return nil
}
