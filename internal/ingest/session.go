package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
)

// ChatSource is a single upstream chat-room connection. Implementations wrap
// whatever transport a source actually uses (Telegram MTProto, Discord
// gateway, a scraped websocket) behind the same read-loop contract, the way
// the teacher's WSClient wraps a Solana RPC websocket.
type ChatSource interface {
	// Connect establishes (or re-establishes) the underlying connection.
	Connect(ctx context.Context) error
	// ReadMessage blocks until the next raw chat message arrives, or the
	// connection fails. Connect must be called again after an error.
	ReadMessage(ctx context.Context) (domain.RawMessage, error)
	// Close releases the connection. Safe to call multiple times.
	Close() error
}

// SessionConfig controls reconnect backoff and buffering for one source
// session, mirroring the teacher's WSClientConfig.
type SessionConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	BufferSize        int
}

// DefaultSessionConfig matches spec §4.1: 2s initial backoff doubling to a
// 60s ceiling, 1024-message drop-oldest buffer per source.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		BufferSize:        1024,
	}
}

// Session owns one ChatSource's connection lifecycle: connect, read,
// reconnect with exponential backoff on failure, and forward every message
// it reads into a bounded internal buffer that a separate forwarder drains
// into the shared parser-bound channel.
type Session struct {
	sourceID string
	source   ChatSource
	cfg      SessionConfig
	log      *logrus.Entry

	buf    chan domain.RawMessage
	dropCh chan struct{} // signaled (non-blocking) each time a message is dropped
	out    chan<- domain.RawMessage

	mu     sync.Mutex
	closed bool
}

// NewSession builds a session that will forward accepted messages onto out.
// out is the shared, multi-source fan-in channel owned by a Manager.
func NewSession(sourceID string, source ChatSource, out chan<- domain.RawMessage, cfg SessionConfig, log *logrus.Logger) *Session {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultSessionConfig().BufferSize
	}
	return &Session{
		sourceID: sourceID,
		source:   source,
		cfg:      cfg,
		log:      log.WithField("source_id", sourceID),
		buf:      make(chan domain.RawMessage, cfg.BufferSize),
		dropCh:   make(chan struct{}, 1),
		out:      out,
	}
}

// DroppedSignal exposes a channel that receives a value (best-effort, never
// blocks) each time the session's buffer overflowed and the oldest buffered
// message was discarded. Observability wiring drains this into a counter.
func (s *Session) DroppedSignal() <-chan struct{} {
	return s.dropCh
}

// Run connects and reads until ctx is cancelled or Close is called. It never
// returns an error for a transient connection failure — it reconnects with
// exponential backoff instead, matching the teacher's readLoop/reconnect
// split. It returns nil on clean shutdown.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forward(ctx)
	}()
	defer wg.Wait()

	delay := s.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.source.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("source connect failed, backing off")
			if !s.sleep(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay, s.cfg.MaxReconnectDelay)
			continue
		}

		delay = s.cfg.ReconnectDelay
		readErr := s.readLoop(ctx)
		s.source.Close()

		if ctx.Err() != nil {
			return nil
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			s.log.WithError(readErr).Warn("source read failed, reconnecting")
		}
		if !s.sleep(ctx, delay) {
			return nil
		}
		delay = nextDelay(delay, s.cfg.MaxReconnectDelay)
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.source.ReadMessage(ctx)
		if err != nil {
			return err
		}
		s.admit(msg)
	}
}

// admit pushes msg onto the bounded buffer, dropping the oldest buffered
// message (not msg itself) when full — a slow-burst source loses its
// stalest backlog first, matching spec §4.1's drop-oldest-on-overflow rule.
func (s *Session) admit(msg domain.RawMessage) {
	observability.RecordIngested(s.sourceID)
	for {
		select {
		case s.buf <- msg:
			return
		default:
		}

		select {
		case <-s.buf:
			observability.RecordCategory(observability.CategoryTransientInput)
			select {
			case s.dropCh <- struct{}{}:
			default:
			}
		default:
		}
	}
}

func (s *Session) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.buf:
			if !ok {
				return
			}
			select {
			case s.out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops the session's underlying connection. Run's loop observes the
// context cancellation separately; Close is for releasing the transport
// promptly during shutdown rather than waiting on a read timeout.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.source.Close()
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
