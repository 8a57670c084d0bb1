package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gemwatch/internal/domain"
)

// WSSourceConfig configures one websocket-backed chat source, mirroring the
// teacher's WSClientConfig shape.
type WSSourceConfig struct {
	Endpoint     string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// DefaultWSSourceConfig fills in the teacher's timing defaults.
func DefaultWSSourceConfig(endpoint string) WSSourceConfig {
	return WSSourceConfig{
		Endpoint:     endpoint,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// wireMessage is the envelope a bridged chat gateway sends over the socket:
// a room-scoped payload carrying the raw text plus any link entities the
// gateway already resolved.
type wireMessage struct {
	ThreadID string          `json:"thread_id"`
	Text     string          `json:"text"`
	Entities []wireEntity    `json:"entities,omitempty"`
	SentAt   json.RawMessage `json:"sent_at,omitempty"`
}

type wireEntity struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchor_text"`
}

// WSSource is a ChatSource backed by a gorilla/websocket connection to a
// chat-bridge gateway, following the teacher's WSClientImpl connect/ping
// split rather than its subscription-confirmation handshake — this source
// has no server-side subscribe step, every frame on the socket is already
// scoped to sourceID.
type WSSource struct {
	sourceID string
	cfg      WSSourceConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	pingDone chan struct{}
	pingWG   sync.WaitGroup
}

// NewWSSource builds a websocket chat source for sourceID.
func NewWSSource(sourceID string, cfg WSSourceConfig) *WSSource {
	return &WSSource{sourceID: sourceID, cfg: cfg}
}

func (w *WSSource) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(dialCtx, w.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("ws source %s: dial: %w", w.sourceID, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.pingDone = make(chan struct{})
	w.mu.Unlock()

	w.pingWG.Add(1)
	go w.pingLoop()

	return nil
}

func (w *WSSource) pingLoop() {
	defer w.pingWG.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	w.mu.Lock()
	done := w.pingDone
	w.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (w *WSSource) ReadMessage(ctx context.Context) (domain.RawMessage, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return domain.RawMessage{}, fmt.Errorf("ws source %s: not connected", w.sourceID)
	}

	conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("ws source %s: read: %w", w.sourceID, err)
	}

	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		return domain.RawMessage{}, fmt.Errorf("ws source %s: decode: %w", w.sourceID, err)
	}

	entities := make([]domain.Entity, 0, len(wm.Entities))
	for _, e := range wm.Entities {
		entities = append(entities, domain.Entity{URL: e.URL, AnchorText: e.AnchorText})
	}

	return domain.RawMessage{
		SourceID:        w.sourceID,
		ReceivedAt:      time.Now().UTC(),
		SourceWallClock: parseSentAt(wm.SentAt),
		Text:            wm.Text,
		Entities:        entities,
		ThreadID:        wm.ThreadID,
	}, nil
}

// parseSentAt decodes a gateway's sent_at field, which travels as either a
// Unix timestamp (seconds, fractional allowed) or an RFC3339 string
// depending on the bridge. An absent or unparseable value yields the zero
// Time, which the ingest latency budget treats as "age unknown, admit it".
func parseSentAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		return time.Unix(0, int64(secs*float64(time.Second))).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (w *WSSource) Close() error {
	w.mu.Lock()
	conn := w.conn
	done := w.pingDone
	w.conn = nil
	w.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	w.pingWG.Wait()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
