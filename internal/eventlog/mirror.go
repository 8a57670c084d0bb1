package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
)

const (
	pgErrUniqueViolation = "23505"

	// CoalesceWindow and CoalesceMax implement spec §4.6.1's "≤3 appends
	// within 2s become one mirror cycle" burst coalescing.
	CoalesceWindow = 2 * time.Second
	CoalesceMax    = 3

	mirrorQueueSize = 256

	mirrorBaseBackoff = 200 * time.Millisecond
	mirrorMaxBackoff  = 5 * time.Second
	mirrorMaxAttempts = 5
)

const createMirrorTableSQL = `
CREATE TABLE IF NOT EXISTS alert_mirror (
	id          TEXT PRIMARY KEY,
	payload     JSONB NOT NULL,
	pushed_at   TIMESTAMPTZ NOT NULL
)`

// RemoteMirror is the best-effort, content-addressed Postgres backing store
// for the durable event log (spec §4.6.1 and §9's "content-addressed
// version control, object store, or other" abstract capability, resolved
// here to Postgres). It never blocks the local write path: Push enqueues
// onto a buffered channel and a dedicated task drains it, coalescing
// bursts and retrying with backoff. Mirror failure only increments a
// counter — pushBatchWithRetry reports it to internal/observability
// itself, and it is never returned to the emitter.
type RemoteMirror struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger

	queue chan domain.AlertRecord

	Failures int64 // records whose cycle exhausted retries; written only by pushBatchWithRetry on the Run goroutine
}

// NewRemoteMirror connects to dsn and ensures the mirror table exists.
func NewRemoteMirror(ctx context.Context, dsn string, log logrus.FieldLogger) (*RemoteMirror, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mirror dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect mirror: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping mirror: %w", err)
	}
	if _, err := pool.Exec(ctx, createMirrorTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure mirror schema: %w", err)
	}
	return &RemoteMirror{pool: pool, log: log, queue: make(chan domain.AlertRecord, mirrorQueueSize)}, nil
}

// Close releases the connection pool.
func (m *RemoteMirror) Close() {
	m.pool.Close()
}

// Push enqueues rec for mirroring. Non-blocking: a full queue drops the
// push and logs a warning rather than stalling the caller (the emitter's
// linearizer task must never block on the mirror).
func (m *RemoteMirror) Push(rec domain.AlertRecord) {
	select {
	case m.queue <- rec:
	default:
		m.log.WithField("id", rec.ID).Warn("eventlog: mirror queue full, dropping push")
		observability.RecordMirrorQueueDropped()
	}
}

// Run drains the queue until ctx is cancelled, coalescing up to
// CoalesceMax pushes received within CoalesceWindow into a single mirror
// cycle (one batched insert) and retrying each cycle with backoff.
func (m *RemoteMirror) Run(ctx context.Context) {
	for {
		first, ok := m.nextOrDone(ctx)
		if !ok {
			return
		}
		batch := []domain.AlertRecord{first}
		deadline := time.After(CoalesceWindow)
	coalesce:
		for len(batch) < CoalesceMax {
			select {
			case rec := <-m.queue:
				batch = append(batch, rec)
			case <-deadline:
				break coalesce
			case <-ctx.Done():
				break coalesce
			}
		}
		m.pushBatchWithRetry(ctx, batch)
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *RemoteMirror) nextOrDone(ctx context.Context) (domain.AlertRecord, bool) {
	select {
	case rec := <-m.queue:
		return rec, true
	case <-ctx.Done():
		return domain.AlertRecord{}, false
	}
}

func (m *RemoteMirror) pushBatchWithRetry(ctx context.Context, batch []domain.AlertRecord) {
	started := time.Now()
	backoff := mirrorBaseBackoff
	for attempt := 1; attempt <= mirrorMaxAttempts; attempt++ {
		if err := m.insertBatch(ctx, batch); err != nil {
			m.log.WithError(err).WithField("attempt", attempt).Warn("eventlog: mirror push failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > mirrorMaxBackoff {
				backoff = mirrorMaxBackoff
			}
			continue
		}
		observability.RecordMirrorPush(time.Since(started).Seconds(), nil)
		return
	}
	m.Failures += int64(len(batch))
	observability.RecordMirrorPush(time.Since(started).Seconds(), fmt.Errorf("mirror push exhausted %d attempts", mirrorMaxAttempts))
}

func (m *RemoteMirror) insertBatch(ctx context.Context, batch []domain.AlertRecord) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range batch {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal mirror record %s: %w", rec.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO alert_mirror (id, payload, pushed_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, payload, time.Now().UTC(),
		)
		if err != nil && !isDuplicateKeyError(err) {
			return fmt.Errorf("insert mirror record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// ReconcileOnStart implements spec §4.6.1's startup reconciliation: any
// record present in the mirror but absent locally (by id) is pulled down
// and returned so the caller can merge it into the local log.
func (m *RemoteMirror) ReconcileOnStart(ctx context.Context, localIDs map[string]bool) ([]domain.AlertRecord, error) {
	rows, err := m.pool.Query(ctx, `SELECT id, payload FROM alert_mirror`)
	if err != nil {
		return nil, fmt.Errorf("query mirror for reconciliation: %w", err)
	}
	defer rows.Close()

	var missing []domain.AlertRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan mirror row: %w", err)
		}
		if localIDs[id] {
			continue
		}
		var rec domain.AlertRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			m.log.WithError(err).WithField("id", id).Warn("eventlog: skipping malformed mirror record")
			continue
		}
		missing = append(missing, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirror rows: %w", err)
	}
	return missing, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
