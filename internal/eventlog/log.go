package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
)

const (
	maxBackups       = 5
	maxWriteAttempts = 5
	baseBackoff      = 50 * time.Millisecond
	maxBackoff       = 800 * time.Millisecond
	maxBackupEveryN  = 32
)

// EmergencySuffix names the sidecar JSON-lines file a record falls back to
// when every retried write to the main document fails.
const EmergencySuffix = ".emergency"

// Log is the single-writer, append-only durable event log described by
// spec §4.6: one JSON document holding every AlertRecord, written by
// temp-file-then-atomic-rename, with a rotating backup history and an
// emergency JSON-lines sidecar for when the primary write path is down.
// Only the correlator/emitter's single linearizer task is expected to call
// Append/UpdateCallersSubs; the mutex exists so Snapshot can be called
// concurrently from the read API.
type Log struct {
	mu   sync.Mutex
	path string
	log  logrus.FieldLogger

	doc domain.EventLog

	mirror *RemoteMirror

	writeCount    uint64
	backupEveryN  int
	lastWriteOK   bool
}

// Open loads path if it exists (an empty document otherwise), merges any
// pending emergency sidecar entries into it (the startup recovery pass
// spec §4.6 requires), and returns a ready Log. mirror may be nil to
// disable remote mirroring entirely.
func Open(path string, mirror *RemoteMirror, log logrus.FieldLogger) (*Log, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Log{path: path, mirror: mirror, log: log, backupEveryN: 1, lastWriteOK: true}

	doc, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	l.doc = doc

	recovered, err := l.recoverEmergencySidecar()
	if err != nil {
		return nil, fmt.Errorf("eventlog: recover emergency sidecar: %w", err)
	}
	if recovered > 0 {
		l.log.WithField("count", recovered).Warn("eventlog: recovered records from emergency sidecar")
		if err := l.persistLocked(); err != nil {
			return nil, fmt.Errorf("eventlog: persist after sidecar recovery: %w", err)
		}
	}
	return l, nil
}

func readDocument(path string) (domain.EventLog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return domain.EventLog{Alerts: []domain.AlertRecord{}}, nil
	}
	if err != nil {
		return domain.EventLog{}, err
	}
	var doc domain.EventLog
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.EventLog{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Append assigns rec a deterministic id (contract[0:8]_UTCDATE, suffixed
// _v2, _v3... on collision within the day), appends it to the document,
// persists it, and fires the new record at the remote mirror. The returned
// AlertRecord carries the assigned id.
func (l *Log) Append(ctx context.Context, rec domain.AlertRecord) (domain.AlertRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.ID = l.assignID(rec)
	l.doc.Alerts = append(l.doc.Alerts, rec)
	l.doc.LastUpdated = rec.Timestamp

	if err := l.persistLocked(); err != nil {
		l.log.WithError(err).Error("eventlog: primary write path exhausted retries, falling back to emergency sidecar")
		if sidecarErr := l.appendEmergencySidecar(rec); sidecarErr != nil {
			return rec, fmt.Errorf("eventlog: emergency sidecar append failed after primary write failure (%v): %w", err, sidecarErr)
		}
		observability.RecordEmergencySidecar()
	}

	if l.mirror != nil {
		l.mirror.Push(rec)
	}
	return rec, nil
}

// assignID computes the deterministic id and resolves same-day collisions
// by appending _v2, _v3, ... It must be called with l.mu held.
func (l *Log) assignID(rec domain.AlertRecord) string {
	prefix := shortContract(rec.Contract) + "_" + rec.Timestamp.UTC().Format("2006-01-02")
	if !l.idExists(prefix) {
		return prefix
	}
	for v := 2; v < 1000; v++ {
		candidate := prefix + "_v" + strconv.Itoa(v)
		if !l.idExists(candidate) {
			return candidate
		}
	}
	return prefix + "_v" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func (l *Log) idExists(id string) bool {
	for _, a := range l.doc.Alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func shortContract(contract string) string {
	if len(contract) >= 8 {
		return contract[:8]
	}
	return contract
}

// persistLocked writes the in-memory document to disk with the temp-file,
// fsync, atomic-rename discipline, retrying up to maxWriteAttempts times
// with exponential backoff. Rotates a backup of the prior file contents
// first, but only every backupEveryN writes — backupEveryN grows
// exponentially after a failed write and resets to 1 after a clean one, so
// a disk under sustained write pressure takes backups less often rather
// than piling up more I/O on top of the trouble. Must be called with l.mu
// held.
func (l *Log) persistLocked() error {
	started := time.Now()
	data, err := json.Marshal(l.doc)
	if err != nil {
		return fmt.Errorf("marshal event log: %w", err)
	}

	l.writeCount++
	if l.writeCount%uint64(l.backupEveryN) == 0 {
		l.rotateBackups()
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err := atomicWrite(l.path, data); err != nil {
			lastErr = err
			l.log.WithError(err).WithField("attempt", attempt).Warn("eventlog: write attempt failed")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		l.onWriteSuccess()
		observability.RecordDurableWrite(time.Since(started).Seconds(), attempt > 1)
		return nil
	}
	l.onWriteFailure()
	observability.RecordDurableWrite(time.Since(started).Seconds(), true)
	return fmt.Errorf("eventlog: exhausted %d write attempts: %w", maxWriteAttempts, lastErr)
}

func (l *Log) onWriteSuccess() {
	l.lastWriteOK = true
	l.backupEveryN = 1
}

func (l *Log) onWriteFailure() {
	l.lastWriteOK = false
	l.backupEveryN *= 2
	if l.backupEveryN > maxBackupEveryN {
		l.backupEveryN = maxBackupEveryN
	}
}

// atomicWrite writes data to a sibling temp file, fsyncs it, then renames
// it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// rotateBackups shifts path.bak.N -> path.bak.N+1 for N = maxBackups-1..1,
// dropping the oldest, then copies the current file to path.bak.1. A
// missing current file (first write ever) is a no-op.
func (l *Log) rotateBackups() {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return
	}
	for n := maxBackups - 1; n >= 1; n-- {
		src := backupPath(l.path, n)
		dst := backupPath(l.path, n+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.log.WithError(err).Warn("eventlog: backup rotation read failed")
		return
	}
	if err := os.WriteFile(backupPath(l.path, 1), data, 0o644); err != nil {
		l.log.WithError(err).Warn("eventlog: backup rotation write failed")
	}
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.bak.%d", path, n)
}

func (l *Log) emergencyPath() string {
	return l.path + EmergencySuffix
}

// appendEmergencySidecar appends rec as one JSON line to the emergency
// sidecar file, the last-resort path when persistLocked's retries are
// exhausted.
func (l *Log) appendEmergencySidecar(rec domain.AlertRecord) error {
	f, err := os.OpenFile(l.emergencyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open emergency sidecar: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal emergency record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write emergency record: %w", err)
	}
	return f.Sync()
}

// recoverEmergencySidecar merges any records left in the sidecar file into
// the in-memory document (dedup by id) and removes the sidecar on success.
// Must be called before the Log is handed to callers.
func (l *Log) recoverEmergencySidecar() (int, error) {
	data, err := os.ReadFile(l.emergencyPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	recovered := 0
	for _, line := range lines {
		if line == "" {
			continue
		}
		var rec domain.AlertRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			l.log.WithError(err).Warn("eventlog: skipping malformed emergency sidecar line")
			continue
		}
		if l.idExists(rec.ID) {
			continue
		}
		l.doc.Alerts = append(l.doc.Alerts, rec)
		recovered++
	}
	if recovered > 0 {
		sortAlertsByTimestamp(l.doc.Alerts)
	}
	if err := os.Remove(l.emergencyPath()); err != nil && !os.IsNotExist(err) {
		return recovered, fmt.Errorf("remove emergency sidecar: %w", err)
	}
	return recovered, nil
}

func sortAlertsByTimestamp(alerts []domain.AlertRecord) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}

// UpdateCallersSubs is the XTRACK echo enrichment from spec §4.6.2: the
// only permitted in-place mutation of an already-written AlertRecord. It
// rewrites the callers/subs fields of every record matching symbol
// (case-insensitive) and, when tier is non-nil, also matching that tier.
func (l *Log) UpdateCallersSubs(ctx context.Context, symbol string, tier *domain.Tier, callers, subs int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	matched := false
	for i := range l.doc.Alerts {
		a := &l.doc.Alerts[i]
		if strings.ToUpper(a.Token) != symbol {
			continue
		}
		if tier != nil && a.Tier != *tier {
			continue
		}
		c, s := callers, subs
		a.Callers = &c
		a.Subs = &s
		matched = true
	}
	if !matched {
		return ErrNotFound
	}
	return l.persistLocked()
}

// LastAlertedAt implements correlator.AlertHistory: the most recent
// Timestamp across every record for symbol, or false if none exist.
func (l *Log) LastAlertedAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	var latest time.Time
	found := false
	for _, a := range l.doc.Alerts {
		if strings.ToUpper(a.Token) != symbol {
			continue
		}
		if !found || a.Timestamp.After(latest) {
			latest = a.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

// Snapshot returns a copy of the current document with its own Alerts
// slice, so later appends do not show through. The records are shallow
// copies: slice and pointer fields inside each record are shared.
func (l *Log) Snapshot() domain.EventLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := domain.EventLog{
		Alerts:      make([]domain.AlertRecord, len(l.doc.Alerts)),
		LastUpdated: l.doc.LastUpdated,
	}
	copy(out.Alerts, l.doc.Alerts)
	return out
}

// Path reports the backing file path, for the read API's file-mtime
// invalidation check.
func (l *Log) Path() string {
	return l.path
}

// CountTier1Last24h counts Tier-1 records with a timestamp within 24h of
// now, the input the dynamic-threshold recompute job (spec §4.4/§5)
// hystereses on.
func (l *Log) CountTier1Last24h(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-24 * time.Hour)
	count := 0
	for _, a := range l.doc.Alerts {
		if a.Tier == domain.Tier1 && a.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// LocalIDs returns the set of record ids currently held locally, the input
// RemoteMirror.ReconcileOnStart needs to determine which mirrored records
// are missing locally.
func (l *Log) LocalIDs() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]bool, len(l.doc.Alerts))
	for _, a := range l.doc.Alerts {
		out[a.ID] = true
	}
	return out
}

// MergeMissing appends records whose id is not already present, persists
// the result, and returns the count actually merged. Used both at startup
// reconciliation and by the periodic mirror-reconcile job.
func (l *Log) MergeMissing(ctx context.Context, records []domain.AlertRecord) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := 0
	for _, rec := range records {
		if l.idExists(rec.ID) {
			continue
		}
		l.doc.Alerts = append(l.doc.Alerts, rec)
		merged++
	}
	if merged == 0 {
		return 0, nil
	}
	sortAlertsByTimestamp(l.doc.Alerts)
	if l.doc.Alerts[len(l.doc.Alerts)-1].Timestamp.After(l.doc.LastUpdated) {
		l.doc.LastUpdated = l.doc.Alerts[len(l.doc.Alerts)-1].Timestamp
	}
	if err := l.persistLocked(); err != nil {
		return merged, fmt.Errorf("eventlog: persist after merge: %w", err)
	}
	return merged, nil
}
