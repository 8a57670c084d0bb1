package eventlog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	l, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return l
}

func sampleRecord(contract string, ts time.Time, tier domain.Tier) domain.AlertRecord {
	return domain.AlertRecord{
		Token:     "FOO",
		Tier:      tier,
		Level:     tier.Level(),
		Timestamp: ts,
		Contract:  contract,
	}
}

func TestLog_AppendAssignsDeterministicID(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	rec, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	want := "Contract_2026-03-05"
	if rec.ID != want {
		t.Errorf("ID = %q, want %q", rec.ID, want)
	}
}

func TestLog_AppendSuffixesOnSameDayCollision(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	first, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts.Add(time.Minute), domain.Tier2))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if second.ID != first.ID+"_v2" {
		t.Errorf("second.ID = %q, want %q", second.ID, first.ID+"_v2")
	}

	third, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts.Add(2*time.Minute), domain.Tier3))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if third.ID != first.ID+"_v3" {
		t.Errorf("third.ID = %q, want %q", third.ID, first.ID+"_v3")
	}
}

func TestLog_AppendDoesNotCollideAcrossDifferentDays(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	first, _ := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	second, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts.Add(24*time.Hour), domain.Tier1))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected different ids across different UTC dates")
	}
	if second.ID != "Contract_2026-03-06" {
		t.Errorf("second.ID = %q, want Contract_2026-03-06", second.ID)
	}
}

func TestLog_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	l1, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	if _, err := l1.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	l2, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() (reopen) error = %v", err)
	}
	snap := l2.Snapshot()
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(snap.Alerts))
	}
	if snap.Alerts[0].Contract != "ContractAAAAAAAA" {
		t.Errorf("Alerts[0].Contract = %q, want ContractAAAAAAAA", snap.Alerts[0].Contract)
	}
}

func TestLog_BackupRotationCreatesBakFile(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	if _, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := l.Append(context.Background(), sampleRecord("ContractBBBBBBBB", ts.Add(time.Hour), domain.Tier1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := os.Stat(backupPath(l.path, 1)); err != nil {
		t.Errorf("expected backup file to exist after second write: %v", err)
	}
}

func TestLog_UpdateCallersSubsMutatesMatchingSymbol(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	if _, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := l.UpdateCallersSubs(context.Background(), "foo", nil, 42, 9001); err != nil {
		t.Fatalf("UpdateCallersSubs() error = %v", err)
	}

	snap := l.Snapshot()
	if snap.Alerts[0].Callers == nil || *snap.Alerts[0].Callers != 42 {
		t.Errorf("Callers = %v, want 42", snap.Alerts[0].Callers)
	}
	if snap.Alerts[0].Subs == nil || *snap.Alerts[0].Subs != 9001 {
		t.Errorf("Subs = %v, want 9001", snap.Alerts[0].Subs)
	}
}

func TestLog_UpdateCallersSubsRespectsTierFilter(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	l.Append(context.Background(), sampleRecord("ContractBBBBBBBB", ts.Add(time.Minute), domain.Tier2))

	tier2 := domain.Tier2
	if err := l.UpdateCallersSubs(context.Background(), "foo", &tier2, 1, 2); err != nil {
		t.Fatalf("UpdateCallersSubs() error = %v", err)
	}

	snap := l.Snapshot()
	if snap.Alerts[0].Callers != nil {
		t.Error("tier1 record should be untouched when filtering by tier2")
	}
	if snap.Alerts[1].Callers == nil || *snap.Alerts[1].Callers != 1 {
		t.Error("tier2 record should have been updated")
	}
}

func TestLog_UpdateCallersSubsNoMatchReturnsErrNotFound(t *testing.T) {
	l := testLog(t)
	if err := l.UpdateCallersSubs(context.Background(), "nope", nil, 1, 2); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLog_LastAlertedAtReturnsMostRecent(t *testing.T) {
	l := testLog(t)
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	l.Append(context.Background(), sampleRecord("ContractBBBBBBBB", ts.Add(time.Hour), domain.Tier2))

	at, ok, err := l.LastAlertedAt(context.Background(), "foo")
	if err != nil {
		t.Fatalf("LastAlertedAt() error = %v", err)
	}
	if !ok {
		t.Fatal("LastAlertedAt() ok = false, want true")
	}
	if !at.Equal(ts.Add(time.Hour)) {
		t.Errorf("at = %v, want %v", at, ts.Add(time.Hour))
	}
}

func TestLog_LastAlertedAtUnknownSymbolReturnsFalse(t *testing.T) {
	l := testLog(t)
	_, ok, err := l.LastAlertedAt(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LastAlertedAt() error = %v", err)
	}
	if ok {
		t.Error("ok = true, want false for unknown symbol")
	}
}

func TestLog_RecoversFromEmergencySidecarOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")

	rec := sampleRecord("ContractAAAAAAAA", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), domain.Tier1)
	rec.ID = "Contract_2026-03-05"
	line, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal sidecar record: %v", err)
	}
	if err := os.WriteFile(path+EmergencySuffix, append(line, '\n'), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	l, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	snap := l.Snapshot()
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1 (recovered from sidecar)", len(snap.Alerts))
	}
	if snap.Alerts[0].ID != "Contract_2026-03-05" {
		t.Errorf("Alerts[0].ID = %q, want Contract_2026-03-05", snap.Alerts[0].ID)
	}
	if _, err := os.Stat(path + EmergencySuffix); !os.IsNotExist(err) {
		t.Error("expected emergency sidecar to be removed after recovery")
	}
}

func TestLog_RecoveryDedupesAgainstExistingIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	l, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ts := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	existing, err := l.Append(context.Background(), sampleRecord("ContractAAAAAAAA", ts, domain.Tier1))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Simulate a duplicate emergency sidecar entry for the record already
	// in the main document.
	line, _ := json.Marshal(existing)
	if err := os.WriteFile(path+EmergencySuffix, append(line, '\n'), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	l2, err := Open(path, nil, logger)
	if err != nil {
		t.Fatalf("Open() (reopen) error = %v", err)
	}
	snap := l2.Snapshot()
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1 (duplicate sidecar entry deduped)", len(snap.Alerts))
	}
}
