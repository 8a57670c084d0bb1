package outcomes

import (
	"context"
	"time"

	"gemwatch/internal/domain"
)

// Store records post-alert price-performance samples and answers the
// correlator's churn_penalty question: did this symbol's most recent alert
// reach a 4x peak within the lookback window. Two implementations exist —
// ClickHouse-backed for production, an in-memory one for tests — the same
// split the teacher keeps between its clickhouse and memory store packages.
type Store interface {
	// RecordPoint appends a price sample. Points are expected roughly
	// chronological per symbol but callers must not assume strict
	// ordering across concurrent writers.
	RecordPoint(ctx context.Context, p domain.OutcomePoint) error

	// PeakMultipleSince returns the highest PeakMultiple recorded for
	// symbol at or after since. Returns ErrNoData if no points exist for
	// symbol at or after since (as opposed to points existing but none
	// above 1x).
	PeakMultipleSince(ctx context.Context, symbol string, since time.Time) (float64, error)
}

// ReachedFourX is a convenience predicate over PeakMultipleSince's result
// for the correlator's churn_penalty gate.
func ReachedFourX(peakMultiple float64) bool {
	return peakMultiple >= 4.0
}
