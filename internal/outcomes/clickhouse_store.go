package outcomes

import (
	"context"
	"fmt"
	"time"

	"gemwatch/internal/domain"
)

// ClickHouseStore implements Store against a ClickHouse outcome_points
// table (symbol, contract, observed_at, market_cap_usd, peak_multiple),
// following the bulk-insert/range-query shape of the teacher's
// price_timeseries_store.go.
type ClickHouseStore struct {
	conn *Conn
}

// NewClickHouseStore creates a ClickHouseStore over conn.
func NewClickHouseStore(conn *Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

var _ Store = (*ClickHouseStore)(nil)

const createOutcomePointsTable = `
CREATE TABLE IF NOT EXISTS outcome_points (
	symbol String,
	contract String,
	observed_at DateTime64(3),
	market_cap_usd Float64,
	peak_multiple Float64
) ENGINE = MergeTree()
ORDER BY (symbol, observed_at)
`

// EnsureSchema creates the outcome_points table if it does not exist.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, createOutcomePointsTable)
}

func (s *ClickHouseStore) RecordPoint(ctx context.Context, p domain.OutcomePoint) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO outcome_points (symbol, contract, observed_at, market_cap_usd, peak_multiple)
	`)
	if err != nil {
		return fmt.Errorf("outcomes: prepare batch: %w", err)
	}

	if err := batch.Append(p.Symbol, p.Contract, p.ObservedAt, p.MarketCapUSD, p.PeakMultiple); err != nil {
		return fmt.Errorf("outcomes: append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("outcomes: send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) PeakMultipleSince(ctx context.Context, symbol string, since time.Time) (float64, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT max(peak_multiple), count(*)
		FROM outcome_points
		WHERE symbol = ? AND observed_at >= ?
	`, symbol, since)

	var peak float64
	var n uint64
	if err := row.Scan(&peak, &n); err != nil {
		return 0, fmt.Errorf("outcomes: scan peak multiple: %w", err)
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return peak, nil
}
