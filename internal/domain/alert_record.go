package domain

import (
	"encoding/json"
	"time"
)

// AlertRecord is the durable, append-only record written to the event log.
// JSON field names are lowerCamelCase per the persisted wire format; Go
// field names follow normal Go convention and differ from the wire names.
type AlertRecord struct {
	ID                string    `json:"id"`
	Token             string    `json:"token"`
	Tier              Tier      `json:"tier"`
	Level             string    `json:"level"`
	Timestamp         time.Time `json:"timestamp"`
	Contract          string    `json:"contract"`
	EntryMarketCapUSD *float64  `json:"entryMc"`
	Hotlist           string    `json:"hotlist"` // "Yes" | "No"
	Description       string    `json:"description"`
	MatchedSignals    []string  `json:"matchedSignals"`
	Tags              []string  `json:"tags"`
	LiquidityUSD      *float64  `json:"liquidity,omitempty"`
	Callers           *int      `json:"callers,omitempty"`
	Subs              *int      `json:"subs,omitempty"`
	ConfirmationCount int       `json:"confirmationCount"`
	CohortTime        string    `json:"cohortTime"`
}

// alertRecordWire mirrors AlertRecord but with the timestamp fields typed
// as strings, so MarshalJSON/UnmarshalJSON can apply the wire layout.
type alertRecordWire struct {
	ID                string   `json:"id"`
	Token             string   `json:"token"`
	Tier              Tier     `json:"tier"`
	Level             string   `json:"level"`
	Timestamp         string   `json:"timestamp"`
	Contract          string   `json:"contract"`
	EntryMarketCapUSD *float64 `json:"entryMc"`
	Hotlist           string   `json:"hotlist"`
	Description       string   `json:"description"`
	MatchedSignals    []string `json:"matchedSignals"`
	Tags              []string `json:"tags"`
	LiquidityUSD      *float64 `json:"liquidity,omitempty"`
	Callers           *int     `json:"callers,omitempty"`
	Subs              *int     `json:"subs,omitempty"`
	ConfirmationCount int      `json:"confirmationCount"`
	CohortTime        string   `json:"cohortTime"`
}

// MarshalJSON renders Timestamp using the persisted wire layout instead of
// Go's default RFC3339 "Z" shorthand.
func (r AlertRecord) MarshalJSON() ([]byte, error) {
	w := alertRecordWire{
		ID:                r.ID,
		Token:             r.Token,
		Tier:              r.Tier,
		Level:             r.Level,
		Timestamp:         FormatWireTimestamp(r.Timestamp),
		Contract:          r.Contract,
		EntryMarketCapUSD: r.EntryMarketCapUSD,
		Hotlist:           r.Hotlist,
		Description:       r.Description,
		MatchedSignals:    r.MatchedSignals,
		Tags:              r.Tags,
		LiquidityUSD:      r.LiquidityUSD,
		Callers:           r.Callers,
		Subs:              r.Subs,
		ConfirmationCount: r.ConfirmationCount,
		CohortTime:        r.CohortTime,
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses Timestamp using the persisted wire layout.
func (r *AlertRecord) UnmarshalJSON(data []byte) error {
	var w alertRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ParseWireTimestamp(w.Timestamp)
	if err != nil {
		return err
	}
	*r = AlertRecord{
		ID:                w.ID,
		Token:             w.Token,
		Tier:              w.Tier,
		Level:             w.Level,
		Timestamp:         ts,
		Contract:          w.Contract,
		EntryMarketCapUSD: w.EntryMarketCapUSD,
		Hotlist:           w.Hotlist,
		Description:       w.Description,
		MatchedSignals:    w.MatchedSignals,
		Tags:              w.Tags,
		LiquidityUSD:      w.LiquidityUSD,
		Callers:           w.Callers,
		Subs:              w.Subs,
		ConfirmationCount: w.ConfirmationCount,
		CohortTime:        w.CohortTime,
	}
	return nil
}

// EventLog is the durable document persisted to disk: an ordered list of
// alerts plus the wall-clock time of the last successful write.
type EventLog struct {
	Alerts      []AlertRecord `json:"alerts"`
	LastUpdated time.Time     `json:"last_updated"`
}

// MarshalJSON renders LastUpdated using the persisted wire layout.
func (l EventLog) MarshalJSON() ([]byte, error) {
	type wire struct {
		Alerts      []AlertRecord `json:"alerts"`
		LastUpdated string        `json:"last_updated"`
	}
	return json.Marshal(wire{Alerts: l.Alerts, LastUpdated: FormatWireTimestamp(l.LastUpdated)})
}

// UnmarshalJSON parses LastUpdated using the persisted wire layout.
func (l *EventLog) UnmarshalJSON(data []byte) error {
	type wire struct {
		Alerts      []AlertRecord `json:"alerts"`
		LastUpdated string        `json:"last_updated"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ParseWireTimestamp(w.LastUpdated)
	if err != nil {
		return err
	}
	l.Alerts = w.Alerts
	l.LastUpdated = ts
	return nil
}
