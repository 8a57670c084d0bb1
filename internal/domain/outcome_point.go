package domain

import "time"

// OutcomePoint is one observation from the outcomes feed: how far a
// symbol's market cap has moved relative to its alert-time entry. Consumed
// by the correlator's churn_penalty rule.
type OutcomePoint struct {
	Symbol       string
	Contract     string
	ObservedAt   time.Time
	MarketCapUSD float64
	PeakMultiple float64 // MarketCapUSD / entry market cap at the time of the referenced alert
}
