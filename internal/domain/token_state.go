package domain

import "time"

// TokenState is an immutable snapshot of a contract's rolling aggregate,
// handed from the token state store to the correlator. The store owns the
// mutable ring buffer this is derived from; callers never mutate it.
type TokenState struct {
	ContractAddress string
	Symbol          string
	FirstSeenAt     time.Time
	LastUpdatedAt   time.Time
	Events          []ParsedEvent // bounded to W_state, oldest first
	SourcesSeen     map[string]bool
	SourceKinds     map[SourceKind]bool
	TagsUnion       *TagSet
	AlertedTier     Tier // TierNone if never alerted
	AlertedAt       time.Time

	// Derived metrics.
	TotalBuySOL          float64
	DistinctBuySources   int
	FirstToSecondBuyGap  time.Duration
	TimeSpread           time.Duration

	// CohortStartAt is the time of the first momentum-tracker 2x/3x
	// confirmation event for this contract. Zero if no cohort has started.
	CohortStartAt time.Time

	// HotlistObservedAt is the observed_at of the hotlist sentinel event
	// that caused TagTop5Hotlist to be merged onto this state, zero if
	// never merged. The correlator compares this against CohortStartAt to
	// tell a within-window hotlist sighting from a "late" one.
	HotlistObservedAt time.Time

	// LatestMarketCapUSD is the most recent non-nil parsed market cap seen,
	// used as the stale_mc fallback during enrichment.
	LatestMarketCapUSD *float64
	LatestLiquidityUSD *float64
	LatestCallers      *int
	LatestSubs         *int
}

// HasCohortStarted reports whether a momentum cohort has begun for this
// contract.
func (s *TokenState) HasCohortStarted() bool {
	return !s.CohortStartAt.IsZero()
}

// HasBuyKindSource reports whether any tracked source is buy-kind, used by
// the correlator's social-only exclusion gate.
func (s *TokenState) HasBuyKindSource() bool {
	for k := range s.SourceKinds {
		if k.IsBuyKind() {
			return true
		}
	}
	return false
}
