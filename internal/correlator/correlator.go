package correlator

import (
	"context"
	"time"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
	"gemwatch/internal/outcomes"
)

// ChurnLookback is the prior-alert lookback window for the churn_penalty
// scoring rule.
const ChurnLookback = 48 * time.Hour

// AlertHistory answers whether a symbol already carries a recent alert, the
// fact the churn_penalty rule needs. The durable event log is the
// production implementation (internal/eventlog); tests use a fake.
type AlertHistory interface {
	// LastAlertedAt returns the most recent alert timestamp for symbol and
	// true, or false if symbol has never been alerted.
	LastAlertedAt(ctx context.Context, symbol string) (time.Time, bool, error)

	// UpdateCallersSubs mutates the callers/subs of every alert record
	// matching symbol (and tier, if non-nil), per spec §4.6.2's XTRACK
	// echo enrichment.
	UpdateCallersSubs(ctx context.Context, symbol string, tier *domain.Tier, callers, subs int) error
}

// Correlator evaluates a token state snapshot into at most one
// AlertCandidate, applying the eligibility gates, Tier 1->2->3 cascade, and
// scoring penalties/boosts from spec §4.4. It holds no mutable token-state
// of its own — tokenstate.Store owns that — so a Correlator is safe to call
// from the single linearizer task the emitter pipeline expects.
type Correlator struct {
	outcomes   outcomes.Store
	history    AlertHistory
	thresholds *ThresholdTracker
}

// New builds a Correlator. outcomesStore and history may be nil to disable
// churn_penalty entirely. (The offline recovery tool instead passes an
// empty MemoryStore and an empty history, so the penalty never fires.)
func New(outcomesStore outcomes.Store, history AlertHistory, thresholds *ThresholdTracker) *Correlator {
	if thresholds == nil {
		thresholds = NewThresholdTracker()
	}
	return &Correlator{outcomes: outcomesStore, history: history, thresholds: thresholds}
}

// Evaluate runs the full correlation pipeline against state. A nil
// AlertCandidate with a nil error means no tier was satisfied — not an
// error condition, just "no alert this time".
func (c *Correlator) Evaluate(ctx context.Context, state *domain.TokenState) (*domain.AlertCandidate, error) {
	started := time.Now()
	defer func() { observability.RecordCorrelatorEval(time.Since(started).Seconds()) }()

	if !eligible(state) {
		observability.RecordEligibilityRejected()
		return nil, nil
	}
	if !state.HasCohortStarted() {
		observability.RecordEligibilityRejected()
		return nil, nil
	}

	tier, reasons := baseTier(state, c.thresholds.Current())
	if tier == domain.TierNone {
		observability.RecordEligibilityRejected()
		return nil, nil
	}

	if state.LatestLiquidityUSD != nil && *state.LatestLiquidityUSD < LowLiquidityPenaltyUSD {
		tier = tier.Demote()
		reasons = append(reasons, "low_liquidity_penalty")
	}

	if tier != domain.TierNone {
		demoted, err := c.churnPenalty(ctx, state)
		if err != nil {
			return nil, err
		}
		if demoted {
			tier = tier.Demote()
			reasons = append(reasons, "churn_penalty")
		}
	}

	if tier == domain.Tier3 && buySizeBoostApplies(state) {
		tier = domain.Tier2
		reasons = append(reasons, "buy_size_boost")
	}

	if tier == domain.TierNone {
		return nil, nil
	}

	finalState := *state
	hotlist := evaluateHotlistWindow(state)
	if hotlist.late {
		tags := state.TagsUnion.Clone()
		tags.Add(domain.TagLateHotlist)
		finalState.TagsUnion = tags
	}

	return &domain.AlertCandidate{
		State:            finalState,
		Tier:             tier,
		Reasons:          reasons,
		DescriptionTheme: descriptionTheme(state),
	}, nil
}

// ObserveTrendingEcho implements spec §4.6.2's XTRACK echo enrichment: when
// a trending-tracker source echoes a symbol with fresh callers/subs counts,
// those counts are pushed onto every alert record already on file for it,
// regardless of tier. It is best-effort — a symbol never alerted, or a
// history write failure, is swallowed rather than propagated, matching how
// the emitter already treats mark_alerted failures after a successful
// append.
func (c *Correlator) ObserveTrendingEcho(ctx context.Context, evt *domain.ParsedEvent) {
	if c.history == nil || evt.SourceKind != domain.SourceKindTrendingFeed {
		return
	}
	if evt.Symbol == "" || evt.Callers == nil || evt.Subs == nil {
		return
	}
	_ = c.history.UpdateCallersSubs(ctx, evt.Symbol, nil, *evt.Callers, *evt.Subs)
}

// churnPenalty reports whether state's symbol was alerted within
// ChurnLookback without reaching a 4x peak, per spec §4.4. Absence of any
// prior alert, or absence of outcome data for it, means no penalty — the
// penalty only fires when there IS a disappointing prior outcome on record.
func (c *Correlator) churnPenalty(ctx context.Context, state *domain.TokenState) (bool, error) {
	if c.history == nil || c.outcomes == nil {
		return false, nil
	}

	lastAlertedAt, ok, err := c.history.LastAlertedAt(ctx, state.Symbol)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if time.Since(lastAlertedAt) > ChurnLookback {
		return false, nil
	}

	peak, err := c.outcomes.PeakMultipleSince(ctx, state.Symbol, lastAlertedAt)
	if err != nil {
		if err == outcomes.ErrNoData {
			return false, nil
		}
		return false, err
	}
	return !outcomes.ReachedFourX(peak), nil
}
