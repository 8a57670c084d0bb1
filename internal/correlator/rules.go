package correlator

import (
	"time"

	"gemwatch/internal/domain"
)

const (
	// MinLiquidityUSD is eligibility gate 2: a contract with known
	// liquidity below this never evaluates, regardless of tier.
	MinLiquidityUSD = 10_000
	// MaxMarketCapUSD is eligibility gate 3, the global MC ceiling.
	MaxMarketCapUSD = 1_000_000

	// LowLiquidityPenaltyUSD demotes a tier by one when liquidity is known
	// and falls below this.
	LowLiquidityPenaltyUSD = 5_000

	// HotlistCohortWindow is the ±window around cohort start within which
	// a hotlist sighting counts toward Tier 1/2 rather than being "late".
	HotlistCohortWindow = 20 * time.Minute

	tier1MCLower = 40_000
	tier2MCLower = 30_000
	tier2MCUpper = 120_000

	// BuySizeBoostTopSOL and BuySizeBoostLastSOL gate the buy_size_boost
	// scoring rule.
	BuySizeBoostTopSOL  = 20.0
	BuySizeBoostLastSOL = 5.0
)

// hotlistWindowState describes how (and whether) a tracked top5_hotlist
// sighting relates to cohort start.
type hotlistWindowState struct {
	present    bool
	inWindow   bool
	late       bool
	observedAt time.Time
}

func evaluateHotlistWindow(state *domain.TokenState) hotlistWindowState {
	if state.HotlistObservedAt.IsZero() {
		return hotlistWindowState{}
	}
	diff := state.HotlistObservedAt.Sub(state.CohortStartAt)
	if diff < 0 {
		diff = -diff
	}
	inWindow := diff <= HotlistCohortWindow
	return hotlistWindowState{
		present:    true,
		inWindow:   inWindow,
		late:       !inWindow,
		observedAt: state.HotlistObservedAt,
	}
}

// baseTier evaluates the Tier 1 -> 2 -> 3 cascade (first satisfied rule
// wins) against state and the currently-active dynamic thresholds. Returns
// TierNone with no reasons if no rule is satisfied.
func baseTier(state *domain.TokenState, th DynamicThresholds) (domain.Tier, []string) {
	hotlist := evaluateHotlistWindow(state)
	strongCount := state.TagsUnion.CountStrongConfirmations()
	mc := state.LatestMarketCapUSD

	// Tier 1: the "contract present OR social strength" clause in the
	// underlying rule is vacuous once eligibility gate 1 has already run —
	// the contract is always present by the time baseTier is reached — so
	// the social-strength branch never needs to be independently true. It
	// is still computed so a Tier-1 record's reasons can cite it when it
	// happens to hold.
	if hotlist.present && hotlist.inWindow && strongCount > 0 && mc != nil && *mc >= tier1MCLower && *mc <= th.Tier1MCUpperUSD {
		reasons := []string{"tier1_hotlist_window", "tier1_strong_confirmation", "tier1_mc_range"}
		if socialStrength(state, th) {
			reasons = append(reasons, "tier1_social_strength")
		}
		return domain.Tier1, reasons
	}

	// Tier 2
	if hotlist.present && hotlist.inWindow && strongCount > 0 && mc != nil && *mc >= tier2MCLower && *mc <= tier2MCUpper {
		return domain.Tier2, []string{"tier2_hotlist_window", "tier2_confirmation", "tier2_mc_range"}
	}

	// Tier 3
	nonHotlistConfirmations := strongCount
	if nonHotlistConfirmations >= 2 {
		return domain.Tier3, []string{"tier3_multi_confirmation"}
	}
	if hotlist.late {
		return domain.Tier3, []string{"tier3_late_hotlist"}
	}

	return domain.TierNone, nil
}

func socialStrength(state *domain.TokenState, th DynamicThresholds) bool {
	return state.LatestCallers != nil && state.LatestSubs != nil &&
		*state.LatestCallers >= th.Tier1SocialCallers && *state.LatestSubs >= th.Tier1SocialSubsMin
}

// eligible implements the correlator's entry gates 2-4 from spec §4.4; gate
// 1 (real address, not a hotlist sentinel) is structural — tokenstate never
// creates a TokenState for a sentinel — so it is not re-checked here.
func eligible(state *domain.TokenState) bool {
	if state.LatestLiquidityUSD != nil && *state.LatestLiquidityUSD < MinLiquidityUSD {
		return false
	}
	if state.LatestMarketCapUSD != nil && *state.LatestMarketCapUSD > MaxMarketCapUSD {
		return false
	}
	if !state.HasBuyKindSource() {
		return false
	}
	return true
}

// buySizeBoostApplies reports whether the top or most recent buy-kind
// event's SOL size clears the buy_size_boost thresholds.
func buySizeBoostApplies(state *domain.TokenState) bool {
	var top float64
	var lastBuySOL float64
	haveLast := false

	for _, e := range state.Events {
		if !e.SourceKind.IsBuyKind() || e.BuySOL == nil {
			continue
		}
		if *e.BuySOL > top {
			top = *e.BuySOL
		}
		lastBuySOL = *e.BuySOL
		haveLast = true
	}

	if top >= BuySizeBoostTopSOL {
		return true
	}
	return haveLast && lastBuySOL >= BuySizeBoostLastSOL
}

// descriptionTheme picks the deterministic theme from tag priority:
// hotlist > momentum > smart_money > early_trending.
func descriptionTheme(state *domain.TokenState) string {
	hasHotlist := state.TagsUnion.Has(domain.TagTop5Hotlist)
	hasMomentum := state.TagsUnion.Has(domain.TagMomentumSpike)
	hasWhaleOrLarge := state.TagsUnion.Has(domain.TagWhaleBuy) || state.TagsUnion.Has(domain.TagLargeBuy)

	switch {
	case hasHotlist:
		return "hotlist"
	case hasMomentum:
		return "momentum"
	case hasWhaleOrLarge:
		return "smart_money"
	default:
		return "early_trending"
	}
}
