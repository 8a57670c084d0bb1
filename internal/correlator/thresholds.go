package correlator

import "sync/atomic"

// DynamicThresholds holds the Tier-1 bounds that the periodic dynamic-
// thresholding job (spec §4.4/§5) tightens or restores based on recent
// Tier-1 alert volume, read by the correlator on every evaluation.
type DynamicThresholds struct {
	Tier1MCUpperUSD    float64 `yaml:"tier1_mc_upper_usd"`
	Tier1SocialCallers int     `yaml:"tier1_social_callers"`
	Tier1SocialSubsMin int     `yaml:"tier1_social_subs_min"`
}

// DefaultDynamicThresholds are the baseline Tier-1 bounds.
func DefaultDynamicThresholds() DynamicThresholds {
	return DynamicThresholds{
		Tier1MCUpperUSD:    100_000,
		Tier1SocialCallers: 20,
		Tier1SocialSubsMin: 100_000,
	}
}

// TightenedDynamicThresholds widens the Tier-1 admission bar: MC upper
// bound +$10k, social threshold +25%.
func TightenedDynamicThresholds() DynamicThresholds {
	base := DefaultDynamicThresholds()
	return DynamicThresholds{
		Tier1MCUpperUSD:    base.Tier1MCUpperUSD + 10_000,
		Tier1SocialCallers: int(float64(base.Tier1SocialCallers) * 1.25),
		Tier1SocialSubsMin: int(float64(base.Tier1SocialSubsMin) * 1.25),
	}
}

// ThresholdTracker is a lock-free, single-writer/many-reader holder for the
// current DynamicThresholds regime: the dynamic-threshold job (internal/jobs)
// is the sole writer, the correlator's hot evaluation path the many readers.
type ThresholdTracker struct {
	v atomic.Value // DynamicThresholds
}

// NewThresholdTracker starts in the default (untightened) regime.
func NewThresholdTracker() *ThresholdTracker {
	return NewThresholdTrackerFrom(DefaultDynamicThresholds())
}

// NewThresholdTrackerFrom starts in the given regime, used at startup to
// seed the tracker from the configured baseline before the periodic
// recompute job ever runs.
func NewThresholdTrackerFrom(initial DynamicThresholds) *ThresholdTracker {
	t := &ThresholdTracker{}
	t.v.Store(initial)
	return t
}

// Current returns the regime currently in effect.
func (t *ThresholdTracker) Current() DynamicThresholds {
	return t.v.Load().(DynamicThresholds)
}

// Recompute applies the spec's hysteresis rule from the count of Tier-1
// alerts fired in the last 24h: tighten above 10, restore below 8, hold
// the current regime in the [8,10] band to avoid flapping.
func (t *ThresholdTracker) Recompute(tier1AlertsLast24h int) {
	switch {
	case tier1AlertsLast24h > 10:
		t.v.Store(TightenedDynamicThresholds())
	case tier1AlertsLast24h < 8:
		t.v.Store(DefaultDynamicThresholds())
	}
}
