package domain

// AlertCandidate is the ephemeral output of the correlator: a token state
// snapshot plus the tier decision and the reasons that produced it.
type AlertCandidate struct {
	State            TokenState
	Tier             Tier
	Reasons          []string // rule ids that fired, e.g. "tier1_hotlist_window"
	DescriptionTheme string   // "hotlist" | "momentum" | "smart_money" | "early_trending"
}
