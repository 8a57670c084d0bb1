package domain

import "strconv"

// Tier is the confidence classification assigned to an AlertCandidate.
// Lower numbers rank higher: Tier 1 outranks Tier 2 outranks Tier 3.
type Tier int

const (
	TierNone Tier = 0
	Tier1    Tier = 1
	Tier2    Tier = 2
	Tier3    Tier = 3
)

// Stronger reports whether t outranks other (lower tier number wins).
// TierNone never outranks anything.
func (t Tier) Stronger(other Tier) bool {
	if t == TierNone {
		return false
	}
	if other == TierNone {
		return true
	}
	return t < other
}

// Level returns the redundant HIGH/MEDIUM classification carried on
// AlertRecord: HIGH iff tier is Tier1, MEDIUM otherwise.
func (t Tier) Level() string {
	if t == Tier1 {
		return "HIGH"
	}
	return "MEDIUM"
}

// Demote returns the next weaker tier, or TierNone if already weakest.
func (t Tier) Demote() Tier {
	switch t {
	case Tier1:
		return Tier2
	case Tier2:
		return Tier3
	default:
		return TierNone
	}
}

// Promote returns the next stronger tier, floored at Tier1.
func (t Tier) Promote() Tier {
	switch t {
	case Tier3:
		return Tier2
	case Tier2:
		return Tier1
	default:
		return t
	}
}

// String renders the tier as a label suitable for log fields and metric
// values ("tier_1", "tier_2", "tier_3", "none").
func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return "tier_" + strconv.Itoa(int(t))
}

// Max returns the stronger of two tiers, per the {1 > 2 > 3} ranking.
func Max(a, b Tier) Tier {
	if a.Stronger(b) {
		return a
	}
	return b
}
