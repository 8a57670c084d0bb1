package domain

// Subscriber is one entry in the external subscriber registry the fan-out
// adapter reads from. The core never writes to this registry except to
// remove a permanently-unreachable entry.
type Subscriber struct {
	ID          string
	TierFilter  []Tier // subset of {Tier1, Tier2, Tier3}
	Kind        string // "user" | "group"
	Destination string // adapter-specific delivery address, e.g. a chat id
}

// AcceptsTier reports whether tier passes this subscriber's filter. An
// empty TierFilter accepts every tier.
func (s Subscriber) AcceptsTier(tier Tier) bool {
	if len(s.TierFilter) == 0 {
		return true
	}
	for _, t := range s.TierFilter {
		if t == tier {
			return true
		}
	}
	return false
}
