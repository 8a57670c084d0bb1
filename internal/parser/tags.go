package parser

import (
	"regexp"

	"gemwatch/internal/domain"
)

const (
	largeBuyThresholdSOL = 5.0
	whaleBuyThresholdSOL = 20.0
)

var spikePattern = regexp.MustCompile(`(?i)\+?[0-9]+(?:\.[0-9]+)?%\s*(?:in|within)\s*[0-9]+\s*(?:s|sec|seconds|m|min|minutes)`)

// cohortConfirmPattern matches the momentum-tracker's 2x/3x confirmation
// callout, the canonical cohort-start trigger from spec §4.4.
var cohortConfirmPattern = regexp.MustCompile(`(?i)\b(?:confirmed?\s*)?[23]x\b(?:\s*confirm(?:ed|ation)?)?`)

// baselineTags returns the tags every event from a source kind carries,
// before text-content promotion.
func baselineTags(kind domain.SourceKind) []domain.SignalTag {
	switch kind {
	case domain.SourceKindTrendingFeed:
		return []domain.SignalTag{domain.TagEarlyTrending}
	default:
		return nil
	}
}

// AssignTags builds the tag set for a parsed message: baseline tags from
// source kind, promoted by text content, per spec §4.2.
func AssignTags(kind domain.SourceKind, text string, buySOL float64, hasBuySOL bool, isTop5Hotlist bool) *domain.TagSet {
	tags := domain.NewTagSet()
	for _, t := range baselineTags(kind) {
		tags.Add(t)
	}

	if spikePattern.MatchString(text) {
		tags.Add(domain.TagMomentumSpike)
	}
	if hasBuySOL {
		if buySOL >= whaleBuyThresholdSOL {
			tags.Add(domain.TagWhaleBuy)
		} else if buySOL >= largeBuyThresholdSOL {
			tags.Add(domain.TagLargeBuy)
		}
	}
	if isTop5Hotlist {
		tags.Add(domain.TagTop5Hotlist)
	}
	if kind == domain.SourceKindMomentumFeed && cohortConfirmPattern.MatchString(text) {
		tags.Add(domain.TagCohortStart)
	}

	return tags
}
