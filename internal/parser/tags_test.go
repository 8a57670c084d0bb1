package parser

import (
	"testing"

	"gemwatch/internal/domain"
)

func TestAssignTags_MomentumSpike(t *testing.T) {
	tags := AssignTags(domain.SourceKindBuyFeed, "FOO is up +150% in 90s", 0, false, false)
	if !tags.Has(domain.TagMomentumSpike) {
		t.Errorf("expected momentum_spike tag, got %v", tags.Ordered())
	}
}

func TestAssignTags_BuySizeThresholds(t *testing.T) {
	cases := []struct {
		buySOL float64
		want   domain.SignalTag
	}{
		{3.0, ""},
		{6.0, domain.TagLargeBuy},
		{25.0, domain.TagWhaleBuy},
	}
	for _, c := range cases {
		tags := AssignTags(domain.SourceKindBuyFeed, "plain text", c.buySOL, true, false)
		if c.want == "" {
			if tags.Has(domain.TagLargeBuy) || tags.Has(domain.TagWhaleBuy) {
				t.Errorf("buySOL=%v: unexpected buy tag in %v", c.buySOL, tags.Ordered())
			}
			continue
		}
		if !tags.Has(c.want) {
			t.Errorf("buySOL=%v: expected %v, got %v", c.buySOL, c.want, tags.Ordered())
		}
	}
}

func TestAssignTags_EarlyTrendingBaseline(t *testing.T) {
	tags := AssignTags(domain.SourceKindTrendingFeed, "just a trending mention", 0, false, false)
	if !tags.Has(domain.TagEarlyTrending) {
		t.Errorf("expected early_trending baseline tag, got %v", tags.Ordered())
	}
}

func TestAssignTags_CohortStartOnMomentumConfirmation(t *testing.T) {
	tags := AssignTags(domain.SourceKindMomentumFeed, "FOO confirmed 3x", 0, false, false)
	if !tags.Has(domain.TagCohortStart) {
		t.Errorf("expected cohort_start tag, got %v", tags.Ordered())
	}
}

func TestAssignTags_NoCohortStartOutsideMomentumFeed(t *testing.T) {
	tags := AssignTags(domain.SourceKindBuyFeed, "FOO confirmed 3x", 0, false, false)
	if tags.Has(domain.TagCohortStart) {
		t.Errorf("did not expect cohort_start tag outside momentum_feed, got %v", tags.Ordered())
	}
}
