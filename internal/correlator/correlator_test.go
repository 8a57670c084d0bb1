package correlator

import (
	"context"
	"testing"
	"time"

	"gemwatch/internal/domain"
	"gemwatch/internal/outcomes"
)

type fakeHistory struct {
	at          map[string]time.Time
	callersSubs map[string][2]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{at: make(map[string]time.Time), callersSubs: make(map[string][2]int)}
}

func (f *fakeHistory) set(symbol string, at time.Time) { f.at[symbol] = at }

func (f *fakeHistory) LastAlertedAt(_ context.Context, symbol string) (time.Time, bool, error) {
	at, ok := f.at[symbol]
	return at, ok, nil
}

func (f *fakeHistory) UpdateCallersSubs(_ context.Context, symbol string, _ *domain.Tier, callers, subs int) error {
	f.callersSubs[symbol] = [2]int{callers, subs}
	return nil
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

// baseTier1State builds a state that satisfies every Tier-1 gate: cohort
// started, hotlist sighted within HotlistCohortWindow of cohort start, a
// strong confirmation tag, MC inside the Tier-1 band, liquidity healthy.
func baseTier1State() *domain.TokenState {
	now := time.Now()
	t0 := now.Add(-5 * time.Minute)
	tags := domain.NewTagSet()
	tags.Add(domain.TagMomentumSpike)
	tags.Add(domain.TagCohortStart)
	tags.Add(domain.TagTop5Hotlist)
	return &domain.TokenState{
		ContractAddress: "ContractAAA",
		Symbol:          "AAA",
		FirstSeenAt:     t0,
		LastUpdatedAt:   now,
		CohortStartAt:   t0,
		HotlistObservedAt: t0.Add(2 * time.Minute),
		TagsUnion:       tags,
		LatestMarketCapUSD: f64(60_000),
		LatestLiquidityUSD: f64(20_000),
		SourceKinds: map[domain.SourceKind]bool{
			domain.SourceKindBuyFeed: true,
		},
		Events: []domain.ParsedEvent{
			{SourceKind: domain.SourceKindBuyFeed, ObservedAt: now, BuySOL: f64(1)},
		},
	}
}

func TestEvaluate_Tier1HotlistWindowConfirmationAndMCRange(t *testing.T) {
	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), baseTier1State())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a Tier1 candidate")
	}
	if cand.Tier != domain.Tier1 {
		t.Errorf("Tier = %v, want Tier1", cand.Tier)
	}
}

func TestEvaluate_NoCohortStartYieldsNoCandidate(t *testing.T) {
	st := baseTier1State()
	st.CohortStartAt = time.Time{}
	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand != nil {
		t.Errorf("Evaluate() = %+v, want nil (no cohort start)", cand)
	}
}

func TestEvaluate_LateHotlistYieldsTier3WithTagAndReason(t *testing.T) {
	st := baseTier1State()
	st.TagsUnion = domain.NewTagSet()
	st.TagsUnion.Add(domain.TagCohortStart)
	st.HotlistObservedAt = st.CohortStartAt.Add(45 * time.Minute)

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a Tier3 late-hotlist candidate")
	}
	if cand.Tier != domain.Tier3 {
		t.Errorf("Tier = %v, want Tier3", cand.Tier)
	}
	if !cand.State.TagsUnion.Has(domain.TagLateHotlist) {
		t.Error("candidate state missing late_hotlist tag")
	}
	found := false
	for _, r := range cand.Reasons {
		if r == "tier3_late_hotlist" {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons = %v, want tier3_late_hotlist", cand.Reasons)
	}
}

func TestEvaluate_LowLiquidityDemotesTier(t *testing.T) {
	st := baseTier1State()
	st.LatestLiquidityUSD = f64(4_000) // below LowLiquidityPenaltyUSD

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a demoted candidate")
	}
	if cand.Tier != domain.Tier2 {
		t.Errorf("Tier = %v, want Tier2 after low_liquidity_penalty demotion from Tier1", cand.Tier)
	}
}

func TestEvaluate_IneligibleBelowMinLiquidityYieldsNoCandidate(t *testing.T) {
	st := baseTier1State()
	st.LatestLiquidityUSD = f64(1_000) // below MinLiquidityUSD gate

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand != nil {
		t.Errorf("Evaluate() = %+v, want nil (below MinLiquidityUSD)", cand)
	}
}

func TestEvaluate_IneligibleAboveMaxMarketCapYieldsNoCandidate(t *testing.T) {
	st := baseTier1State()
	st.LatestMarketCapUSD = f64(2_000_000)

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand != nil {
		t.Errorf("Evaluate() = %+v, want nil (above MaxMarketCapUSD)", cand)
	}
}

func TestEvaluate_NoBuyKindSourceYieldsNoCandidate(t *testing.T) {
	st := baseTier1State()
	st.SourceKinds = map[domain.SourceKind]bool{domain.SourceKindSocialFeed: true}

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand != nil {
		t.Errorf("Evaluate() = %+v, want nil (social-only exclusion gate)", cand)
	}
}

func TestEvaluate_ChurnPenaltyDemotesWhenPriorAlertMissedFourX(t *testing.T) {
	st := baseTier1State()
	history := newFakeHistory()
	lastAlert := st.LastUpdatedAt.Add(-2 * time.Hour)
	history.set(st.Symbol, lastAlert)

	store := outcomes.NewMemoryStore()
	store.RecordPoint(context.Background(), domain.OutcomePoint{
		Symbol: st.Symbol, ObservedAt: lastAlert.Add(time.Hour), PeakMultiple: 1.5,
	})

	c := New(store, history, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a demoted candidate")
	}
	if cand.Tier != domain.Tier2 {
		t.Errorf("Tier = %v, want Tier2 after churn_penalty demotion from Tier1", cand.Tier)
	}
}

func TestEvaluate_ChurnPenaltyDoesNotApplyWhenFourXReached(t *testing.T) {
	st := baseTier1State()
	history := newFakeHistory()
	lastAlert := st.LastUpdatedAt.Add(-2 * time.Hour)
	history.set(st.Symbol, lastAlert)

	store := outcomes.NewMemoryStore()
	store.RecordPoint(context.Background(), domain.OutcomePoint{
		Symbol: st.Symbol, ObservedAt: lastAlert.Add(time.Hour), PeakMultiple: 5.0,
	})

	c := New(store, history, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a Tier1 candidate")
	}
	if cand.Tier != domain.Tier1 {
		t.Errorf("Tier = %v, want Tier1 (no churn penalty, 4x already reached)", cand.Tier)
	}
}

func TestEvaluate_ChurnPenaltyIgnoresAlertOutsideLookback(t *testing.T) {
	st := baseTier1State()
	history := newFakeHistory()
	history.set(st.Symbol, st.LastUpdatedAt.Add(-72*time.Hour)) // outside 48h lookback

	store := outcomes.NewMemoryStore()
	c := New(store, history, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil || cand.Tier != domain.Tier1 {
		t.Errorf("got %+v, want Tier1 (prior alert outside 48h lookback)", cand)
	}
}

func TestEvaluate_BuySizeBoostPromotesTier3ToTier2(t *testing.T) {
	now := time.Now()
	t0 := now.Add(-5 * time.Minute)
	tags := domain.NewTagSet()
	tags.Add(domain.TagMomentumSpike)
	tags.Add(domain.TagLargeBuy)
	tags.Add(domain.TagCohortStart)
	st := &domain.TokenState{
		ContractAddress:    "ContractBBB",
		Symbol:             "BBB",
		FirstSeenAt:        t0,
		LastUpdatedAt:      now,
		CohortStartAt:      t0,
		TagsUnion:          tags,
		LatestMarketCapUSD: f64(500_000), // outside tier1/tier2 bands -> tier3 path
		LatestLiquidityUSD: f64(20_000),
		SourceKinds:        map[domain.SourceKind]bool{domain.SourceKindBuyFeed: true},
		Events: []domain.ParsedEvent{
			{SourceKind: domain.SourceKindBuyFeed, ObservedAt: now, BuySOL: f64(25)},
		},
	}

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a boosted Tier2 candidate")
	}
	if cand.Tier != domain.Tier2 {
		t.Errorf("Tier = %v, want Tier2 after buy_size_boost promotion from Tier3", cand.Tier)
	}
}

func TestEvaluate_MarketCapBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		mc       float64
		wantTier domain.Tier
	}{
		{"at tier1 lower bound", 40_000, domain.Tier1},
		{"just below tier1 lower bound falls into tier2 band", 39_999, domain.Tier2},
		{"at tier1 upper bound (default threshold)", 100_000, domain.Tier1},
		{"just above tier1 upper bound falls to tier2 band", 100_001, domain.Tier2},
		{"at tier2 upper bound", 120_000, domain.Tier2},
		{"above tier2 upper bound with single confirmation yields no candidate", 500_000, domain.TierNone},
		{"just above max market cap ceiling is ineligible", 1_000_001, domain.TierNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := baseTier1State()
			st.LatestMarketCapUSD = f64(tc.mc)
			c := New(nil, nil, nil)
			cand, err := c.Evaluate(context.Background(), st)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			got := domain.TierNone
			if cand != nil {
				got = cand.Tier
			}
			if got != tc.wantTier {
				t.Errorf("mc=%v: Tier = %v, want %v", tc.mc, got, tc.wantTier)
			}
		})
	}
}

func TestEvaluate_HotlistCohortWindowBoundary(t *testing.T) {
	cases := []struct {
		name     string
		gap      time.Duration
		wantTier domain.Tier
	}{
		{"exactly at window edge counts as in-window", HotlistCohortWindow, domain.Tier1},
		{"one second past window edge is late", HotlistCohortWindow + time.Second, domain.Tier3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := baseTier1State()
			st.HotlistObservedAt = st.CohortStartAt.Add(tc.gap)
			c := New(nil, nil, nil)
			cand, err := c.Evaluate(context.Background(), st)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if cand == nil {
				t.Fatal("Evaluate() = nil, want a candidate")
			}
			if cand.Tier != tc.wantTier {
				t.Errorf("gap=%v: Tier = %v, want %v", tc.gap, cand.Tier, tc.wantTier)
			}
		})
	}
}

func TestObserveTrendingEcho_TrendingFeedWithCallersSubsUpdatesHistory(t *testing.T) {
	history := newFakeHistory()
	history.set("FOO", time.Now())
	c := New(nil, history, nil)

	evt := &domain.ParsedEvent{
		SourceKind: domain.SourceKindTrendingFeed,
		Symbol:     "foo",
		Callers:    intp(12),
		Subs:       intp(3_400),
	}
	c.ObserveTrendingEcho(context.Background(), evt)

	got, ok := history.callersSubs["foo"]
	if !ok {
		t.Fatal("UpdateCallersSubs was not called")
	}
	if got != [2]int{12, 3_400} {
		t.Errorf("callersSubs = %v, want [12 3400]", got)
	}
}

func TestObserveTrendingEcho_NonTrendingSourceIsNoOp(t *testing.T) {
	history := newFakeHistory()
	c := New(nil, history, nil)

	evt := &domain.ParsedEvent{
		SourceKind: domain.SourceKindBuyFeed,
		Symbol:     "FOO",
		Callers:    intp(12),
		Subs:       intp(3_400),
	}
	c.ObserveTrendingEcho(context.Background(), evt)

	if len(history.callersSubs) != 0 {
		t.Errorf("callersSubs = %v, want no call for a non-trending-feed source", history.callersSubs)
	}
}

func TestObserveTrendingEcho_MissingCallersOrSubsIsNoOp(t *testing.T) {
	history := newFakeHistory()
	c := New(nil, history, nil)

	evt := &domain.ParsedEvent{SourceKind: domain.SourceKindTrendingFeed, Symbol: "FOO"}
	c.ObserveTrendingEcho(context.Background(), evt)

	if len(history.callersSubs) != 0 {
		t.Errorf("callersSubs = %v, want no call when callers/subs are absent", history.callersSubs)
	}
}

func TestThresholdTracker_HysteresisBand(t *testing.T) {
	tr := NewThresholdTracker()
	if tr.Current() != DefaultDynamicThresholds() {
		t.Fatal("tracker should start in the default regime")
	}

	tr.Recompute(11)
	if tr.Current() != TightenedDynamicThresholds() {
		t.Error("expected tightened regime above 10 alerts/24h")
	}

	tr.Recompute(9) // inside [8,10] band, holds current (tightened) regime
	if tr.Current() != TightenedDynamicThresholds() {
		t.Error("expected hysteresis band to hold the tightened regime at count=9")
	}

	tr.Recompute(7)
	if tr.Current() != DefaultDynamicThresholds() {
		t.Error("expected restored default regime below 8 alerts/24h")
	}

	tr.Recompute(9) // band again, now holds the default regime
	if tr.Current() != DefaultDynamicThresholds() {
		t.Error("expected hysteresis band to hold the default regime at count=9")
	}
}

func TestEvaluate_TightenedThresholdsWidenTier1MCUpperBound(t *testing.T) {
	tr := NewThresholdTracker()
	tr.Recompute(11) // tighten: Tier1MCUpperUSD 100k -> 110k

	st := baseTier1State()
	st.LatestMarketCapUSD = f64(105_000) // would miss default upper bound, fits tightened one

	c := New(nil, nil, tr)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil || cand.Tier != domain.Tier1 {
		t.Errorf("got %+v, want Tier1 under tightened thresholds", cand)
	}
}

func TestEvaluate_SocialStrengthReasonAppearsWhenThresholdsMet(t *testing.T) {
	st := baseTier1State()
	st.LatestCallers = intp(25)
	st.LatestSubs = intp(150_000)

	c := New(nil, nil, nil)
	cand, err := c.Evaluate(context.Background(), st)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if cand == nil {
		t.Fatal("Evaluate() = nil, want a Tier1 candidate")
	}
	found := false
	for _, r := range cand.Reasons {
		if r == "tier1_social_strength" {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons = %v, want tier1_social_strength", cand.Reasons)
	}
}
