package domain

import "testing"

func TestTierStronger(t *testing.T) {
	cases := []struct {
		name  string
		t, o  Tier
		want  bool
	}{
		{"tier1 beats tier2", Tier1, Tier2, true},
		{"tier2 beats tier3", Tier2, Tier3, true},
		{"tier2 does not beat tier1", Tier2, Tier1, false},
		{"equal tiers do not beat each other", Tier2, Tier2, false},
		{"none never beats anything", TierNone, Tier3, false},
		{"anything beats none", Tier3, TierNone, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.t.Stronger(c.o); got != c.want {
				t.Errorf("Stronger(%v, %v) = %v, want %v", c.t, c.o, got, c.want)
			}
		})
	}
}

func TestTierLevel(t *testing.T) {
	if Tier1.Level() != "HIGH" {
		t.Errorf("Tier1.Level() = %q, want HIGH", Tier1.Level())
	}
	if Tier2.Level() != "MEDIUM" {
		t.Errorf("Tier2.Level() = %q, want MEDIUM", Tier2.Level())
	}
	if Tier3.Level() != "MEDIUM" {
		t.Errorf("Tier3.Level() = %q, want MEDIUM", Tier3.Level())
	}
}

func TestTierDemotePromote(t *testing.T) {
	if Tier1.Demote() != Tier2 {
		t.Errorf("Tier1.Demote() = %v, want Tier2", Tier1.Demote())
	}
	if Tier3.Demote() != TierNone {
		t.Errorf("Tier3.Demote() = %v, want TierNone", Tier3.Demote())
	}
	if Tier3.Promote() != Tier2 {
		t.Errorf("Tier3.Promote() = %v, want Tier2", Tier3.Promote())
	}
	if Tier1.Promote() != Tier1 {
		t.Errorf("Tier1.Promote() = %v, want Tier1", Tier1.Promote())
	}
}

func TestMax(t *testing.T) {
	if Max(Tier2, Tier1) != Tier1 {
		t.Errorf("Max(Tier2, Tier1) = %v, want Tier1", Max(Tier2, Tier1))
	}
	if Max(TierNone, Tier3) != Tier3 {
		t.Errorf("Max(TierNone, Tier3) = %v, want Tier3", Max(TierNone, Tier3))
	}
}

func TestTagSetOrderedAndHas(t *testing.T) {
	s := NewTagSet()
	s.Add(TagWhaleBuy)
	s.Add(TagTop5Hotlist)
	s.Add(TagWhaleBuy) // duplicate, ignored

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if !s.Has(TagWhaleBuy) || !s.Has(TagTop5Hotlist) {
		t.Fatalf("expected both tags present")
	}
	ordered := s.Ordered()
	if len(ordered) != 2 || ordered[0] != TagWhaleBuy || ordered[1] != TagTop5Hotlist {
		t.Fatalf("Ordered() = %v, want [whale_buy top5_hotlist]", ordered)
	}
	if s.CountStrongConfirmations() != 1 {
		t.Fatalf("CountStrongConfirmations() = %d, want 1", s.CountStrongConfirmations())
	}
}
