package parser

import (
	"errors"
	"testing"
	"time"

	"gemwatch/internal/domain"
)

func TestRegistryParse_BuyFeedWithAddress(t *testing.T) {
	r := NewRegistry()
	r.RegisterSource("pepeboost_buys", SourceConfig{Kind: domain.SourceKindBuyFeed})

	msg := domain.RawMessage{
		SourceID:   "pepeboost_buys",
		ReceivedAt: time.Now(),
		Text:       "Swapped 25 SOL on raydium for 900000 #FOO\nCA: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU\nMC: $750K\nLiquidity: $25K",
	}

	evt, err := r.Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if evt.ContractAddress != "7XKXTG2CW87D97TXJSDPBD5JBKHETQA83TZRUJOSGASU" {
		t.Errorf("ContractAddress = %q", evt.ContractAddress)
	}
	if evt.Symbol != "FOO" {
		t.Errorf("Symbol = %q", evt.Symbol)
	}
	if evt.MarketCapUSD == nil || *evt.MarketCapUSD != 750_000 {
		t.Errorf("MarketCapUSD = %v", evt.MarketCapUSD)
	}
	if evt.LiquidityUSD == nil || *evt.LiquidityUSD != 25_000 {
		t.Errorf("LiquidityUSD = %v", evt.LiquidityUSD)
	}
	if evt.BuySOL == nil || *evt.BuySOL != 25 {
		t.Errorf("BuySOL = %v", evt.BuySOL)
	}
	if !evt.Tags.Has(domain.TagWhaleBuy) {
		t.Errorf("expected whale_buy tag for a 25 SOL buy, got %v", evt.Tags.Ordered())
	}
}

func TestRegistryParse_HotlistSentinelFallback(t *testing.T) {
	r := NewRegistry()
	r.RegisterSource("gmgn_hotlist", SourceConfig{Kind: domain.SourceKindHotlistFeed})

	msg := domain.RawMessage{
		SourceID:   "gmgn_hotlist",
		ReceivedAt: time.Now(),
		Text:       "Top trending now:\n1. $FOO\n2. $BAR\n3. $BAZ",
	}

	evt, err := r.Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !evt.IsHotlistSentinel() {
		t.Fatalf("expected hotlist sentinel, got ContractAddress = %q", evt.ContractAddress)
	}
	if evt.HotlistSymbol() != "FOO" {
		t.Errorf("HotlistSymbol() = %q", evt.HotlistSymbol())
	}
	if !evt.Tags.Has(domain.TagTop5Hotlist) {
		t.Errorf("expected top5_hotlist tag for rank-1 entry, got %v", evt.Tags.Ordered())
	}
}

func TestRegistryParse_HotlistBelowTop5NotTagged(t *testing.T) {
	r := NewRegistry()
	r.RegisterSource("gmgn_hotlist", SourceConfig{Kind: domain.SourceKindHotlistFeed})

	msg := domain.RawMessage{
		SourceID:   "gmgn_hotlist",
		ReceivedAt: time.Now(),
		Text:       "Top trending now:\n6. $QUX",
	}

	evt, err := r.Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if evt.Tags.Has(domain.TagTop5Hotlist) {
		t.Errorf("did not expect top5_hotlist tag for rank-6 entry")
	}
}

func TestRegistryParse_NoMatchReturnsErrNoMatch(t *testing.T) {
	r := NewRegistry()
	r.RegisterSource("chat_room", SourceConfig{Kind: domain.SourceKindSocialFeed})

	msg := domain.RawMessage{
		SourceID:   "chat_room",
		ReceivedAt: time.Now(),
		Text:       "gm everyone, how's it going today",
	}

	_, err := r.Parse(msg)
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("Parse() error = %v, want ErrNoMatch", err)
	}
}

func TestRegistryParse_UnknownSourceDefaultsToBuyFeed(t *testing.T) {
	r := NewRegistry()

	msg := domain.RawMessage{
		SourceID:   "unregistered_source",
		ReceivedAt: time.Now(),
		Text:       "CA: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	}

	evt, err := r.Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if evt.SourceKind != domain.SourceKindBuyFeed {
		t.Errorf("SourceKind = %q, want buy_feed default", evt.SourceKind)
	}
}

func TestRegistryParse_ExtraExtractorRuns(t *testing.T) {
	r := NewRegistry()
	r.RegisterSource("custom_feed", SourceConfig{
		Kind: domain.SourceKindBuyFeed,
		Extra: []Extractor{
			func(msg domain.RawMessage, frag *domain.ParsedEvent) {
				if frag.Symbol == "" {
					frag.Symbol = "UNKNOWN"
				}
			},
		},
	})

	msg := domain.RawMessage{
		SourceID:   "custom_feed",
		ReceivedAt: time.Now(),
		Text:       "CA: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	}

	evt, err := r.Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if evt.Symbol != "UNKNOWN" {
		t.Errorf("Symbol = %q, want UNKNOWN from extra extractor", evt.Symbol)
	}
}
