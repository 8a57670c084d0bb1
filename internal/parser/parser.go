package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gemwatch/internal/domain"
)

// ErrNoMatch is returned when a message yielded no usable contract
// address — the structured counterpart of the "null" result in spec §4.2.
// Callers increment a per-source parse-miss counter and drop the message.
var ErrNoMatch = errors.New("parser: no usable data extracted")

// Extractor is a pure function that fills in fields of a ParsedEvent
// fragment it can determine from msg, without overwriting fields a prior
// extractor in the chain already set. This is the "table of ordered
// extractor functions merged left-to-right" design note from spec §9.
type Extractor func(msg domain.RawMessage, frag *domain.ParsedEvent)

// SourceConfig binds a source_id to its kind and any source-specific
// extractors beyond the generic cascade every source gets.
type SourceConfig struct {
	Kind  domain.SourceKind
	Extra []Extractor
}

// Registry maps source_id -> SourceConfig, mirroring the teacher's
// program-ID-keyed DEXParser registry but keyed by chat source instead of
// on-chain program.
type Registry struct {
	sources map[string]SourceConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SourceConfig)}
}

// RegisterSource adds or replaces the configuration for a source_id.
func (r *Registry) RegisterSource(sourceID string, cfg SourceConfig) {
	r.sources[sourceID] = cfg
}

// Parse implements the per-message parse cascade from spec §4.2. It is
// pure: depends only on msg, exercises only msg's fields.
func (r *Registry) Parse(msg domain.RawMessage) (*domain.ParsedEvent, error) {
	cfg, known := r.sources[msg.SourceID]
	if !known {
		cfg = SourceConfig{Kind: domain.SourceKindBuyFeed}
	}

	entityURLs := make([]string, 0, len(msg.Entities))
	for _, e := range msg.Entities {
		entityURLs = append(entityURLs, e.URL, e.AnchorText)
	}

	address := ExtractAddress(msg.Text, entityURLs)
	symbol := ExtractSymbol(msg.Text)

	isHotlistSource := cfg.Kind == domain.SourceKindHotlistFeed
	rank := 0
	if isHotlistSource && symbol != "" {
		rank = hotlistRank(msg.Text, symbol)
	}

	if address == "" {
		if isHotlistSource && symbol != "" {
			address = domain.HotlistSentinel(symbol)
		} else {
			return nil, ErrNoMatch
		}
	}

	if symbol == "" && !isHotlistSource {
		// A contract without any symbol is still usable; downstream
		// consumers tolerate an empty symbol, matching real feeds that
		// sometimes omit a ticker on a bare contract drop.
	}

	frag := &domain.ParsedEvent{
		SourceID:        msg.SourceID,
		SourceKind:      cfg.Kind,
		ObservedAt:      msg.ReceivedAt,
		SourceWallClock: msg.SourceWallClock,
		ContractAddress: address,
		Symbol:          symbol,
	}

	if mc, ok := ExtractMarketCapUSD(msg.Text); ok {
		frag.MarketCapUSD = &mc
	}
	if liq, ok := ExtractLiquidityUSD(msg.Text); ok {
		frag.LiquidityUSD = &liq
	}
	buySOL, hasBuySOL := ExtractBuySOL(msg.Text)
	if hasBuySOL {
		frag.BuySOL = &buySOL
	}
	if h, ok := ExtractHolders(msg.Text); ok {
		frag.Holders = &h
	}
	if c, s, ok := ExtractCallersSubs(msg.Text); ok {
		frag.Callers = &c
		frag.Subs = &s
	}

	for _, extra := range cfg.Extra {
		extra(msg, frag)
	}

	frag.Tags = AssignTags(cfg.Kind, msg.Text, buySOL, hasBuySOL, isHotlistSource && rank > 0 && rank <= 5)

	return frag, nil
}

var hotlistLinePattern = regexp.MustCompile(`(?m)^\s*([0-9]+)[.)]\s*\$?#?([A-Za-z0-9]+)`)

// hotlistRank scans a numbered hotlist listing for symbol and returns its
// 1-indexed rank, or 0 if not present in the listing.
func hotlistRank(text, symbol string) int {
	symbol = strings.ToUpper(symbol)
	for _, m := range hotlistLinePattern.FindAllStringSubmatch(text, -1) {
		if strings.ToUpper(m[2]) == symbol {
			rank, err := strconv.Atoi(m[1])
			if err == nil {
				return rank
			}
		}
	}
	return 0
}

// IngestLatencyBudget is the default bound from spec §8 invariant 6:
// events whose wall-clock age at admission exceeds this are dropped.
const IngestLatencyBudget = 5 * time.Second
