package domain

import (
	"strings"
	"time"
)

// HotlistPrefix marks a ParsedEvent whose ContractAddress is a placeholder
// because only a symbol was known at parse time.
const HotlistPrefix = "HOTLIST:"

// ParsedEvent is a message that yielded usable data. Either ContractAddress
// is a valid canonical Solana address, or it is a hotlist sentinel of the
// form "HOTLIST:SYM".
type ParsedEvent struct {
	SourceID        string
	SourceKind      SourceKind
	ObservedAt      time.Time // monotonic-clock anchored
	SourceWallClock time.Time // the source's own reported timestamp, may be zero
	ContractAddress string
	Symbol          string
	MarketCapUSD    *float64
	LiquidityUSD    *float64
	BuySOL          *float64
	Holders         *int
	Callers         *int
	Subs            *int
	Tags            *TagSet
}

// IsHotlistSentinel reports whether ContractAddress is a "HOTLIST:SYM"
// placeholder rather than a real contract.
func (p *ParsedEvent) IsHotlistSentinel() bool {
	return strings.HasPrefix(p.ContractAddress, HotlistPrefix)
}

// HotlistSymbol returns the symbol encoded in a hotlist sentinel address,
// or "" if ContractAddress is not a sentinel.
func (p *ParsedEvent) HotlistSymbol() string {
	if !p.IsHotlistSentinel() {
		return ""
	}
	return strings.TrimPrefix(p.ContractAddress, HotlistPrefix)
}

// HotlistSentinel builds the sentinel contract address for a symbol.
func HotlistSentinel(symbol string) string {
	return HotlistPrefix + strings.ToUpper(symbol)
}
