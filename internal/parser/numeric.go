package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// shorthandSuffixMultiplier converts a trailing K/M/B shorthand letter to
// its numeric multiplier.
var shorthandSuffixMultiplier = map[byte]float64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

// numberWithShorthand matches "1,234.5K"-style numbers: digits, optional
// commas/decimal point, optional K/M/B suffix.
var numberWithShorthand = regexp.MustCompile(`([0-9][0-9,]*(?:\.[0-9]+)?)\s*([KMB])?`)

// parseShorthandNumber parses a numeric literal with optional comma
// grouping and K/M/B suffix into a float64.
func parseShorthandNumber(s string) (float64, bool) {
	m := numberWithShorthand.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	digits := strings.ReplaceAll(m[1], ",", "")
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	if m[2] != "" {
		v *= shorthandSuffixMultiplier[m[2][0]]
	}
	return v, true
}

// marketCapPatterns is the priority cascade for market-cap extraction.
var marketCapPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Current MC:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`(?i)MCap:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`(?i)Market Cap:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`(?i)MC:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`\(\$([0-9][0-9,.]*\s*[KMB]?)\)`),
	regexp.MustCompile(`💰\s*MC:\s*\$\s*([0-9][0-9,.]*\s*[KMB]?)`),
}

// ExtractMarketCapUSD runs the market-cap priority cascade from spec §4.2.
func ExtractMarketCapUSD(text string) (float64, bool) {
	for _, re := range marketCapPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := parseShorthandNumber(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

var liquidityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Liquidity:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`(?i)Liq:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
	regexp.MustCompile(`(?i)LP:\s*\$?([0-9][0-9,.]*\s*[KMB]?)`),
}

// ExtractLiquidityUSD parses liquidity by patterns analogous to market cap.
func ExtractLiquidityUSD(text string) (float64, bool) {
	for _, re := range liquidityPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := parseShorthandNumber(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

var buySOLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Swapped\s+([0-9][0-9,.]*)\s*SOL`),
	regexp.MustCompile(`(?i)Buy(?:\s*Size)?:\s*([0-9][0-9,.]*)\s*SOL`),
	regexp.MustCompile(`([0-9][0-9,.]*)\s*SOL\s+buy`),
}

// ExtractBuySOL parses the SOL-denominated buy size by patterns analogous
// to market cap.
func ExtractBuySOL(text string) (float64, bool) {
	for _, re := range buySOLPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := parseShorthandNumber(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

var holdersPattern = regexp.MustCompile(`(?i)Holders:\s*([0-9][0-9,]*)`)
var callersSubsPattern = regexp.MustCompile(`(?i)Callers:\s*([0-9][0-9,]*)\s*\|\s*Subs:\s*([0-9][0-9,]*)`)

// ExtractHolders parses a labelled holder count.
func ExtractHolders(text string) (int, bool) {
	m := holdersPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractCallersSubs parses the "Callers: N | Subs: N" labelled form.
func ExtractCallersSubs(text string) (callers, subs int, ok bool) {
	m := callersSubsPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	c, err1 := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	s, err2 := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return c, s, true
}
