package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// symbolPatterns is the priority cascade from spec §4.2. Order matters:
// first match wins. Each pattern's first capture group is the candidate
// symbol.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`🔥\s*([A-Za-z0-9]+)\s*[\p{L}\s]*New Trending`),
	regexp.MustCompile(`💰\s*([A-Za-z0-9]+)\s*\(\$`),
	regexp.MustCompile(`⚡\s*([A-Za-z0-9]+)\s*\(\$`),
	regexp.MustCompile(`(?i)Swapped\s+[\d.,]+\s*SOL\s+.*?\s+for\s+[\d.,]+\s*#([A-Za-z0-9]+)`),
	regexp.MustCompile(`([A-Za-z0-9]+)\s*did\s*👉`),
	regexp.MustCompile(`⚪\s*[^(]*\(#([A-Za-z0-9]+)\)`),
	regexp.MustCompile(`(?i)CALL ALERT:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)call on\s+([A-Za-z0-9]+)`),
	regexp.MustCompile(`#([A-Za-z0-9]+)`),
	regexp.MustCompile(`\$([A-Za-z0-9]+)`),
}

// decorativeGlyphs are trimmed from the edges of a raw symbol match.
var decorativeGlyphs = "🔥💰⚡📄⚪👉✨🚀#$ \t"

var pureNumeric = regexp.MustCompile(`^[0-9]+$`)

// ExtractSymbol runs the priority cascade from spec §4.2 and returns the
// cleaned, uppercased symbol, or "" if no candidate passed validation.
func ExtractSymbol(text string) string {
	for _, re := range symbolPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		sym := cleanSymbol(m[1])
		if sym == "" {
			continue
		}
		return sym
	}
	return ""
}

func cleanSymbol(raw string) string {
	s := strings.Trim(raw, decorativeGlyphs)
	if s == "" {
		return ""
	}
	if pureNumeric.MatchString(s) {
		return ""
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return ""
	}
	return strings.ToUpper(s)
}
