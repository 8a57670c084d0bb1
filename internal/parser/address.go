// Package parser implements the stateless message → ParsedEvent cascade.
// Structured as a registry of per-source extractor chains, the same shape
// as the teacher repo's program-ID-keyed DEXParser: register once, iterate
// and take the first non-nil result, never inheritance.
package parser

import (
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// base58Charset excludes 0, O, I, l, matching the alphabet mr-tron/base58
// decodes against.
const base58Charset = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var bareBase58Run = regexp.MustCompile(`[` + base58Charset + `]{32,44}`)

// deepLinkPatterns matches source-bot deep-link URLs that embed a contract
// address, e.g. "...?start=15_<addr>" or "...?start=<addr>".
var deepLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]start=\d+_([` + base58Charset + `]{32,44})`),
	regexp.MustCompile(`[?&]start=([` + base58Charset + `]{32,44})`),
}

// dexExplorerPatterns matches known dex/explorer URL shapes.
var dexExplorerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gmgn\.ai/sol/token/(?:[a-zA-Z0-9_]+_)?([` + base58Charset + `]{32,44})`),
	regexp.MustCompile(`pump\.fun/([` + base58Charset + `]{32,44})`),
}

// keyedLabelPatterns matches text labels that precede a contract address.
var keyedLabelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)CA:\s*([` + base58Charset + `]{32,44})`),
	regexp.MustCompile(`(?i)Mint:\s*([` + base58Charset + `]{32,44})`),
	regexp.MustCompile(`(?i)Contract:\s*([` + base58Charset + `]{32,44})`),
	regexp.MustCompile(`📄\s*([` + base58Charset + `]{32,44})`),
}

// ErrInvalidAddress means a candidate string failed address validation.
var ErrInvalidAddress = errValue("invalid contract address")

type errValue string

func (e errValue) Error() string { return string(e) }

// IsValidAddress reports whether s is a plausible Solana contract address:
// length 32-44, pure base58 charset, not an 0x-prefixed Ethereum address.
func IsValidAddress(s string) bool {
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Charset, r) {
			return false
		}
	}
	_, err := base58.Decode(s)
	return err == nil
}

// CanonicalizeAddress uppercases a validated address. Callers must check
// IsValidAddress first.
func CanonicalizeAddress(s string) string {
	return strings.ToUpper(s)
}

// ExtractAddress runs the priority cascade from spec §4.2: deep links,
// dex/explorer URLs, keyed labels, then a bare base58 run. entityURLs carries
// the message's URL entity list (anchor text searched the same as body
// text). Returns "" if nothing valid was found.
func ExtractAddress(text string, entityURLs []string) string {
	haystacks := append([]string{text}, entityURLs...)

	for _, h := range haystacks {
		for _, re := range deepLinkPatterns {
			if m := re.FindStringSubmatch(h); m != nil && IsValidAddress(m[1]) {
				return CanonicalizeAddress(m[1])
			}
		}
	}
	for _, h := range haystacks {
		for _, re := range dexExplorerPatterns {
			if m := re.FindStringSubmatch(h); m != nil && IsValidAddress(m[1]) {
				return CanonicalizeAddress(m[1])
			}
		}
	}
	for _, re := range keyedLabelPatterns {
		if m := re.FindStringSubmatch(text); m != nil && IsValidAddress(m[1]) {
			return CanonicalizeAddress(m[1])
		}
	}
	if m := bareBase58Run.FindString(text); m != "" && IsValidAddress(m) {
		return CanonicalizeAddress(m)
	}
	return ""
}
