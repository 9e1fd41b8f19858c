package enrich

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

// Chain identifiers attached to detected addresses.
const (
	ChainEth = "eth"
	ChainSol = "sol"
)

// Base58 runs shorter than this are too likely to be ordinary words or ids,
// even when they pass the character checks.
var MinBase58AddressLen = 40

var (
	urlRe       = regexp.MustCompile(`https?://\S+`)
	hexAddrRe   = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	base58RunRe = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,48}\b`)
)

// DetectAddresses scans text for contract addresses. URLs are stripped first
// so that path and query fragments never produce false positives. Results
// keep first-occurrence order with duplicates removed.
func DetectAddresses(text string) []core.ContractAddress {
	if text == "" {
		return nil
	}
	scrubbed := urlRe.ReplaceAllString(text, " ")

	var out []core.ContractAddress
	seen := make(map[string]bool)
	add := func(addr, chain string) {
		if seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, core.ContractAddress{Address: addr, Chain: chain})
	}

	for _, m := range hexAddrRe.FindAllString(scrubbed, -1) {
		add(m, ChainEth)
	}

	// Hex matches are removed before the base58 pass so a checksummed hex
	// address cannot double-report as a base58 run.
	scrubbed = hexAddrRe.ReplaceAllString(scrubbed, " ")
	for _, m := range base58RunRe.FindAllString(scrubbed, -1) {
		if plausibleBase58Address(m) {
			add(m, ChainSol)
		}
	}
	return out
}

// plausibleBase58Address filters base58 runs down to strings that look like
// real addresses: long enough, containing at least one digit, and mixing
// upper and lower case.
func plausibleBase58Address(s string) bool {
	if len(s) < MinBase58AddressLen {
		return false
	}
	var digit, upper, lower bool
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		}
	}
	return digit && upper && lower
}

// NormalizeAddress lowercases hex addresses so ledger lookups are
// case-insensitive; base58 addresses are case-sensitive and pass through.
func NormalizeAddress(addr, chain string) string {
	if chain == ChainEth {
		return strings.ToLower(addr)
	}
	return addr
}
