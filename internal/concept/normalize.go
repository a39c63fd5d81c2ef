// Package concept maps normalized content fingerprints to canonical business
// concept records and tracks per-stage completion flags.
package concept

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// fillerPrefixes are title framings that carry no concept identity. Longer
// prefixes are listed first so "app idea:" wins over "idea:".
var fillerPrefixes = []string{
	"startup idea:",
	"business idea:",
	"app idea:",
	"mobile app:",
	"web app:",
	"idea:",
}

// Normalize lowercases, collapses whitespace, and strips filler prefixes.
// Deterministic and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = whitespaceRe.ReplaceAllString(t, " ")

	for stripped := true; stripped; {
		stripped = false
		for _, p := range fillerPrefixes {
			if strings.HasPrefix(t, p) {
				t = strings.TrimSpace(strings.TrimPrefix(t, p))
				stripped = true
			}
		}
	}

	return t
}

// Fingerprint hashes the normalized text. Equality of fingerprints is the
// sole dedup signal; no approximate or semantic matching.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
