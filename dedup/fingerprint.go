package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// DefaultFingerprintRing bounds the per-discussion fingerprint ring.
const DefaultFingerprintRing = 10

const fingerprintMaxLen = 800

var (
	fpURLRe    = regexp.MustCompile(`https?://\S+`)
	fpHandleRe = regexp.MustCompile(`@\w+`)
	fpTagRe    = regexp.MustCompile(`#\w+`)
	fpDigitRe  = regexp.MustCompile(`\d+`)
	fpSpaceRe  = regexp.MustCompile(`\s+`)
)

// NormalizeForFingerprint lowercases text, strips URLs, @handles and
// #tags, maps digit runs to a single 0, collapses whitespace, and caps
// the result at 800 characters.
func NormalizeForFingerprint(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = fpURLRe.ReplaceAllString(s, " ")
	s = fpHandleRe.ReplaceAllString(s, " ")
	s = fpTagRe.ReplaceAllString(s, " ")
	s = fpDigitRe.ReplaceAllString(s, "0")
	s = strings.TrimSpace(fpSpaceRe.ReplaceAllString(s, " "))
	if runes := []rune(s); len(runes) > fingerprintMaxLen {
		return string(runes[:fingerprintMaxLen])
	}
	return s
}

// Fingerprint returns a stable 16-hex-char digest of the normalized text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeForFingerprint(text)))
	return hex.EncodeToString(sum[:])[:16]
}

// PushFingerprint prepends fp to ring, dropping duplicates, bounded at
// limit entries (newest first).
func PushFingerprint(ring []string, fp string, limit int) []string {
	if fp == "" {
		return ring
	}
	out := make([]string, 0, len(ring)+1)
	out = append(out, fp)
	for _, f := range ring {
		if f != fp && f != "" {
			out = append(out, f)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
