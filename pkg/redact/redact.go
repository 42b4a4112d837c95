package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// National ID: one letter, a sex digit and eight digits.
	nationalIDRe = regexp.MustCompile(`\b[A-Z][12]\d{8}\b`)
	phoneRe      = regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, national ids and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	return Always(in)
}

// Always redacts regardless of the global switch.
func Always(in string) string {
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = nationalIDRe.ReplaceAllString(out, "[REDACTED_ID]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
