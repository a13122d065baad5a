package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	codeRe  = regexp.MustCompile(`\b\d{4,8}\b`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, phone numbers and verification-code-like digit runs when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = codeRe.ReplaceAllString(out, "[REDACTED_CODE]")
	return out
}

// Code masks all but the last two characters of a one-time code when enabled.
func Code(in string) string {
	if !enabled.Load() || len(in) <= 2 {
		return in
	}
	return strings.Repeat("*", len(in)-2) + in[len(in)-2:]
}
