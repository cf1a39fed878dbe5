// Package sanitize masks structured personal identifiers in free text
// before it crosses the process boundary. Every string fed to the
// external decision-maker, and every generated reply that gets re-fed or
// persisted, passes through Mask first.
package sanitize

import "regexp"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// National document numbers: 11 digits, optionally punctuated
	// (000.000.000-00) or bare.
	documentRe = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	// Phone numbers: optional +country, 8-14 digits with common separators.
	phoneRe = regexp.MustCompile(`(\+\d{1,3}[\s\-]?)?(\(?\d{2,3}\)?[\s\-]?)?\d{4,5}[\s\-]?\d{4}\b`)
)

const (
	emailMask    = "[email]"
	documentMask = "[document]"
	phoneMask    = "[phone]"
)

// Mask redacts emails, document numbers and phone numbers. Order matters:
// documents are masked before phones so a punctuated document number is
// not half-eaten by the looser phone pattern.
func Mask(s string) string {
	if s == "" {
		return s
	}
	s = emailRe.ReplaceAllString(s, emailMask)
	s = documentRe.ReplaceAllString(s, documentMask)
	s = phoneRe.ReplaceAllString(s, phoneMask)
	return s
}

// MaskAll applies Mask to every element, returning a new slice.
func MaskAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Mask(s)
	}
	return out
}
