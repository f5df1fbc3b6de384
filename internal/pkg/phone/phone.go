// Package phone normalizes user-entered phone numbers. Stored phones use
// inconsistent historical formats, so lookups match against a candidate set
// instead of one canonical form.
package phone

import (
	"strings"
)

const (
	MinDigits = 9
	MaxDigits = 15
)

// Digits strips everything except ASCII digits.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether raw carries between MinDigits and MaxDigits digits.
func Valid(raw string) bool {
	n := len(Digits(raw))
	return n >= MinDigits && n <= MaxDigits
}

// NormalizeE164 keeps digits and a leading '+', then guarantees the '+' prefix.
// Used for contact-share payloads, which always carry a country code.
func NormalizeE164(raw string) string {
	d := Digits(raw)
	if d == "" {
		return ""
	}
	return "+" + d
}

// Candidates returns every representation of raw that a stored phone may use:
// the raw input, digits only, digits with the country code, and '+' forms.
// countryCode is the default calling code applied to national numbers.
func Candidates(raw, countryCode string) []string {
	raw = strings.TrimSpace(raw)
	d := Digits(raw)
	if d == "" {
		return nil
	}
	cc := Digits(countryCode)

	seen := make(map[string]struct{}, 8)
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(raw)
	add(d)
	add("+" + d)
	if cc != "" {
		if strings.HasPrefix(d, cc) && len(d) > len(cc)+MinDigits-1 {
			national := d[len(cc):]
			add(national)
			add("0" + national)
		} else {
			national := strings.TrimPrefix(d, "0")
			add(cc + national)
			add("+" + cc + national)
		}
	}
	return out
}

// Canonical returns the digits-with-country-code form used for keys such as
// rate-limit buckets.
func Canonical(raw, countryCode string) string {
	d := Digits(raw)
	cc := Digits(countryCode)
	if cc == "" || strings.HasPrefix(d, cc) && len(d) > len(cc)+MinDigits-1 {
		return d
	}
	return cc + strings.TrimPrefix(d, "0")
}

// Mask hides all but the last four digits for logging.
func Mask(raw string) string {
	d := Digits(raw)
	if len(d) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}
