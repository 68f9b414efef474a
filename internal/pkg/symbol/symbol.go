// Package symbol parses forex pair notation. Gateways deliver symbols
// either compact ("EURUSD") or slash-separated ("EUR/USD"); internally
// everything is compact upper-case.
package symbol

import "strings"

// Symbol is a currency pair split into base and quote.
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts "EURUSD", "EUR/USD" or "EUR-USD". Six-letter compact
// pairs split in the middle; anything else is returned with an empty
// quote so callers can reject it.
func Parse(raw string) Symbol {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Symbol{}
	}
	for _, sep := range []string{"/", "-"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{Base: parts[0], Quote: parts[1]}
		}
	}
	if len(s) == 6 {
		return Symbol{Base: s[:3], Quote: s[3:]}
	}
	return Symbol{Base: s}
}

// Normalize returns the compact form of raw, or raw upper-cased when it
// does not parse as a pair.
func Normalize(raw string) string {
	sym := Parse(raw)
	if c := sym.Compact(); c != "" {
		return c
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsJPYQuoted reports whether the pair is quoted in yen, which changes
// the pip size.
func IsJPYQuoted(raw string) bool {
	return Parse(raw).Quote == "JPY"
}
