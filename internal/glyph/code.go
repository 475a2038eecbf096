package glyph

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseCode reads a code point written as a decimal number, "U+4E2D",
// "0x4E2D", or the literal character itself.
func ParseCode(s string) (rune, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty code")
	}

	var (
		n   int64
		err error
	)
	switch {
	case strings.HasPrefix(s, "U+") || strings.HasPrefix(s, "u+"):
		n, err = strconv.ParseInt(s[2:], 16, 32)
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		n, err = strconv.ParseInt(s[2:], 16, 32)
	case s[0] >= '0' && s[0] <= '9':
		n, err = strconv.ParseInt(s, 10, 32)
	default:
		r, size := utf8.DecodeRuneInString(s)
		if size != len(s) || r == utf8.RuneError {
			return 0, fmt.Errorf("code %q is not a single character", s)
		}
		return r, nil
	}
	if err != nil {
		return 0, fmt.Errorf("invalid code %q: %w", s, err)
	}
	if !utf8.ValidRune(rune(n)) {
		return 0, fmt.Errorf("code %q is not a Unicode scalar value", s)
	}
	return rune(n), nil
}

// FormatCode renders a code point as U+XXXX.
func FormatCode(r rune) string {
	return fmt.Sprintf("U+%04X", r)
}
