package commands

import (
	"strings"
	"unicode"
)

// tokenize splits command text on Unicode whitespace, including the
// full-width space (U+3000). Single or double quotes group words and a
// backslash escapes the next rune:
//
//	设置早安天气 "New York"
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			} else {
				buf.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case unicode.IsSpace(ch):
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}
