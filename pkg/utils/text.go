package utils

import "unicode/utf8"

// TruncateRunes caps s at max runes. Indexing bytes would split a multibyte
// rune and produce invalid UTF-8.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
