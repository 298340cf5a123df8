package util

import "strings"

// TruncationSuffix marks a message cut to fit a transport limit.
const TruncationSuffix = " [...]"

// Truncate shortens text to at most limit bytes, appending TruncationSuffix
// when a cut happens. Cuts land on a rune boundary so multi-byte characters
// are never split. Text at or under the limit is returned unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit - len(TruncationSuffix)
	if cut <= 0 {
		return TruncationSuffix[:limit]
	}
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return strings.TrimRight(text[:cut], " \n\t") + TruncationSuffix
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// FirstLine returns text up to the first newline, for compact log output.
func FirstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
