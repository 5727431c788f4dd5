package payload

import "unicode/utf8"

const (
	lineSeparator      = '\u2028'
	paragraphSeparator = '\u2029'

	// unicodeEscapeLen is the size of a \uXXXX escape.
	unicodeEscapeLen = 6
)

// TruncateText returns the longest prefix of text whose JSON-escaped form
// fits in budget bytes, together with that escaped size. The scan walks whole
// code points, so neither a UTF-8 sequence nor an escape is ever split.
func TruncateText(text string, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}

	used := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		cost := escapedLen(r, size)
		if used+cost > budget {
			return text[:i], used
		}
		used += cost
		i += size
	}
	return text, used
}

// EscapedLen returns the size of text inside a JSON string literal, as
// written by the payload encoder, excluding the surrounding quotes.
func EscapedLen(text string) int {
	n := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		n += escapedLen(r, size)
		i += size
	}
	return n
}

// escapedLen mirrors encoding/json string output with HTML escaping off.
func escapedLen(r rune, size int) int {
	switch {
	case r == utf8.RuneError && size == 1:
		return unicodeEscapeLen
	case r == '"', r == '\\', r == '\b', r == '\f', r == '\n', r == '\r', r == '\t':
		return 2
	case r < 0x20:
		return unicodeEscapeLen
	case r == lineSeparator, r == paragraphSeparator:
		return unicodeEscapeLen
	default:
		return size
	}
}
