package text

import (
	"unicode"
	"unicode/utf8"
)

// NextWord splits ghost text at the end of its first word, for accepting a
// suggestion one word at a time. Leading spaces and tabs stay with the word
// that follows them. A punctuation rune or a line break is a word by itself.
func NextWord(s string) (word, rest string) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i == len(s) {
		return s, ""
	}

	r, size := utf8.DecodeRuneInString(s[i:])
	if !isWordRune(r) {
		i += size
		return s[:i], s[i:]
	}
	for i < len(s) {
		r, size = utf8.DecodeRuneInString(s[i:])
		if !isWordRune(r) {
			break
		}
		i += size
	}
	return s[:i], s[i:]
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
