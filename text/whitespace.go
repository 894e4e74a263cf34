package text

import "strings"

// SplitTrailingSpaces splits trailing spaces and tabs off text. Some local
// models produce better completions when the prompt does not end in
// indentation; the stripped whitespace is returned so it can be reconciled
// with the completion afterwards.
func SplitTrailingSpaces(text string) (trimmed, whitespace string) {
	trimmed = strings.TrimRight(text, " \t")
	return trimmed, text[len(trimmed):]
}

// DropEchoedWhitespace removes whitespace from the start of completion when
// the model reproduced the indentation that was stripped from the prompt.
func DropEchoedWhitespace(completion, whitespace string) string {
	if whitespace == "" {
		return completion
	}
	return strings.TrimPrefix(completion, whitespace)
}
