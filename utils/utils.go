package utils

import "strings"

// Token estimation constants
const (
	AvgCharsPerToken = 2 // Conservative estimate for source code
)

// EstimateCharsFromTokens estimates the number of characters for a given token count
func EstimateCharsFromTokens(tokens int) int {
	return tokens * AvgCharsPerToken
}

// KeepNewest returns the longest suffix of items whose summed size fits the
// token budget. The newest (last) item is always kept, even if it alone is
// over budget. A non-positive budget disables trimming.
func KeepNewest[T any](items []T, size func(T) int, maxTokens int) []T {
	if len(items) == 0 || maxTokens <= 0 {
		return items
	}

	maxChars := EstimateCharsFromTokens(maxTokens)
	total := 0
	for i := len(items) - 1; i >= 0; i-- {
		n := size(items[i])
		if total+n > maxChars && i < len(items)-1 {
			return items[i+1:]
		}
		total += n
	}
	return items
}

// FitPrompt joins a context prefix and the document prompt, then trims it to
// fit maxTokens. The prefix is dropped first, then the oldest document lines;
// the line holding the cursor is always kept. Reports whether anything was cut.
func FitPrompt(prefix, prompt string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return prefix + prompt, false
	}
	maxChars := EstimateCharsFromTokens(maxTokens)
	if len(prefix)+len(prompt) <= maxChars {
		return prefix + prompt, false
	}
	if len(prompt) <= maxChars {
		return prompt, prefix != ""
	}

	lines := strings.Split(prompt, "\n")
	kept := KeepNewest(lines, func(l string) int { return len(l) + 1 }, maxTokens)
	return strings.Join(kept, "\n"), true
}
