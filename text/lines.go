package text

import "strings"

// CountLines counts the "\n"-separated lines of text. With skipBlank set,
// lines containing only whitespace are not counted.
func CountLines(text string, skipBlank bool) int {
	lines := strings.Split(text, "\n")
	if !skipBlank {
		return len(lines)
	}

	count := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// TruncateLines keeps at most maxLines lines of text, dropping the rest.
// Text already within budget is returned unchanged.
func TruncateLines(text string, maxLines int) string {
	if maxLines < 0 {
		maxLines = 0
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[:maxLines], "\n")
}

// LastLine returns the text after the final line break, or all of text when
// there is none.
func LastLine(text string) string {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}

// TrimTrailingBlankLines collapses any run of whitespace-only lines at the end
// of text into a single line break.
func TrimTrailingBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 1 && strings.TrimSpace(lines[end-1]) == "" && strings.TrimSpace(lines[end-2]) == "" {
		end--
	}
	if end == len(lines) {
		return text
	}
	// lines[end-1] is blank: keep it empty so text ends with exactly one "\n"
	lines = append(lines[:end-1], "")
	return strings.Join(lines, "\n")
}
