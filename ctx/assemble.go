// Package ctx turns editor state into the prompt sent to the model.
package ctx

import (
	"strings"

	"localcompletion/types"
)

// Assemble builds the prompt context for a cursor in a document given as
// lines. Out of range positions are clamped to the document.
//
// The result only depends on its inputs, which keeps cache lookups stable.
func Assemble(lines []string, pos types.Position) types.PromptContext {
	if len(lines) == 0 {
		lines = []string{""}
	}
	row := min(max(pos.Line, 0), len(lines)-1)
	line := lines[row]
	col := min(max(pos.Character, 0), len(line))

	var b strings.Builder
	for _, l := range lines[:row] {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(line[:col])

	pc := types.PromptContext{Text: b.String()}

	tail := line[col:]
	if strings.TrimSpace(tail) != "" {
		pc.IsMidLine = true
		pc.LineEndingStop = tail
		return pc
	}

	if row+1 < len(lines) {
		pc.LineEndingStop = lines[row+1]
	}
	return pc
}

// AssembleText is Assemble for a document held as a single string
func AssembleText(doc string, pos types.Position) types.PromptContext {
	return Assemble(strings.Split(doc, "\n"), pos)
}
