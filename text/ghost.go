package text

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"localcompletion/types"
)

// GhostText computes the runs of text that insert adds relative to existing,
// the document text currently covered by a suggestion's range. Positions are
// absolute, with start being the position of existing's first byte. Deleted
// text is ignored: an inline suggestion only ever draws additions.
func GhostText(existing, insert string, start types.Position) []types.Ghost {
	if existing == insert {
		return nil
	}
	if strings.HasPrefix(insert, existing) {
		return []types.Ghost{{
			Position: advance(start, existing),
			Text:     insert[len(existing):],
		}}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(existing, insert, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var ghosts []types.Ghost
	pos := start
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos = advance(pos, d.Text)
		case diffmatchpatch.DiffDelete:
			pos = advance(pos, d.Text)
		case diffmatchpatch.DiffInsert:
			// Merge with a previous insert anchored at the same spot
			if n := len(ghosts); n > 0 && ghosts[n-1].Position == pos {
				ghosts[n-1].Text += d.Text
				continue
			}
			ghosts = append(ghosts, types.Ghost{Position: pos, Text: d.Text})
		}
	}
	return ghosts
}

// advance moves pos past s in the original document
func advance(pos types.Position, s string) types.Position {
	if n := strings.Count(s, "\n"); n > 0 {
		pos.Line += n
		pos.Character = len(s) - strings.LastIndexByte(s, '\n') - 1
		return pos
	}
	pos.Character += len(s)
	return pos
}
