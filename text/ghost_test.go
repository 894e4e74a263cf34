package text

import (
	"localcompletion/assert"
	"localcompletion/types"
	"testing"
)

func TestGhostText_PureAppend(t *testing.T) {
	ghosts := GhostText("    return ", "    return a + b\n", types.Position{Line: 1, Character: 0})

	assert.Len(t, ghosts, 1, "ghost count")
	assert.Equal(t, types.Position{Line: 1, Character: 11}, ghosts[0].Position, "position")
	assert.Equal(t, "a + b\n", ghosts[0].Text, "text")
}

func TestGhostText_MultiLineExisting(t *testing.T) {
	existing := "def add(a, b):\n    return "
	ghosts := GhostText(existing, existing+"a + b", types.Position{})

	assert.Len(t, ghosts, 1, "ghost count")
	assert.Equal(t, types.Position{Line: 1, Character: 11}, ghosts[0].Position, "position after newline")
}

func TestGhostText_Identical(t *testing.T) {
	assert.Nil(t, GhostText("same", "same", types.Position{}), "no ghosts")
}

func TestGhostText_InsertInMiddle(t *testing.T) {
	ghosts := GhostText("foo()", "foo(bar)", types.Position{Line: 3})

	assert.Len(t, ghosts, 1, "ghost count")
	assert.Equal(t, types.Position{Line: 3, Character: 4}, ghosts[0].Position, "inside parens")
	assert.Equal(t, "bar", ghosts[0].Text, "inserted text")
}
