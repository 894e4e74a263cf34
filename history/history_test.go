package history

import (
	"fmt"
	"testing"

	"localcompletion/assert"
)

func TestAddEvictsOldest(t *testing.T) {
	const k, extra = 10, 4
	h := New(k)
	for i := 0; i < k+extra; i++ {
		h.Add(fmt.Sprintf("in%d", i), fmt.Sprintf("out%d", i))
	}

	records := h.Records()
	assert.Equal(t, k, h.Len(), "length after overflow")
	assert.Len(t, records, k, "records")
	for i, r := range records {
		n := k + extra - 1 - i
		assert.Equal(t, fmt.Sprintf("in%d", n), r.Input, "input order")
		assert.Equal(t, fmt.Sprintf("out%d", n), r.Completion, "completion order")
	}
}

func TestNewDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity(), "zero capacity")
	assert.Equal(t, DefaultCapacity, New(-3).Capacity(), "negative capacity")
	assert.Equal(t, 3, New(3).Capacity(), "explicit capacity")
}

func TestResize(t *testing.T) {
	h := New(5)
	for i := range 5 {
		h.Add(fmt.Sprintf("in%d", i), "x")
	}

	h.Resize(2)
	assert.Equal(t, 2, h.Capacity(), "shrunk capacity")
	records := h.Records()
	assert.Len(t, records, 2, "oldest dropped")
	assert.Equal(t, "in4", records[0].Input, "newest kept")
	assert.Equal(t, "in3", records[1].Input, "second newest kept")

	h.Resize(0)
	assert.Equal(t, DefaultCapacity, h.Capacity(), "default on zero")
	assert.Equal(t, 2, h.Len(), "growing keeps records")
}

func TestLookupEmpty(t *testing.T) {
	h := New(DefaultCapacity)
	assert.Nil(t, h.Lookup("x = 1"), "empty history")
}

func TestLookupBlankLastLine(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("def f():\n", "    pass\n")

	assert.Nil(t, h.Lookup("def f():\n"), "empty current line")
	assert.Nil(t, h.Lookup("def f():\n   \t"), "whitespace current line")
}

func TestLookupBoundary(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("x = foo(", "1, 2)")

	// Prompt equal to the whole record has nothing left to offer
	assert.Nil(t, h.Lookup("x = foo(1, 2)"), "prompt equal to record")

	// Strict prefix still has unseen completion
	got := h.Lookup("x = foo(1")
	assert.Equal(t, []string{"x = foo(1, 2)"}, got, "strict prefix")
}

func TestLookupCompleteMatch(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("def add(a, b):\n    return ", "a + b\n")

	got := h.Lookup("def add(a, b):\n    return a")
	assert.Equal(t, []string{"    return a + b\n"}, got, "complete match")
}

func TestLookupPartialMatchAcrossRecords(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("let total = ", "items.length;")
	h.Add("fn main() {\n", "    println!(\"hi\");\n}")
	h.Add("const x = ", "compute(1);")

	// Typed a different document but the same line as the oldest record
	got := h.Lookup("// other file\nlet total = it")
	assert.Equal(t, []string{"let total = items.length;"}, got, "partial match")
}

func TestLookupOrderAndDedupe(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("x = ", "foo(1)")
	h.Add("x = ", "foo(2)")
	h.Add("x = ", "foo(2)")

	got := h.Lookup("x = fo")
	assert.Equal(t, []string{"x = foo(2)", "x = foo(1)"}, got, "most recent first, deduped")
}

func TestLookupNoMatch(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("x = ", "foo(1)")

	assert.Nil(t, h.Lookup("y = bar"), "unrelated line")
}

func TestClear(t *testing.T) {
	h := New(DefaultCapacity)
	h.Add("a", "b")
	h.Add("c", "d")
	h.Clear()

	assert.Equal(t, 0, h.Len(), "len after clear")
	assert.Nil(t, h.Lookup("a"), "lookup after clear")
}
