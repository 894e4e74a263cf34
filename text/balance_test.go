package text

import (
	"localcompletion/assert"
	"testing"
)

func TestCheckBalance(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		balanced bool
		prefix   string
		broken   bool
	}{
		{"empty", "", true, "", false},
		{"no delimiters", "return a + b", true, "return a + b", false},
		{"simple parens", "f(x)", true, "f(x)", false},
		{"nested", "if (a[0]) { b() }", true, "if (a[0]) { b() }", false},
		{"generics", "List<int>", true, "List<int>", false},

		// Unclosed openers: cut before the outermost open group
		{"unclosed brace", "a\nb\nc\n{\n", false, "a\nb\nc\n", false},
		{"unclosed nested", "x { y ( z", false, "x ", false},
		{"closed then open", "f() { g(", false, "f() ", false},

		// Stray closers: cut right before them
		{"stray closer", "a)b", false, "a", true},
		{"stray after balanced", "(a))", false, "(a)", true},
		{"leading closer", "}\nfoo", false, "", true},

		// Mismatch: cut before the outermost group still open
		{"mismatch single", "x(]", false, "x", true},
		{"mismatch nested", "a{ b( c] }", false, "a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckBalance(tt.input, DefaultPairs)
			assert.Equal(t, tt.balanced, got.Balanced, "Balanced")
			assert.Equal(t, tt.prefix, got.BalancedPrefix, "BalancedPrefix")
			assert.Equal(t, tt.broken, got.Broken, "Broken")
		})
	}
}

func TestCheckBalance_PrefixIsBalanced(t *testing.T) {
	inputs := []string{
		"",
		"a)b",
		"x { y ( z",
		"a{ b( c] }",
		"func f() {\n\tif x {\n\t\treturn\n",
		"))((",
		"[(])",
		"<a<b>",
		"{}{}{",
	}

	for _, input := range inputs {
		prefix := CheckBalance(input, DefaultPairs).BalancedPrefix
		again := CheckBalance(prefix, DefaultPairs)
		assert.True(t, again.Balanced, "re-checked prefix of "+input)
		assert.Equal(t, prefix, again.BalancedPrefix, "prefix is a fixed point for "+input)
	}
}

func TestCheckBalance_CustomPairs(t *testing.T) {
	pairs, err := NewPairs(map[string]string{"(": ")"})
	assert.NoError(t, err, "NewPairs")

	// Braces are plain characters with this table
	got := CheckBalance("{ (a) ", pairs)
	assert.True(t, got.Balanced, "braces ignored")

	got = CheckBalance("f(a", pairs)
	assert.False(t, got.Balanced, "paren still tracked")
	assert.Equal(t, "f", got.BalancedPrefix, "prefix")
}

func TestCheckBalance_EmptyTableUsesDefault(t *testing.T) {
	got := CheckBalance("{", Pairs{})
	assert.False(t, got.Balanced, "default table applied")
}

func TestNewPairs_Invalid(t *testing.T) {
	_, err := NewPairs(map[string]string{"begin": "end"})
	assert.Error(t, err, "multi-character delimiter")

	_, err = NewPairs(map[string]string{"|": "|"})
	assert.Error(t, err, "identical delimiters")
}
