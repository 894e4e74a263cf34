package text

import "fmt"

// DefaultPairs is the delimiter table used when none is configured
var DefaultPairs = MustPairs(map[string]string{
	"(": ")",
	"[": "]",
	"{": "}",
	"<": ">",
})

// Pairs maps opening delimiters to their closers and back.
// Delimiters are single bytes.
type Pairs struct {
	closeFor map[byte]byte
	openFor  map[byte]byte
}

// NewPairs builds a delimiter table from an open->close mapping.
func NewPairs(pairs map[string]string) (Pairs, error) {
	p := Pairs{
		closeFor: make(map[byte]byte, len(pairs)),
		openFor:  make(map[byte]byte, len(pairs)),
	}
	for open, closer := range pairs {
		if len(open) != 1 || len(closer) != 1 {
			return Pairs{}, fmt.Errorf("delimiter pair %q/%q: delimiters must be single characters", open, closer)
		}
		if open == closer {
			return Pairs{}, fmt.Errorf("delimiter pair %q/%q: open and close must differ", open, closer)
		}
		p.closeFor[open[0]] = closer[0]
		p.openFor[closer[0]] = open[0]
	}
	return p, nil
}

// MustPairs is NewPairs for static tables
func MustPairs(pairs map[string]string) Pairs {
	p, err := NewPairs(pairs)
	if err != nil {
		panic(err)
	}
	return p
}

// IsOpen reports whether c opens a group
func (p Pairs) IsOpen(c byte) bool {
	_, ok := p.closeFor[c]
	return ok
}

// IsClose reports whether c closes a group
func (p Pairs) IsClose(c byte) bool {
	_, ok := p.openFor[c]
	return ok
}

// Len returns the number of configured pairs
func (p Pairs) Len() int { return len(p.closeFor) }

// Balance is the outcome of CheckBalance
type Balance struct {
	Balanced bool
	// BalancedPrefix is the longest prefix known to be safe to show
	BalancedPrefix string
	// Broken is set when a stray or mismatched closer was seen. Unlike an
	// unclosed opener this cannot be repaired by appending more text.
	Broken bool
}

type openDelim struct {
	char  byte
	index int
}

// CheckBalance scans text left to right and reports whether its delimiters
// are matched. It never fails: degenerate input is reported as unbalanced at
// the first offending index.
func CheckBalance(text string, pairs Pairs) Balance {
	if pairs.Len() == 0 {
		pairs = DefaultPairs
	}

	var stack []openDelim
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case pairs.IsOpen(c):
			stack = append(stack, openDelim{char: c, index: i})
		case pairs.IsClose(c):
			if len(stack) == 0 {
				return Balance{BalancedPrefix: text[:i], Broken: true}
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if pairs.openFor[c] != top.char {
				// Cut before the outermost group that is still open, or before
				// the mismatched opener when it was the only one.
				cut := top.index
				if len(stack) > 0 {
					cut = stack[0].index
				}
				return Balance{BalancedPrefix: text[:cut], Broken: true}
			}
		}
	}

	if len(stack) > 0 {
		// Unwinding the stack, the last opener popped is the outermost one.
		return Balance{BalancedPrefix: text[:stack[0].index]}
	}

	return Balance{Balanced: true, BalancedPrefix: text}
}
