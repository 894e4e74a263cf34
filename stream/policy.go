package stream

import "localcompletion/text"

// Policy decides when accumulated output has grown long enough to stop
type Policy struct {
	// MaxLines is the budget of non-blank lines. Zero disables the budget.
	MaxLines int

	// Pairs is the delimiter table. The zero value means text.DefaultPairs.
	Pairs text.Pairs

	// BalanceSlack is how many extra non-blank lines an unclosed group may
	// use to close itself. Zero means MaxLines.
	BalanceSlack int
}

// Evaluate inspects the text accumulated so far. When stop is true, result
// is the text to present instead of waiting for more.
func (p Policy) Evaluate(acc string) (stop bool, result string) {
	if p.MaxLines <= 0 || text.CountLines(acc, true) <= p.MaxLines {
		return false, ""
	}

	b := text.CheckBalance(acc, p.Pairs)
	if b.Balanced {
		return true, text.TruncateLines(acc, p.MaxLines)
	}

	if text.CountLines(b.BalancedPrefix, true) <= p.MaxLines {
		return false, ""
	}

	// Only unclosed groups: give them room to close
	if !b.Broken && text.CountLines(acc, true) <= p.MaxLines+p.slack() {
		return false, ""
	}

	return true, b.BalancedPrefix
}

func (p Policy) slack() int {
	if p.BalanceSlack > 0 {
		return p.BalanceSlack
	}
	return p.MaxLines
}
