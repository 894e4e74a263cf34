package openai

import "strings"

// stopScanner withholds streamed text that might be the start of a stop
// sequence until the next chunk decides it.
type stopScanner struct {
	stops   []string
	pending string
}

// push appends text and returns what can be released. stopped is true once
// a stop sequence appears; ready is then the text before it.
func (s *stopScanner) push(text string) (ready string, stopped bool) {
	s.pending += text
	if len(s.stops) == 0 {
		ready, s.pending = s.pending, ""
		return ready, false
	}

	if i := s.firstStop(); i >= 0 {
		ready, s.pending = s.pending[:i], ""
		return ready, true
	}

	hold := s.heldSuffix()
	ready = s.pending[:len(s.pending)-hold]
	s.pending = s.pending[len(s.pending)-hold:]
	return ready, false
}

// flush releases withheld text at the end of the stream
func (s *stopScanner) flush() string {
	rest := s.pending
	s.pending = ""
	return rest
}

func (s *stopScanner) firstStop() int {
	first := -1
	for _, stop := range s.stops {
		if i := strings.Index(s.pending, stop); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}

// heldSuffix is the length of the longest suffix of pending that is a
// proper prefix of some stop sequence
func (s *stopScanner) heldSuffix() int {
	longest := 0
	for _, stop := range s.stops {
		for n := min(len(stop)-1, len(s.pending)); n > longest; n-- {
			if strings.HasSuffix(s.pending, stop[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
