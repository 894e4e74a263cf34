// Package history keeps recent generations so that keystrokes which only
// retype what the model already suggested can be answered without a request.
package history

import (
	"container/list"
	"strings"
	"sync"

	"localcompletion/logger"
	"localcompletion/text"
)

// DefaultCapacity is the number of generations kept when none is configured
const DefaultCapacity = 10

// Record pairs a prompt with the completion generated for it
type Record struct {
	Input      string
	Completion string
}

// History is a bounded, most-recent-first deque of records.
// It is safe for concurrent use.
type History struct {
	mu       sync.Mutex
	capacity int
	records  *list.List // front = most recent
}

// New creates a history holding at most capacity records
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		capacity: capacity,
		records:  list.New(),
	}
}

// Add inserts a record at the front, evicting the oldest one when full
func (h *History) Add(input, completion string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records.PushFront(Record{Input: input, Completion: completion})
	h.evict()
}

// Resize changes the capacity, dropping the oldest records that no longer fit
func (h *History) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capacity = capacity
	h.evict()
}

// evict drops records past the capacity. Caller holds mu.
func (h *History) evict() {
	for h.records.Len() > h.capacity {
		h.records.Remove(h.records.Back())
	}
}

// Lookup returns candidate line completions for prompt, most recent first,
// or nil when no stored generation covers what is being typed.
//
// Matching is line granular: a candidate is the last line of a stored input
// followed by its completion, meant to replace the whole current line.
func (h *History) Lookup(prompt string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.records.Len() == 0 {
		return nil
	}

	current := text.LastLine(prompt)
	if strings.TrimSpace(current) == "" {
		return nil
	}

	var candidates []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			candidates = append(candidates, c)
		}
	}

	// Complete match: the latest generation contains the whole prompt and
	// still has text beyond it
	latest := h.records.Front().Value.(Record)
	if extendsBeyond(latest.Input+latest.Completion, prompt) {
		c := text.LastLine(latest.Input) + latest.Completion
		logger.Debug("history: complete match %q", c)
		add(c)
	}

	// Partial match: any generation whose line contains the current line
	for e := h.records.Front(); e != nil; e = e.Next() {
		r := e.Value.(Record)
		c := text.LastLine(r.Input) + r.Completion
		if extendsBeyond(c, current) {
			add(c)
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	logger.Debug("history: %d candidate(s) for line %q", len(candidates), current)
	return candidates
}

// Clear drops every record
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records.Init()
}

// Len returns the number of stored records
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records.Len()
}

// Capacity returns the maximum number of stored records
func (h *History) Capacity() int { return h.capacity }

// Records returns a copy of the stored records, most recent first
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, h.records.Len())
	for e := h.records.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Record))
	}
	return out
}

// extendsBeyond reports whether s contains sub and the first occurrence ends
// before the end of s, i.e. there is unseen text after it. Later occurrences
// end later, so only the first needs checking.
func extendsBeyond(s, sub string) bool {
	i := strings.Index(s, sub)
	return i >= 0 && i+len(sub) < len(s)
}
