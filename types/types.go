package types

// Position is a location in a document. Both fields are 0-indexed; Character
// is a byte offset into the line.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span of document text.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TriggerKind tells the engine why a completion was requested
type TriggerKind int

const (
	// TriggerAutomatic is fired by the editor while the user types
	TriggerAutomatic TriggerKind = iota
	// TriggerManual is an explicit request (regenerate command)
	TriggerManual
)

// String returns the wire name of the trigger kind
func (k TriggerKind) String() string {
	switch k {
	case TriggerAutomatic:
		return "automatic"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// TriggerKindFromString parses a wire name, defaulting to automatic
func TriggerKindFromString(s string) TriggerKind {
	if s == "manual" {
		return TriggerManual
	}
	return TriggerAutomatic
}

// DocumentState is a snapshot of the editor at the moment a completion is requested
type DocumentState struct {
	// Path identifies the document; it may be empty for unsaved buffers
	Path string `json:"path,omitempty"`
	// Lines holds the document content split on "\n", without terminators
	Lines  []string `json:"lines"`
	Cursor Position `json:"cursor"`
	// WidgetVisible is true while an unrelated selection widget
	// (autocomplete popup) is showing
	WidgetVisible bool `json:"widget_visible,omitempty"`
}

// PromptContext is derived from a DocumentState for one request and never mutated
type PromptContext struct {
	// Text is everything from the document start up to the cursor
	Text string
	// LineEndingStop is the text used as a stop boundary; empty means none
	LineEndingStop string
	// IsMidLine is true when non-whitespace content follows the cursor
	IsMidLine bool
}

// HasLineEndingStop reports whether a line-ending stop boundary was derived
func (p PromptContext) HasLineEndingStop() bool {
	return p.LineEndingStop != ""
}

// Suggestion is a single inline completion item
type Suggestion struct {
	InsertText string  `json:"insert_text"`
	Range      Range   `json:"range"`
	Ghost      []Ghost `json:"ghost,omitempty"`
	FromCache  bool    `json:"from_cache"`
}

// Ghost is a run of text the suggestion adds at a position of the current
// document, used by editors that render suggestions as virtual text.
type Ghost struct {
	Position Position `json:"position"`
	Text     string   `json:"text"`
}

// Status mirrors the indicator the editor shows for the engine
type Status string

const (
	StatusOff      Status = "off"
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
)
