package buffer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/neovim/go-client/nvim"

	"localcompletion/logger"
	"localcompletion/types"
)

// NvimBuffer mirrors the current Neovim buffer and window
type NvimBuffer struct {
	client *nvim.Nvim // stored internally, set via SetClient

	lines         []string
	row           int // 1-indexed
	col           int // 0-indexed byte offset
	path          string
	id            nvim.Buffer
	widgetVisible bool
}

func New() *NvimBuffer {
	return &NvimBuffer{
		lines: []string{},
		row:   1,
		id:    nvim.Buffer(0),
	}
}

// SetClient stores the nvim client for all buffer operations
func (b *NvimBuffer) SetClient(n *nvim.Nvim) {
	b.client = n
}

// Sync reads current state from the editor in a single round-trip.
// changed reports that the focused buffer differs from the last sync.
func (b *NvimBuffer) Sync() (changed bool, err error) {
	defer logger.Trace("buffer.Sync")()
	if b.client == nil {
		return false, fmt.Errorf("nvim client not set")
	}

	batch := b.client.NewBatch()

	var currentBuf nvim.Buffer
	var path string
	var lines [][]byte
	var cursor [2]int
	var nvimCwd string
	var pumVisible bool

	batch.CurrentBuffer(&currentBuf)
	batch.BufferName(nvim.Buffer(0), &path)
	batch.BufferLines(nvim.Buffer(0), 0, -1, false, &lines)
	batch.WindowCursor(nvim.Window(0), &cursor)
	batch.ExecLua(`return vim.fn.getcwd()`, &nvimCwd, nil)
	batch.ExecLua(`return vim.fn.pumvisible() == 1`, &pumVisible, nil)

	if err := batch.Execute(); err != nil {
		logger.Error("error executing sync batch: %v", err)
		return false, fmt.Errorf("sync buffer: %w", err)
	}

	oldPath := b.path
	b.apply(lines, cursor, makeRelativeToWorkspace(path, nvimCwd), pumVisible)
	changed = b.track(currentBuf)
	if changed {
		logger.Debug("buffer switched: %q -> %q", oldPath, b.path)
	}
	return changed, nil
}

// track records the focused buffer and reports whether it switched
func (b *NvimBuffer) track(id nvim.Buffer) bool {
	changed := b.id != id
	b.id = id
	return changed
}

func (b *NvimBuffer) apply(lines [][]byte, cursor [2]int, path string, widgetVisible bool) {
	b.lines = make([]string, len(lines))
	for i, line := range lines {
		b.lines[i] = string(line)
	}
	b.row = cursor[0] // 1-based in nvim
	b.col = cursor[1] // 0-based byte offset
	b.path = path
	b.widgetVisible = widgetVisible
}

// Document returns the synced state as the engine sees it (0-indexed)
func (b *NvimBuffer) Document() types.DocumentState {
	lines := make([]string, len(b.lines))
	copy(lines, b.lines)
	return types.DocumentState{
		Path:          b.path,
		Lines:         lines,
		Cursor:        types.Position{Line: max(b.row-1, 0), Character: b.col},
		WidgetVisible: b.widgetVisible,
	}
}

// ShowSuggestion hands the first suggestion to the Lua side for rendering
// as virtual text
func (b *NvimBuffer) ShowSuggestion(s types.Suggestion) {
	logger.Debug("sending to lua on_suggestion: %d ghost run(s)", len(s.Ghost))
	b.executeLuaFunction("require('localcompletion').on_suggestion(...)", suggestionToLua(s))
}

// ClearUI removes any rendered suggestion
func (b *NvimBuffer) ClearUI() {
	logger.Debug("sending to lua on_clear")
	b.executeLuaFunction("require('localcompletion').on_clear()")
}

// Apply replaces the suggestion's range with its insert text and moves the
// cursor to the end of it
func (b *NvimBuffer) Apply(s types.Suggestion) error {
	return b.replace(s.Range, s.InsertText)
}

// InsertAtCursor types text at the synced cursor position
func (b *NvimBuffer) InsertAtCursor(text string) error {
	pos := types.Position{Line: max(b.row-1, 0), Character: b.col}
	return b.replace(types.Range{Start: pos, End: pos}, text)
}

func (b *NvimBuffer) replace(rng types.Range, text string) error {
	if b.client == nil {
		return fmt.Errorf("nvim client not set")
	}
	defer logger.Trace("buffer.replace")()

	parts := strings.Split(text, "\n")
	replacement := make([][]byte, len(parts))
	for i, p := range parts {
		replacement[i] = []byte(p)
	}
	end := insertionEnd(rng.Start, text)

	batch := b.client.NewBatch()
	batch.SetBufferText(nvim.Buffer(0), rng.Start.Line, rng.Start.Character, rng.End.Line, rng.End.Character, replacement)
	batch.SetWindowCursor(nvim.Window(0), [2]int{end.Line + 1, end.Character})
	if err := batch.Execute(); err != nil {
		return fmt.Errorf("replace text: %w", err)
	}

	b.row, b.col = end.Line+1, end.Character
	return nil
}

// insertionEnd is where the cursor lands after inserting text at start
func insertionEnd(start types.Position, text string) types.Position {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return types.Position{
			Line:      start.Line + strings.Count(text, "\n"),
			Character: len(text) - i - 1,
		}
	}
	return types.Position{Line: start.Line, Character: start.Character + len(text)}
}

// ShowStatus updates the status indicator
func (b *NvimBuffer) ShowStatus(status types.Status) {
	b.executeLuaFunction("require('localcompletion').on_status(...)", string(status))
}

// Notify shows a message to the user
func (b *NvimBuffer) Notify(msg string) {
	b.executeLuaFunction("vim.notify(...)", msg)
}

// executeLuaFunction is fire-and-forget: rendering failures are logged and
// never interrupt completion
func (b *NvimBuffer) executeLuaFunction(luaCode string, args ...any) {
	if b.client == nil {
		logger.Debug("no nvim client, dropping lua call: %s", luaCode)
		return
	}
	batch := b.client.NewBatch()
	if len(args) > 0 {
		batch.ExecLua(luaCode, nil, args...)
	} else {
		batch.ExecLua(luaCode, nil, nil)
	}
	if err := batch.Execute(); err != nil {
		logger.Error("error executing lua function: %v", err)
	}
}

// suggestionToLua converts a suggestion to 1-indexed lines for the plugin
func suggestionToLua(s types.Suggestion) map[string]any {
	ghosts := make([]map[string]any, 0, len(s.Ghost))
	for _, g := range s.Ghost {
		ghosts = append(ghosts, map[string]any{
			"line":  g.Position.Line + 1,
			"col":   g.Position.Character,
			"lines": strings.Split(g.Text, "\n"),
		})
	}
	return map[string]any{
		"insert_text": s.InsertText,
		"start_line":  s.Range.Start.Line + 1,
		"start_col":   s.Range.Start.Character,
		"end_line":    s.Range.End.Line + 1,
		"end_col":     s.Range.End.Character,
		"from_cache":  s.FromCache,
		"ghost":       ghosts,
	}
}

// makeRelativeToWorkspace converts an absolute path to one relative to the
// workspace when the file lives inside it
func makeRelativeToWorkspace(absolutePath, workspacePath string) string {
	if absolutePath == "" {
		return ""
	}
	absolutePath = filepath.Clean(absolutePath)
	workspacePath = filepath.Clean(workspacePath)

	if rel, found := strings.CutPrefix(absolutePath, workspacePath+string(filepath.Separator)); found {
		return rel
	}
	return absolutePath
}
