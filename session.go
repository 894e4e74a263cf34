package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/neovim/go-client/nvim"

	"localcompletion/buffer"
	"localcompletion/engine"
	"localcompletion/logger"
	"localcompletion/settings"
	"localcompletion/text"
	"localcompletion/types"
)

// session serves one connected editor
type session struct {
	ctx    context.Context
	nvim   *nvim.Nvim
	buffer *buffer.NvimBuffer
	engine *engine.Engine
	store  *settings.Store
	seq    atomic.Uint64 // latest request; older results are dropped

	mu    sync.Mutex
	shown *types.Suggestion
}

func newSession(ctx context.Context, n *nvim.Nvim, eng *engine.Engine, store *settings.Store) *session {
	buf := buffer.New()
	buf.SetClient(n)
	return &session{ctx: ctx, nvim: n, buffer: buf, engine: eng, store: store}
}

func (s *session) register() error {
	handlers := map[string]any{
		"localcompletion_request": func(_ *nvim.Nvim, trigger string) {
			s.request(types.TriggerKindFromString(trigger))
		},
		"localcompletion_cancel": func(_ *nvim.Nvim) {
			s.seq.Add(1)
			s.setShown(nil)
			s.engine.Cancel()
			s.buffer.ClearUI()
		},
		"localcompletion_accept": func(_ *nvim.Nvim) {
			s.accept()
		},
		"localcompletion_accept_word": func(_ *nvim.Nvim) {
			s.acceptWord()
		},
		"localcompletion_clear": func(_ *nvim.Nvim) {
			s.engine.ClearHistory()
		},
		"localcompletion_update_settings": func(_ *nvim.Nvim, raw string) {
			err := s.store.Update(func(st *settings.Settings) error {
				return st.ApplyJSON(raw)
			})
			if err != nil {
				logger.Error("update settings: %v", err)
				s.buffer.Notify("LocalCompletion: " + err.Error())
			}
		},
		"localcompletion_toggle": func(_ *nvim.Nvim) {
			s.toggle()
		},
		"localcompletion_status": func(_ *nvim.Nvim) (string, error) {
			return statusLabel(s.engine.Status()), nil
		},
	}
	for name, fn := range handlers {
		if err := s.nvim.RegisterHandler(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// request snapshots the buffer synchronously so the document matches the
// keystroke that triggered it, then completes in the background
func (s *session) request(trigger types.TriggerKind) {
	changed, err := s.buffer.Sync()
	if err != nil {
		logger.Error("sync: %v", err)
		return
	}
	doc := s.buffer.Document()
	seq := s.seq.Add(1)
	if changed {
		// A suggestion rendered for the previous buffer cannot be accepted here
		s.setShown(nil)
		s.buffer.ClearUI()
	}

	go func() {
		s.buffer.ShowStatus(types.StatusActive)
		suggestions := s.engine.Request(s.ctx, doc, trigger)
		if s.seq.Load() != seq {
			return
		}
		s.buffer.ShowStatus(s.engine.Status())
		if len(suggestions) == 0 {
			s.setShown(nil)
			s.buffer.ClearUI()
			return
		}
		s.setShown(&suggestions[0])
		s.buffer.ShowSuggestion(suggestions[0])
	}()
}

func (s *session) setShown(sug *types.Suggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = sug
}

// takeShown returns the visible suggestion and forgets it
func (s *session) takeShown() *types.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug := s.shown
	s.shown = nil
	return sug
}

func (s *session) accept() {
	sug := s.takeShown()
	if sug == nil {
		return
	}
	s.seq.Add(1)
	s.buffer.ClearUI()
	if err := s.buffer.Apply(*sug); err != nil {
		logger.Error("accept: %v", err)
	}
}

// acceptWord types the first word of the ghost text, then asks again so the
// rest comes back from the history
func (s *session) acceptWord() {
	sug := s.takeShown()
	if sug == nil || len(sug.Ghost) == 0 {
		return
	}
	changed, err := s.buffer.Sync()
	if err != nil {
		logger.Error("sync: %v", err)
		return
	}
	if changed {
		logger.Debug("accept word: buffer switched since the suggestion was shown")
		s.buffer.ClearUI()
		return
	}
	doc := s.buffer.Document()
	ghost := sug.Ghost[0]
	if ghost.Position != doc.Cursor {
		logger.Debug("accept word: cursor moved away from suggestion")
		return
	}

	word, _ := text.NextWord(ghost.Text)
	if err := s.buffer.InsertAtCursor(word); err != nil {
		logger.Error("accept word: %v", err)
		return
	}
	s.request(types.TriggerAutomatic)
}

func (s *session) toggle() {
	enabled, err := s.store.ToggleEnabled()
	if err != nil {
		logger.Error("toggle: %v", err)
		s.buffer.Notify("LocalCompletion: " + err.Error())
		return
	}
	if !enabled {
		s.engine.Cancel()
		s.buffer.ClearUI()
	}
	s.buffer.Notify(toggleMessage(enabled))
	s.buffer.ShowStatus(s.engine.Status())
}

func toggleMessage(enabled bool) string {
	if enabled {
		return "LocalCompletion enabled!"
	}
	return "LocalCompletion disabled!"
}
