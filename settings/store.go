package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"localcompletion/engine"
	"localcompletion/logger"
)

// Store holds the live settings and writes every change back to disk.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	current  Settings
	onChange []func(Settings)
}

// Open loads path (defaults when missing), applies the JSON override from
// the environment and validates the result
func Open(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Store{path: path, current: s}, nil
}

// NewStore wraps already loaded settings. An empty path disables saving.
func NewStore(path string, s Settings) *Store {
	return &Store{path: path, current: s.clone()}
}

// Path returns the file the store writes to
func (st *Store) Path() string { return st.path }

// Get returns a copy of the current settings
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.clone()
}

// OnChange registers fn to run after every successful update
func (st *Store) OnChange(fn func(Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onChange = append(st.onChange, fn)
}

// Update applies fn to a copy of the settings, validates and saves it, then
// notifies listeners. Nothing changes if fn or validation fails.
func (st *Store) Update(fn func(*Settings) error) error {
	st.mu.Lock()
	next := st.current.clone()
	if err := fn(&next); err != nil {
		st.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		st.mu.Unlock()
		return err
	}
	if err := st.write(next); err != nil {
		st.mu.Unlock()
		return err
	}
	st.current = next
	listeners := slices.Clone(st.onChange)
	st.mu.Unlock()

	for _, fn := range listeners {
		fn(next.clone())
	}
	return nil
}

// Bind keeps eng configured from the store, now and after every change
func (st *Store) Bind(eng *engine.Engine) error {
	cfg, err := st.Get().EngineConfig()
	if err != nil {
		return err
	}
	eng.UpdateSettings(cfg)
	st.OnChange(func(s Settings) {
		cfg, err := s.EngineConfig()
		if err != nil {
			logger.Error("settings: engine config: %v", err)
			return
		}
		eng.UpdateSettings(cfg)
	})
	return nil
}

// write persists s atomically. Caller holds mu.
func (st *Store) write(s Settings) error {
	if st.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encoding: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("settings: creating dir: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("settings: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("settings: replacing %s: %w", st.path, err)
	}
	logger.Debug("settings: saved %s", st.path)
	return nil
}

func normalizeEndpoint(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// SetActiveEndpoint selects one of the known endpoints
func (st *Store) SetActiveEndpoint(raw string) error {
	ep := normalizeEndpoint(raw)
	return st.Update(func(s *Settings) error {
		if !slices.Contains(s.Endpoints, ep) {
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
		}
		s.ActiveEndpoint = ep
		return nil
	})
}

// AddEndpoint adds an endpoint and makes it active. existed reports whether
// it was already known, in which case it is only activated.
func (st *Store) AddEndpoint(raw string) (existed bool, err error) {
	ep := normalizeEndpoint(raw)
	if err := CheckEndpoint(ep); err != nil {
		return false, err
	}
	err = st.Update(func(s *Settings) error {
		existed = slices.Contains(s.Endpoints, ep)
		if !existed {
			s.Endpoints = append(s.Endpoints, ep)
		}
		s.ActiveEndpoint = ep
		return nil
	})
	return existed, err
}

// RemoveEndpoint forgets an endpoint. When it was active, the first
// remaining endpoint becomes active.
func (st *Store) RemoveEndpoint(raw string) error {
	ep := normalizeEndpoint(raw)
	return st.Update(func(s *Settings) error {
		i := slices.Index(s.Endpoints, ep)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
		}
		s.Endpoints = slices.Delete(s.Endpoints, i, i+1)
		if s.ActiveEndpoint == ep {
			s.ActiveEndpoint = ""
			if len(s.Endpoints) > 0 {
				s.ActiveEndpoint = s.Endpoints[0]
			}
		}
		return nil
	})
}

// ToggleEnabled flips inline suggestions and returns the new state
func (st *Store) ToggleEnabled() (enabled bool, err error) {
	err = st.Update(func(s *Settings) error {
		s.InlineSuggestEnabled = !s.InlineSuggestEnabled
		enabled = s.InlineSuggestEnabled
		return nil
	})
	return enabled, err
}
