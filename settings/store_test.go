package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"localcompletion/assert"
	"localcompletion/engine"
	"localcompletion/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "config.yaml"), Default())
}

func TestOpenAppliesEnvAndValidates(t *testing.T) {
	path := writeFile(t, "max_lines: 4\n")
	t.Setenv(EnvConfig, `{"max_tokens": 64}`)

	st, err := Open(path)
	assert.NoError(t, err, "Open")
	assert.Equal(t, 4, st.Get().MaxLines, "file value")
	assert.Equal(t, 64, st.Get().MaxTokens, "env override")

	t.Setenv(EnvConfig, `{"max_lines": -1}`)
	_, err = Open(path)
	assert.Error(t, err, "invalid after override")
}

func TestAddEndpoint(t *testing.T) {
	st := newTestStore(t)

	existed, err := st.AddEndpoint("http://127.0.0.1:8080/v1/")
	assert.NoError(t, err, "add")
	assert.False(t, existed, "new endpoint")
	assert.Equal(t, "http://127.0.0.1:8080/v1", st.Get().ActiveEndpoint, "activated, trailing slash dropped")
	assert.Equal(t, []string{DefaultEndpoint, "http://127.0.0.1:8080/v1"}, st.Get().Endpoints, "appended")

	existed, err = st.AddEndpoint(DefaultEndpoint)
	assert.NoError(t, err, "add existing")
	assert.True(t, existed, "already known")
	assert.Equal(t, DefaultEndpoint, st.Get().ActiveEndpoint, "existing endpoint activated")
	assert.Len(t, st.Get().Endpoints, 2, "no duplicate")

	_, err = st.AddEndpoint("not a url")
	assert.True(t, errors.Is(err, ErrInvalidEndpoint), "invalid rejected")
}

func TestSetActiveEndpoint(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddEndpoint("http://b:1")
	assert.NoError(t, err, "add")

	assert.NoError(t, st.SetActiveEndpoint(DefaultEndpoint), "select known")
	assert.Equal(t, DefaultEndpoint, st.Get().ActiveEndpoint, "selected")

	err = st.SetActiveEndpoint("http://unknown:1")
	assert.True(t, errors.Is(err, ErrUnknownEndpoint), "unknown rejected")
	assert.Equal(t, DefaultEndpoint, st.Get().ActiveEndpoint, "unchanged on error")
}

func TestRemoveEndpoint(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddEndpoint("http://b:1")
	assert.NoError(t, err, "add")

	assert.NoError(t, st.RemoveEndpoint("http://b:1"), "remove active")
	assert.Equal(t, DefaultEndpoint, st.Get().ActiveEndpoint, "falls back to first")

	assert.NoError(t, st.RemoveEndpoint(DefaultEndpoint), "remove last")
	assert.Equal(t, "", st.Get().ActiveEndpoint, "no endpoint left")
	assert.Len(t, st.Get().Endpoints, 0, "empty list")

	assert.True(t, errors.Is(st.RemoveEndpoint("http://x:1"), ErrUnknownEndpoint), "unknown")
}

func TestToggleEnabledNotifies(t *testing.T) {
	st := newTestStore(t)
	var seen []bool
	st.OnChange(func(s Settings) { seen = append(seen, s.InlineSuggestEnabled) })

	enabled, err := st.ToggleEnabled()
	assert.NoError(t, err, "toggle off")
	assert.False(t, enabled, "disabled")

	enabled, err = st.ToggleEnabled()
	assert.NoError(t, err, "toggle on")
	assert.True(t, enabled, "enabled")

	assert.Equal(t, []bool{false, true}, seen, "listeners notified")
}

func TestUpdateRejectsInvalid(t *testing.T) {
	st := newTestStore(t)
	called := false
	st.OnChange(func(Settings) { called = true })

	err := st.Update(func(s *Settings) error {
		s.MaxLines = 0
		return nil
	})
	assert.Error(t, err, "invalid update")
	assert.Equal(t, 5, st.Get().MaxLines, "unchanged")
	assert.False(t, called, "no notification")
}

func TestUpdatePersists(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddEndpoint("http://b:1")
	assert.NoError(t, err, "add")
	assert.NoError(t, st.Update(func(s *Settings) error {
		s.MaxLines = 7
		s.StopSequences = []string{"###"}
		return nil
	}), "update")

	loaded, err := Load(st.Path())
	assert.NoError(t, err, "reload")
	assert.Equal(t, "http://b:1", loaded.ActiveEndpoint, "endpoint persisted")
	assert.Equal(t, 7, loaded.MaxLines, "max lines persisted")
	assert.Equal(t, []string{"###"}, loaded.StopSequences, "stops persisted")
	assert.Equal(t, st.Get().DelimiterPairs, loaded.DelimiterPairs, "pairs persisted")
}

func TestGetReturnsCopy(t *testing.T) {
	st := newTestStore(t)
	s := st.Get()
	s.Endpoints[0] = "mutated"
	s.DelimiterPairs["("] = "]"

	assert.Equal(t, DefaultEndpoint, st.Get().Endpoints[0], "slice copied")
	assert.Equal(t, ")", st.Get().DelimiterPairs["("], "map copied")
}

func TestBindPushesChangesToEngine(t *testing.T) {
	st := newTestStore(t)
	eng := engine.New(engine.Config{})

	assert.NoError(t, st.Bind(eng), "Bind")
	assert.True(t, eng.Config().Enabled, "initial config applied")
	assert.Equal(t, DefaultEndpoint, eng.Config().Endpoint, "initial endpoint")

	_, err := st.ToggleEnabled()
	assert.NoError(t, err, "ToggleEnabled")
	assert.False(t, eng.Config().Enabled, "toggle reached engine")
	assert.Equal(t, types.StatusOff, eng.Status(), "status follows toggle")
}
