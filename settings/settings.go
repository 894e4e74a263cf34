// Package settings loads, validates and persists user configuration.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"localcompletion/engine"
	"localcompletion/history"
	"localcompletion/logger"
	"localcompletion/text"
)

// EnvConfig names the variable holding a JSON override of the settings file
const EnvConfig = "LOCALCOMPLETION_CONFIG"

// DefaultEndpoint is the OpenAI-compatible server used out of the box
const DefaultEndpoint = "http://localhost:5001/v1"

var (
	// ErrInvalidEndpoint is returned for endpoint URLs that cannot be used
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrUnknownEndpoint is returned when selecting an endpoint not in the list
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Settings is the user-facing configuration
type Settings struct {
	ActiveEndpoint string   `yaml:"active_endpoint" json:"active_endpoint"`
	Endpoints      []string `yaml:"endpoints" json:"endpoints"`
	APIKey         string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	Model         string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature   float64  `yaml:"temperature" json:"temperature"`
	MaxTokens     int      `yaml:"max_tokens" json:"max_tokens"`
	StopSequences []string `yaml:"stop_sequences" json:"stop_sequences"`

	MaxLines          int               `yaml:"max_lines" json:"max_lines"`
	BalanceSlackLines int               `yaml:"balance_slack_lines" json:"balance_slack_lines"`
	DelimiterPairs    map[string]string `yaml:"delimiter_pairs" json:"delimiter_pairs"`

	CompletionTimeout      int  `yaml:"completion_timeout" json:"completion_timeout"` // debounce, ms
	ReduceCalls            bool `yaml:"reduce_calls" json:"reduce_calls"`
	SkipAutocompleteWidget bool `yaml:"skip_autocomplete_widget" json:"skip_autocomplete_widget"`
	InlineSuggestEnabled   bool `yaml:"inline_suggest_enabled" json:"inline_suggest_enabled"`
	TrimPromptWhitespace   bool `yaml:"trim_prompt_whitespace" json:"trim_prompt_whitespace"`

	ContextFiles     []string `yaml:"context_files" json:"context_files"`
	MaxContextTokens int      `yaml:"max_context_tokens" json:"max_context_tokens"`

	HistorySize      int    `yaml:"history_size" json:"history_size"`
	CompressRequests bool   `yaml:"compress_requests" json:"compress_requests"`
	LogLevel         string `yaml:"log_level" json:"log_level"`
	HTTPAddr         string `yaml:"http_addr" json:"http_addr"`
}

// Default returns the settings used when nothing is configured
func Default() Settings {
	return Settings{
		ActiveEndpoint:       DefaultEndpoint,
		Endpoints:            []string{DefaultEndpoint},
		Temperature:          0.2,
		MaxTokens:            256,
		MaxLines:             5,
		DelimiterPairs:       map[string]string{"(": ")", "[": "]", "{": "}", "<": ">"},
		ReduceCalls:          true,
		InlineSuggestEnabled: true,
		HistorySize:          history.DefaultCapacity,
		LogLevel:             "info",
		HTTPAddr:             "127.0.0.1:7878",
	}
}

// DefaultPath returns the settings file location under the user config dir
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("settings: locating config dir: %w", err)
	}
	return filepath.Join(dir, "localcompletion", "config.yaml"), nil
}

// Load reads a YAML settings file on top of the defaults, expanding
// environment variables first. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("settings: %s not found, using defaults", path)
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("settings: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return s, fmt.Errorf("settings: expanding variables in %s: %w", path, err)
	}

	err = s.replacingPairs(func() error { return yaml.Unmarshal(expanded, &s) })
	if err != nil {
		return s, fmt.Errorf("settings: parsing %s: %w", path, err)
	}
	return s, nil
}

// ApplyJSON overlays the keys present in a JSON document
func (s *Settings) ApplyJSON(raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.replacingPairs(func() error { return json.Unmarshal([]byte(raw), s) }); err != nil {
		return fmt.Errorf("settings: invalid JSON: %w", err)
	}
	return nil
}

// replacingPairs runs decode so that a delimiter table in the document
// replaces the current one instead of being merged into it
func (s *Settings) replacingPairs(decode func() error) error {
	prev := s.DelimiterPairs
	s.DelimiterPairs = nil
	err := decode()
	if s.DelimiterPairs == nil {
		s.DelimiterPairs = prev
	}
	return err
}

// ApplyEnv overlays the JSON held in LOCALCOMPLETION_CONFIG, if set
func (s *Settings) ApplyEnv() error {
	return s.ApplyJSON(os.Getenv(EnvConfig))
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[2] != nil {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}

// Validate checks every field and reports all problems at once
func (s Settings) Validate() error {
	var errs []error

	if s.ActiveEndpoint != "" {
		if err := CheckEndpoint(s.ActiveEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("settings: active_endpoint: %w", err))
		}
	}
	for i, ep := range s.Endpoints {
		if err := CheckEndpoint(ep); err != nil {
			errs = append(errs, fmt.Errorf("settings: endpoints[%d]: %w", i, err))
		}
	}

	if s.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("settings: max_lines must be positive, got %d", s.MaxLines))
	}
	if s.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("settings: max_tokens must be positive, got %d", s.MaxTokens))
	}
	if s.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("settings: history_size must be positive, got %d", s.HistorySize))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("settings: temperature must be within [0, 2], got %g", s.Temperature))
	}
	if s.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("settings: completion_timeout must not be negative, got %d", s.CompletionTimeout))
	}
	if s.BalanceSlackLines < 0 {
		errs = append(errs, fmt.Errorf("settings: balance_slack_lines must not be negative, got %d", s.BalanceSlackLines))
	}
	if s.MaxContextTokens < 0 {
		errs = append(errs, fmt.Errorf("settings: max_context_tokens must not be negative, got %d", s.MaxContextTokens))
	}
	if _, err := text.NewPairs(s.DelimiterPairs); err != nil {
		errs = append(errs, fmt.Errorf("settings: delimiter_pairs: %w", err))
	}

	return errors.Join(errs...)
}

// CheckEndpoint reports whether raw is an absolute http(s) URL
func CheckEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidEndpoint, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	return nil
}

// EngineConfig assembles the immutable engine configuration
func (s Settings) EngineConfig() (engine.Config, error) {
	pairs, err := text.NewPairs(s.DelimiterPairs)
	if err != nil {
		return engine.Config{}, fmt.Errorf("settings: delimiter_pairs: %w", err)
	}

	return engine.Config{
		Enabled:              s.InlineSuggestEnabled,
		Endpoint:             s.ActiveEndpoint,
		APIKey:               s.APIKey,
		CompressRequests:     s.CompressRequests,
		Model:                s.Model,
		Temperature:          s.Temperature,
		MaxTokens:            s.MaxTokens,
		StopSequences:        s.StopSequences,
		MaxLines:             s.MaxLines,
		BalanceSlack:         s.BalanceSlackLines,
		Pairs:                pairs,
		Debounce:             time.Duration(s.CompletionTimeout) * time.Millisecond,
		ReduceCalls:          s.ReduceCalls,
		SkipWhileWidget:      s.SkipAutocompleteWidget,
		TrimPromptWhitespace: s.TrimPromptWhitespace,
		ContextFiles:         s.ContextFiles,
		MaxContextTokens:     s.MaxContextTokens,
		HistorySize:          s.HistorySize,
	}, nil
}

// clone returns a deep copy so callers never share slices or maps
func (s Settings) clone() Settings {
	c := s
	c.Endpoints = append([]string(nil), s.Endpoints...)
	c.StopSequences = append([]string(nil), s.StopSequences...)
	c.ContextFiles = append([]string(nil), s.ContextFiles...)
	if s.DelimiterPairs != nil {
		c.DelimiterPairs = make(map[string]string, len(s.DelimiterPairs))
		for k, v := range s.DelimiterPairs {
			c.DelimiterPairs[k] = v
		}
	}
	return c
}
