// Package engine answers completion requests: from the history when a
// previous generation already covers the cursor, otherwise by streaming a
// new one from the configured endpoint.
package engine

import (
	"context"
	"sync"
	"time"

	"localcompletion/client/openai"
	pctx "localcompletion/ctx"
	"localcompletion/history"
	"localcompletion/logger"
	"localcompletion/metrics"
	"localcompletion/stream"
	"localcompletion/text"
	"localcompletion/types"
)

// Config is an immutable snapshot of everything a request needs.
// Build a new one and pass it to UpdateSettings to change behaviour.
type Config struct {
	Enabled bool

	Endpoint         string
	APIKey           string
	CompressRequests bool

	Model         string
	Temperature   float64
	MaxTokens     int
	StopSequences []string

	MaxLines     int
	BalanceSlack int
	Pairs        text.Pairs

	Debounce             time.Duration
	ReduceCalls          bool
	SkipWhileWidget      bool
	TrimPromptWhitespace bool

	ContextFiles     []string
	MaxContextTokens int

	HistorySize int
}

// SourceFactory builds the endpoint client for a config. It returns nil when
// the config has no usable endpoint.
type SourceFactory func(cfg Config) stream.Source

// DefaultSourceFactory talks to an OpenAI-compatible endpoint
func DefaultSourceFactory(cfg Config) stream.Source {
	if cfg.Endpoint == "" {
		return nil
	}
	client := openai.NewClient(cfg.Endpoint, cfg.APIKey)
	client.Compress = cfg.CompressRequests
	return stream.ClientSource{Client: client}
}

// Option customises an Engine
type Option func(*Engine)

// WithSourceFactory replaces how endpoint clients are built
func WithSourceFactory(f SourceFactory) Option {
	return func(e *Engine) { e.newSource = f }
}

// WithMetrics records request outcomes on c
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// Engine is safe for concurrent use. At most one generation is in flight:
// each request cancels the one before it.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	source   stream.Source
	gatherer *pctx.Gatherer
	active   *stream.Controller

	history   *history.History
	metrics   *metrics.Collector
	newSource SourceFactory
}

// New creates an engine for cfg
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		history:   history.New(cfg.HistorySize),
		newSource: DefaultSourceFactory,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.apply(cfg)
	return e
}

// UpdateSettings swaps in a new configuration and rebuilds the endpoint
// client. The history is kept; call ClearHistory to drop it.
func (e *Engine) UpdateSettings(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.HistorySize != e.cfg.HistorySize {
		e.history.Resize(cfg.HistorySize)
	}
	e.apply(cfg)
	logger.Info("engine: settings updated (endpoint=%s enabled=%t max_lines=%d)", cfg.Endpoint, cfg.Enabled, cfg.MaxLines)
}

// apply installs cfg. Caller holds mu or owns e exclusively.
func (e *Engine) apply(cfg Config) {
	cfg.StopSequences = append([]string(nil), cfg.StopSequences...)
	cfg.ContextFiles = append([]string(nil), cfg.ContextFiles...)
	e.cfg = cfg
	e.source = e.newSource(cfg)
	e.gatherer = nil
	if len(cfg.ContextFiles) > 0 {
		e.gatherer = pctx.NewGatherer(cfg.ContextFiles)
	}
}

// Config returns the current configuration
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// ClearHistory drops every cached generation
func (e *Engine) ClearHistory() {
	e.history.Clear()
	e.metrics.SetHistorySize(0)
	logger.Info("engine: history cleared")
}

// History exposes the cache, mainly for inspection
func (e *Engine) History() *history.History {
	return e.history
}

// Status reports what the editor indicator should show
func (e *Engine) Status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case !e.cfg.Enabled:
		return types.StatusOff
	case e.active != nil && !e.active.State().Terminal():
		return types.StatusActive
	default:
		return types.StatusInactive
	}
}

// Cancel aborts the in-flight generation, if any
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		e.active.Cancel()
	}
}

// begin cancels the previous generation and registers a new controller.
// The returned func unregisters it.
func (e *Engine) begin(ctx context.Context) (*stream.Controller, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.active.Cancel()
	}
	c := stream.New(ctx, e.source)
	e.active = c

	return c, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.active == c {
			e.active = nil
		}
	}
}

// commit caches a finished generation unless a newer one replaced c
func (e *Engine) commit(c *stream.Controller, input, completion string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != c {
		return false
	}
	e.history.Add(input, completion)
	return true
}

// snapshot returns the config and gatherer for one request
func (e *Engine) snapshot() (Config, *pctx.Gatherer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.gatherer
}
