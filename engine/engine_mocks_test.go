package engine

import (
	"context"
	"sync"

	"localcompletion/client/openai"
	"localcompletion/stream"
)

// --- Mock implementations ---

// mockStream replays a fixed list of fragments
type mockStream struct {
	frags chan string
	done  chan *openai.StreamResult
	stop  chan struct{}
	once  sync.Once
}

func (m *mockStream) Fragments() <-chan string          { return m.frags }
func (m *mockStream) Done() <-chan *openai.StreamResult { return m.done }
func (m *mockStream) Cancel()                           { m.once.Do(func() { close(m.stop) }) }

// mockSource implements stream.Source for testing
type mockSource struct {
	mu        sync.Mutex
	fragments []string
	err       error
	hang      bool          // block after the fragments until cancelled
	opened    chan struct{} // signalled on every Open when set
	panicMsg  string

	// Track calls
	requests []*openai.CompletionRequest
	consumed int
}

func (s *mockSource) Open(ctx context.Context, req *openai.CompletionRequest) stream.Fragments {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	frags, err, hang := s.fragments, s.err, s.hang
	s.mu.Unlock()

	if s.opened != nil {
		s.opened <- struct{}{}
	}

	m := &mockStream{
		frags: make(chan string),
		done:  make(chan *openai.StreamResult, 1),
		stop:  make(chan struct{}),
	}
	go func() {
		finish := func(r *openai.StreamResult) {
			close(m.frags)
			m.done <- r
		}
		cancelled := &openai.StreamResult{FinishReason: openai.FinishCancelled, Err: context.Canceled}

		for _, f := range frags {
			select {
			case m.frags <- f:
				s.mu.Lock()
				s.consumed++
				s.mu.Unlock()
			case <-m.stop:
				finish(cancelled)
				return
			case <-ctx.Done():
				finish(cancelled)
				return
			}
		}
		if hang {
			select {
			case <-m.stop:
			case <-ctx.Done():
			}
			finish(cancelled)
			return
		}
		if err != nil {
			finish(&openai.StreamResult{FinishReason: openai.FinishError, Err: err})
			return
		}
		finish(&openai.StreamResult{FinishReason: openai.FinishStop})
	}()
	return m
}

func (s *mockSource) set(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = fragments
}

func (s *mockSource) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *mockSource) consumedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

func (s *mockSource) lastRequest() *openai.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Endpoint:    "http://localhost:5001/v1",
		MaxLines:    5,
		MaxTokens:   128,
		ReduceCalls: true,
		HistorySize: 10,
	}
}

func newTestEngine(src *mockSource, cfg Config) *Engine {
	return New(cfg, WithSourceFactory(func(Config) stream.Source { return src }))
}
