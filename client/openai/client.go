package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"localcompletion/logger"
)

// ErrStatus is wrapped by errors for non-200 responses
var ErrStatus = errors.New("unexpected status")

// Finish reasons reported on StreamResult
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishCancelled = "cancelled"
	FinishError     = "error"
)

// CompletionRequest matches the OpenAI Completion API format
type CompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
	N           int      `json:"n"`
	Echo        bool     `json:"echo"`
	Stream      bool     `json:"stream"`
}

// Choice is one completion alternative
type Choice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// StreamChunk represents a single SSE chunk from a streaming response
type StreamChunk struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// StreamResult is delivered once when a stream ends
type StreamResult struct {
	FinishReason string
	StoppedEarly bool
	Err          error
}

// Client is a reusable OpenAI-compatible API client
type Client struct {
	HTTPClient *http.Client
	URL        string
	APIKey     string
	Compress   bool
}

// NewClient creates a new OpenAI-compatible client. url may or may not
// carry the "/v1" suffix.
func NewClient(url, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		URL:        strings.TrimRight(url, "/"),
		APIKey:     apiKey,
	}
}

func (c *Client) completionsURL() string {
	if strings.HasSuffix(c.URL, "/v1") {
		return c.URL + "/completions"
	}
	return c.URL + "/v1/completions"
}

// Stream is an in-flight streaming completion
type Stream struct {
	fragments chan string
	done      chan *StreamResult
	cancel    context.CancelFunc
}

// Fragments yields text deltas in arrival order and is closed when the
// stream ends. A chunk that cannot be decoded yields "".
func (s *Stream) Fragments() <-chan string { return s.fragments }

// Done receives exactly one result after Fragments is closed
func (s *Stream) Done() <-chan *StreamResult { return s.done }

// Cancel aborts the request. Safe to call more than once.
func (s *Stream) Cancel() { s.cancel() }

// DoTokenStream starts a streaming completion. The stop sequences in req are
// also enforced locally, since not every server honours them: text up to the
// first stop is delivered and the stream finishes with FinishStop.
func (c *Client) DoTokenStream(ctx context.Context, req *CompletionRequest) *Stream {
	req.Stream = true
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		fragments: make(chan string),
		done:      make(chan *StreamResult, 1),
		cancel:    cancel,
	}

	go func() {
		defer cancel()
		res := c.runStream(ctx, req, s.fragments)
		close(s.fragments)
		s.done <- res
	}()

	return s
}

func (c *Client) runStream(ctx context.Context, req *CompletionRequest, out chan<- string) *StreamResult {
	resp, err := c.send(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return &StreamResult{FinishReason: FinishCancelled, Err: ctx.Err()}
		}
		return &StreamResult{FinishReason: FinishError, Err: err}
	}
	defer resp.Body.Close()

	st := &stopScanner{stops: nonEmpty(req.Stop)}
	emit := func(text string) bool {
		select {
		case out <- text:
			return true
		case <-ctx.Done():
			return false
		}
	}
	cancelled := func() *StreamResult {
		return &StreamResult{FinishReason: FinishCancelled, Err: ctx.Err()}
	}

	var finishReason string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if line == "data: [DONE]" {
			break
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil || len(chunk.Choices) == 0 {
			logger.Debug("openai stream: malformed chunk: %q", line)
			if !emit("") {
				return cancelled()
			}
			continue
		}

		choice := chunk.Choices[0]
		ready, stopped := st.push(choice.Text)
		if ready != "" || !stopped {
			if !emit(ready) {
				return cancelled()
			}
		}
		if stopped {
			logger.Debug("openai stream: stop sequence reached")
			return &StreamResult{FinishReason: FinishStop, StoppedEarly: true}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	if ctx.Err() != nil {
		return cancelled()
	}
	if err := scanner.Err(); err != nil {
		return &StreamResult{FinishReason: FinishError, Err: fmt.Errorf("failed to read stream: %w", err)}
	}
	if rest := st.flush(); rest != "" {
		if !emit(rest) {
			return cancelled()
		}
	}
	return &StreamResult{FinishReason: finishReason}
}

// send posts req and returns the response once a 200 status is confirmed
func (c *Client) send(ctx context.Context, req *CompletionRequest) (*http.Response, error) {
	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var payload io.Reader = &body
	if c.Compress {
		var compressed bytes.Buffer
		bw := brotli.NewWriterLevel(&compressed, 1)
		if _, err := bw.Write(body.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to compress request: %w", err)
		}
		if err := bw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close brotli writer: %w", err)
		}
		payload = &compressed
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.Compress {
		httpReq.Header.Set("Content-Encoding", "br")
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed with status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(msg)), ErrStatus)
	}
	return resp, nil
}

func nonEmpty(stops []string) []string {
	var out []string
	for _, s := range stops {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
