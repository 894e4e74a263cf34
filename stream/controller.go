// Package stream runs a single streamed generation and decides, fragment by
// fragment, when the output is long enough to present.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"localcompletion/client/openai"
	"localcompletion/logger"
	"localcompletion/text"
	"localcompletion/types"
	"localcompletion/utils"
)

// ErrNoEndpoint is returned when no source is configured
var ErrNoEndpoint = errors.New("no completion endpoint configured")

// HardStop is always sent as the first stop sequence
const HardStop = "\n\n\n"

var tracer = otel.Tracer("localcompletion/stream")

// Options configures one run
type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	StopSequences []string

	// Delay is waited out before the request is sent
	Delay time.Duration

	// TrimPromptWhitespace strips trailing spaces and tabs from the prompt
	TrimPromptWhitespace bool

	// ContextPrefix, when set, is called after the delay and its result is
	// prepended to the prompt that is sent
	ContextPrefix    func(ctx context.Context) string
	MaxContextTokens int

	Policy Policy
}

// Result is the outcome of a run. Text is only meaningful for
// StateCompleted and StateTrimmed.
type Result struct {
	State     State
	Text      string
	Err       error
	Fragments int

	// StoppedEarly is set when the output ended at a stop sequence
	StoppedEarly bool
}

// OK reports whether the run produced presentable text
func (r Result) OK() bool {
	return r.State == StateCompleted || r.State == StateTrimmed
}

// Controller owns one generation from request to result
type Controller struct {
	source Source

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle controller. Cancelling parent cancels the controller.
func New(parent context.Context, source Source) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		source: source,
		state:  StateIdle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel aborts the run. Calling it before Run, after it finished, or more
// than once is harmless.
func (c *Controller) Cancel() {
	c.cancel()
}

// Stops builds the stop sequence list for a prompt: the hard separator, the
// text that follows the cursor, a newline for mid-line completions, then the
// configured extras.
func Stops(pc types.PromptContext, extra []string) []string {
	stops := []string{HardStop}
	if pc.HasLineEndingStop() {
		stops = append(stops, pc.LineEndingStop)
	}
	if pc.IsMidLine {
		stops = append(stops, "\n")
	}
	for _, s := range extra {
		if s != "" {
			stops = append(stops, s)
		}
	}
	return stops
}

// Run performs the generation and blocks until it reaches a terminal state
func (c *Controller) Run(pc types.PromptContext, opts Options) (res Result) {
	defer logger.Trace("stream.Run")()

	ctx, span := tracer.Start(c.ctx, "stream.Run")
	defer func() {
		span.SetAttributes(
			attribute.String("stream.state", res.State.String()),
			attribute.Int("stream.fragments", res.Fragments),
			attribute.Bool("stream.stopped_early", res.StoppedEarly),
		)
		if res.State == StateFailed {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()
	defer c.cancel()

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.finish(Result{State: StateCancelled, Err: ctx.Err()})
		case <-timer.C:
		}
	}
	if ctx.Err() != nil {
		return c.finish(Result{State: StateCancelled, Err: ctx.Err()})
	}
	if c.source == nil {
		return c.finish(Result{State: StateFailed, Err: ErrNoEndpoint})
	}

	prompt, whitespace := pc.Text, ""
	if opts.TrimPromptWhitespace {
		prompt, whitespace = text.SplitTrailingSpaces(prompt)
	}
	var prefix string
	if opts.ContextPrefix != nil {
		prefix = opts.ContextPrefix(ctx)
	}
	sent, cut := utils.FitPrompt(prefix, prompt, opts.MaxContextTokens)
	if cut {
		logger.Debug("stream: prompt trimmed to %d bytes", len(sent))
	}

	c.mu.Lock()
	c.setState(StateRequesting)
	c.mu.Unlock()

	frags := c.source.Open(ctx, &openai.CompletionRequest{
		Model:       opts.Model,
		Prompt:      sent,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        Stops(pc, opts.StopSequences),
		N:           1,
	})
	defer frags.Cancel()

	var acc string
	count := 0
	for {
		select {
		case <-ctx.Done():
			return c.finish(Result{State: StateCancelled, Err: ctx.Err(), Fragments: count})

		case frag, ok := <-frags.Fragments():
			if !ok {
				return c.finish(c.ended(ctx, frags, acc, whitespace, count))
			}
			if ctx.Err() != nil {
				return c.finish(Result{State: StateCancelled, Err: ctx.Err(), Fragments: count})
			}
			count++
			if count == 1 {
				c.mu.Lock()
				c.setState(StateStreaming)
				c.mu.Unlock()
			}

			acc += frag
			if stop, out := opts.Policy.Evaluate(acc); stop {
				logger.Debug("stream: stop policy fired after %d fragments", count)
				return c.finish(Result{
					State:     StateTrimmed,
					Text:      text.DropEchoedWhitespace(out, whitespace),
					Fragments: count,
				})
			}
		}
	}
}

// ended classifies a stream whose fragments ran out
func (c *Controller) ended(ctx context.Context, frags Fragments, acc, whitespace string, count int) Result {
	var sr *openai.StreamResult
	select {
	case sr = <-frags.Done():
	case <-ctx.Done():
		return Result{State: StateCancelled, Err: ctx.Err(), Fragments: count}
	}

	switch {
	case ctx.Err() != nil || sr.FinishReason == openai.FinishCancelled:
		return Result{State: StateCancelled, Err: context.Canceled, Fragments: count}
	case sr.Err != nil:
		return Result{State: StateFailed, Err: fmt.Errorf("stream failed: %w", sr.Err), Fragments: count}
	}
	if sr.StoppedEarly {
		logger.Debug("stream: ended at a stop sequence after %d fragments", count)
	}
	return Result{
		State:        StateCompleted,
		Text:         text.DropEchoedWhitespace(acc, whitespace),
		Fragments:    count,
		StoppedEarly: sr.StoppedEarly,
	}
}

// finish records the terminal state. Cancellation observed at this point
// wins over any result still being committed.
func (c *Controller) finish(r Result) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.OK() && c.ctx.Err() != nil {
		r = Result{State: StateCancelled, Err: c.ctx.Err(), Fragments: r.Fragments}
	}
	c.setState(r.State)
	if r.State == StateFailed {
		logger.Error("stream: %v", r.Err)
	}
	return r
}
