package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pctx "localcompletion/ctx"
	"localcompletion/logger"
	"localcompletion/metrics"
	"localcompletion/stream"
	"localcompletion/text"
	"localcompletion/types"
)

var tracer = otel.Tracer("localcompletion/engine")

// Request returns suggestions for the document, or nil when there are none.
// It never fails: errors are logged and reported as no suggestion.
func (e *Engine) Request(ctx context.Context, doc types.DocumentState, trigger types.TriggerKind) (out []types.Suggestion) {
	id := uuid.NewString()
	log := logger.ForRequest(id[:8])
	start := time.Now()
	outcome := metrics.OutcomeEmpty

	ctx, span := tracer.Start(ctx, "engine.Request",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("request.trigger", trigger.String()),
			attribute.Int("cursor.line", doc.Cursor.Line),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in completion request: %v", r)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			out = nil
			outcome = metrics.OutcomeFailed
		}
		span.SetAttributes(
			attribute.String("request.outcome", outcome),
			attribute.Int("request.suggestions", len(out)),
		)
		span.End()
		e.metrics.ObserveRequest(outcome, time.Since(start))
	}()

	cfg, gatherer := e.snapshot()
	automatic := trigger == types.TriggerAutomatic

	if automatic && !cfg.Enabled {
		outcome = metrics.OutcomeDisabled
		return nil
	}

	pc := pctx.Assemble(doc.Lines, doc.Cursor)

	if automatic && !pc.IsMidLine {
		if hits := e.history.Lookup(pc.Text); hits != nil {
			log.Debug("cache hit: %d candidate(s)", len(hits))
			outcome = metrics.OutcomeCacheHit
			e.Cancel()
			return cachedSuggestions(doc, hits)
		}
	}

	if automatic {
		if cfg.SkipWhileWidget && doc.WidgetVisible {
			outcome = metrics.OutcomeSkippedWidget
			return nil
		}
		if cfg.ReduceCalls && endsWithLetter(pc.Text) {
			outcome = metrics.OutcomeSkippedReduce
			return nil
		}
	}

	c, done := e.begin(ctx)
	defer done()

	var prefix func(context.Context) string
	if gatherer != nil {
		prefix = func(ctx context.Context) string {
			return gatherer.Gather(ctx, &pctx.SourceRequest{FilePath: doc.Path})
		}
	}

	streamStart := time.Now()
	res := c.Run(pc, stream.Options{
		Model:                cfg.Model,
		Temperature:          cfg.Temperature,
		MaxTokens:            cfg.MaxTokens,
		StopSequences:        cfg.StopSequences,
		Delay:                cfg.Debounce,
		TrimPromptWhitespace: cfg.TrimPromptWhitespace,
		ContextPrefix:        prefix,
		MaxContextTokens:     cfg.MaxContextTokens,
		Policy: stream.Policy{
			MaxLines:     cfg.MaxLines,
			Pairs:        cfg.Pairs,
			BalanceSlack: cfg.BalanceSlack,
		},
	})
	if res.State != stream.StateCancelled || res.Fragments > 0 {
		e.metrics.ObserveStream(res.State.String(), time.Since(streamStart), res.Fragments)
	}

	switch res.State {
	case stream.StateCancelled:
		log.Debug("generation cancelled")
		outcome = metrics.OutcomeCancelled
		return nil
	case stream.StateFailed:
		log.Error("generation failed: %v", res.Err)
		span.RecordError(res.Err)
		outcome = metrics.OutcomeFailed
		return nil
	}

	completion := text.TrimTrailingBlankLines(res.Text)
	if strings.TrimSpace(completion) == "" {
		log.Debug("empty completion discarded")
		outcome = metrics.OutcomeEmpty
		return nil
	}

	// A later request may have replaced us after the stream finished
	if ctx.Err() != nil || !e.commit(c, pc.Text, completion) {
		outcome = metrics.OutcomeCancelled
		return nil
	}
	e.metrics.SetHistorySize(e.history.Len())

	if res.State == stream.StateTrimmed {
		outcome = metrics.OutcomeTrimmed
	} else {
		outcome = metrics.OutcomeCompleted
	}
	log.Debug("%s: %q", res.State, completion)

	return []types.Suggestion{freshSuggestion(doc, pc, completion)}
}

// freshSuggestion replaces everything from the document start to the cursor
func freshSuggestion(doc types.DocumentState, pc types.PromptContext, completion string) types.Suggestion {
	insert := pc.Text + completion
	rng := types.Range{End: cursorOf(doc)}
	return types.Suggestion{
		InsertText: insert,
		Range:      rng,
		Ghost:      text.GhostText(pc.Text, insert, rng.Start),
	}
}

// cachedSuggestions replace the current line up to the cursor
func cachedSuggestions(doc types.DocumentState, candidates []string) []types.Suggestion {
	cur := cursorOf(doc)
	rng := types.Range{
		Start: types.Position{Line: cur.Line},
		End:   cur,
	}
	existing := ""
	if cur.Line < len(doc.Lines) {
		existing = doc.Lines[cur.Line][:cur.Character]
	}

	out := make([]types.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, types.Suggestion{
			InsertText: c,
			Range:      rng,
			Ghost:      text.GhostText(existing, c, rng.Start),
			FromCache:  true,
		})
	}
	return out
}

// cursorOf clamps the cursor to the document the same way Assemble does
func cursorOf(doc types.DocumentState) types.Position {
	if len(doc.Lines) == 0 {
		return types.Position{}
	}
	line := min(max(doc.Cursor.Line, 0), len(doc.Lines)-1)
	char := min(max(doc.Cursor.Character, 0), len(doc.Lines[line]))
	return types.Position{Line: line, Character: char}
}

func endsWithLetter(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
