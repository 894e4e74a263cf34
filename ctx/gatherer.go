package ctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"localcompletion/logger"
)

// GatherTimeout is the maximum time allowed for all context files to load
const GatherTimeout = 200 * time.Millisecond

// MaxFileBytes caps how much of a single context file is included
const MaxFileBytes = 64 * 1024

// SourceRequest describes the document a completion is requested for
type SourceRequest struct {
	FilePath string
}

// readFunc loads one file. Swapped in tests.
type readFunc func(path string) ([]byte, error)

// Gatherer reads extra files to prepend to prompts
type Gatherer struct {
	paths    []string
	timeout  time.Duration
	maxBytes int
	read     readFunc
}

// NewGatherer creates a Gatherer for the given context file paths
func NewGatherer(paths []string) *Gatherer {
	return &Gatherer{
		paths:    paths,
		timeout:  GatherTimeout,
		maxBytes: MaxFileBytes,
		read:     os.ReadFile,
	}
}

// Gather reads every configured file in parallel and renders them as a
// prompt prefix, each under a "// File: <path>" header. Files that fail
// to load before the timeout are left out. The requested document itself
// is never included.
func (g *Gatherer) Gather(ctx context.Context, req *SourceRequest) string {
	if g == nil || len(g.paths) == 0 {
		return ""
	}
	defer logger.Trace("ctx.Gather")()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results := make([]string, len(g.paths))
	var wg sync.WaitGroup

	for i, p := range g.paths {
		if req != nil && req.FilePath != "" && samePath(p, req.FilePath) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			content, err := g.load(ctx, p)
			if err != nil {
				logger.Debug("context file %s skipped: %v", p, err)
				return
			}
			results[i] = content
		}()
	}

	wg.Wait()

	var b strings.Builder
	for i, content := range results {
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "// File: %s\n%s", g.paths[i], content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *Gatherer) load(ctx context.Context, path string) (string, error) {
	type loaded struct {
		data []byte
		err  error
	}
	ch := make(chan loaded, 1)
	go func() {
		data, err := g.read(path)
		ch <- loaded{data, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil {
			return "", fmt.Errorf("read context file: %w", l.err)
		}
		if len(l.data) > g.maxBytes {
			l.data = l.data[:g.maxBytes]
		}
		return string(l.data), nil
	}
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
