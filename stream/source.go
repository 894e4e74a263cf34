package stream

import (
	"context"

	"localcompletion/client/openai"
)

// Fragments is one in-flight generation as produced by a Source
type Fragments interface {
	Fragments() <-chan string
	Done() <-chan *openai.StreamResult
	Cancel()
}

// Source starts generations
type Source interface {
	Open(ctx context.Context, req *openai.CompletionRequest) Fragments
}

// ClientSource adapts an OpenAI-compatible client to Source
type ClientSource struct {
	Client *openai.Client
}

// Open starts a token stream on the client
func (s ClientSource) Open(ctx context.Context, req *openai.CompletionRequest) Fragments {
	return s.Client.DoTokenStream(ctx, req)
}
