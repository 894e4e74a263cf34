package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"localcompletion/assert"
)

func sseServer(t *testing.T, events []string, done bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, evt := range events {
			w.Write([]byte("data: " + evt + "\n\n"))
			flusher.Flush()
		}
		if done {
			w.Write([]byte("data: [DONE]\n\n"))
			flusher.Flush()
		}
	}))
}

func chunk(text string) string {
	b, _ := json.Marshal(StreamChunk{ID: "1", Choices: []Choice{{Text: text}}})
	return string(b)
}

func drain(s *Stream) ([]string, *StreamResult) {
	var frags []string
	for f := range s.Fragments() {
		frags = append(frags, f)
	}
	return frags, <-s.Done()
}

func TestCompletionsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:5001/v1", "http://localhost:5001/v1/completions"},
		{"http://localhost:5001/v1/", "http://localhost:5001/v1/completions"},
		{"http://localhost:8000", "http://localhost:8000/v1/completions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewClient(tt.base, "").completionsURL(), tt.base)
	}
}

func TestDoTokenStream_Basic(t *testing.T) {
	var got CompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"), "Accept header")
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"), "API key sent")
		json.NewDecoder(r.Body).Decode(&got)

		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for _, tok := range []string{"hello", " ", "world"} {
			w.Write([]byte("data: " + chunk(tok) + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte(`data: {"id":"1","choices":[{"text":"","finish_reason":"length"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	stream := NewClient(server.URL+"/v1", "secret").DoTokenStream(context.Background(), &CompletionRequest{
		Prompt: "say",
		Stop:   []string{"\n\n\n"},
	})
	frags, result := drain(stream)

	assert.True(t, got.Stream, "request marked as stream")
	assert.Equal(t, []string{"\n\n\n"}, got.Stop, "stops forwarded")
	assert.Equal(t, "hello world", strings.Join(frags, ""), "fragments")
	assert.Equal(t, FinishLength, result.FinishReason, "finish reason")
	assert.NoError(t, result.Err, "no error")
}

func TestDoTokenStream_StopSequence(t *testing.T) {
	server := sseServer(t, []string{chunk("hello"), chunk("\nmore")}, false)
	defer server.Close()

	stream := NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{
		Prompt: "p",
		Stop:   []string{"\n"},
	})
	frags, result := drain(stream)

	assert.Equal(t, FinishStop, result.FinishReason, "FinishReason")
	assert.True(t, result.StoppedEarly, "StoppedEarly")
	assert.Equal(t, "hello", strings.Join(frags, ""), "fragments")
}

func TestDoTokenStream_StopSplitAcrossChunks(t *testing.T) {
	server := sseServer(t, []string{chunk("a <ST"), chunk("OP> b")}, true)
	defer server.Close()

	stream := NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{
		Prompt: "p",
		Stop:   []string{"<STOP>"},
	})
	frags, result := drain(stream)

	assert.Equal(t, "a ", strings.Join(frags, ""), "text before split stop")
	assert.NoError(t, result.Err, "no error")
	for _, f := range frags {
		assert.False(t, strings.Contains(f, "<"), "partial stop never emitted")
	}
}

func TestDoTokenStream_HeldTailFlushed(t *testing.T) {
	server := sseServer(t, []string{chunk("x = 1\n"), chunk("\n")}, true)
	defer server.Close()

	stream := NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{
		Prompt: "p",
		Stop:   []string{"\n\n\n"},
	})
	frags, result := drain(stream)

	assert.Equal(t, "x = 1\n\n", strings.Join(frags, ""), "held newlines released at end")
	assert.False(t, result.StoppedEarly, "not stopped")
}

func TestDoTokenStream_MalformedChunkIsEmpty(t *testing.T) {
	server := sseServer(t, []string{chunk("a"), "not json", `{"id":"2","choices":[]}`, chunk("b")}, true)
	defer server.Close()

	frags, result := drain(NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{Prompt: "p"}))

	assert.Equal(t, []string{"a", "", "", "b"}, frags, "malformed chunks yield empty fragments")
	assert.NoError(t, result.Err, "stream not aborted")
}

func TestDoTokenStream_SkipsComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(": keep-alive\n\n"))
		w.Write([]byte("event: ping\n"))
		w.Write([]byte("data: " + chunk("text") + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	frags, _ := drain(NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{Prompt: "p"}))
	assert.Equal(t, []string{"text"}, frags, "comments skipped")
}

func TestDoTokenStream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading model"))
	}))
	defer server.Close()

	frags, result := drain(NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{Prompt: "p"}))

	assert.Len(t, frags, 0, "no fragments")
	assert.Equal(t, FinishError, result.FinishReason, "FinishReason")
	assert.True(t, errors.Is(result.Err, ErrStatus), "ErrStatus")
	assert.Contains(t, result.Err.Error(), "loading model", "body in error")
}

func TestDoTokenStream_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, result := drain(NewClient(url, "").DoTokenStream(context.Background(), &CompletionRequest{Prompt: "p"}))
	assert.Equal(t, FinishError, result.FinishReason, "FinishReason")
	assert.Error(t, result.Err, "transport error")
}

func TestDoTokenStream_Cancel(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		close(started)
		for i := 0; i < 100; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			w.Write([]byte("data: " + chunk("x") + "\n\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	stream := NewClient(server.URL, "").DoTokenStream(context.Background(), &CompletionRequest{Prompt: "p"})
	<-started
	stream.Cancel()
	stream.Cancel()

	_, result := drain(stream)
	assert.Equal(t, FinishCancelled, result.FinishReason, "FinishReason")
	assert.True(t, errors.Is(result.Err, context.Canceled), "context.Canceled")
}

func TestDoTokenStream_Compressed(t *testing.T) {
	var decoded CompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "br", r.Header.Get("Content-Encoding"), "Content-Encoding")
		raw, _ := io.ReadAll(r.Body)
		plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
		assert.NoError(t, err, "brotli decode")
		json.Unmarshal(plain, &decoded)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: " + chunk("ok") + "\n\ndata: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	client.Compress = true
	frags, result := drain(client.DoTokenStream(context.Background(), &CompletionRequest{Prompt: "compressed <prompt>"}))

	assert.Equal(t, []string{"ok"}, frags, "fragments")
	assert.NoError(t, result.Err, "no error")
	assert.Equal(t, "compressed <prompt>", decoded.Prompt, "prompt survives compression unescaped")
}

func TestStopScannerHeldSuffix(t *testing.T) {
	tests := []struct {
		name    string
		stops   []string
		chunks  []string
		ready   []string
		stopped bool
	}{
		{"no stops", nil, []string{"ab", "c"}, []string{"ab", "c"}, false},
		{"hold partial", []string{"\n\n\n"}, []string{"a\n\n", "b"}, []string{"a", "\n\nb"}, false},
		{"complete across chunks", []string{"\n\n\n"}, []string{"a\n\n", "\nz"}, []string{"a", ""}, true},
		{"earliest stop wins", []string{"END", ";"}, []string{"x;yEND"}, []string{"x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stopScanner{stops: tt.stops}
			var ready []string
			stopped := false
			for _, c := range tt.chunks {
				r, st := s.push(c)
				ready = append(ready, r)
				if st {
					stopped = true
					break
				}
			}
			assert.Equal(t, tt.ready, ready, "released text")
			assert.Equal(t, tt.stopped, stopped, "stopped")
		})
	}
}
