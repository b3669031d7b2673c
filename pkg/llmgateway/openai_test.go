package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/pkg/coreerrors"
)

func TestOpenAICompatProvider_Generate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "pong"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "master-key")
	out, err := p.Generate(context.Background(), &GenerateInput{
		Model:    "gpt-test",
		Messages: []ConversationMessage{{Role: RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "pong", out.Content)
	assert.Equal(t, 5, out.TotalTokens)
	assert.Equal(t, "Bearer master-key", gotAuth)
	assert.Equal(t, "gpt-test", gotBody["model"])
}

func TestOpenAICompatProvider_PerModelKeyOverridesMaster(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "master-key")
	_, err := p.Generate(context.Background(), &GenerateInput{
		Model:  "m",
		APIKey: "model-specific",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer model-specific", gotAuth)
}

func TestOpenAICompatProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{name: "429 maps to rate limited", status: http.StatusTooManyRequests, sentinel: coreerrors.ErrRateLimited},
		{name: "500 maps to transient", status: http.StatusInternalServerError, sentinel: coreerrors.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewOpenAICompatProvider(srv.URL, "k")
			_, err := p.Generate(context.Background(), &GenerateInput{Model: "m"})
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}

	t.Run("401 is neither transient nor rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := NewOpenAICompatProvider(srv.URL, "k")
		_, err := p.Generate(context.Background(), &GenerateInput{Model: "m"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, coreerrors.ErrTransient)
		assert.NotErrorIs(t, err, coreerrors.ErrRateLimited)
	})
}

func TestOpenAICompatProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"choices":[{"delta":{"content":"hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "k")
	chunks, err := p.Stream(context.Background(), &GenerateInput{
		Model:    "m",
		Messages: []ConversationMessage{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var usage *UsageChunk
	for c := range chunks {
		switch chunk := c.(type) {
		case *TextChunk:
			text += chunk.Content
		case *UsageChunk:
			usage = chunk
		case *ErrorChunk:
			t.Fatalf("unexpected error chunk: %s", chunk.Message)
		}
	}
	assert.Equal(t, "hello", text)
	require.NotNil(t, usage, "every stream ends with a usage chunk")
	assert.Equal(t, 3, usage.TotalTokens)
}

func TestOpenAICompatProvider_StreamToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frames := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "k")
	chunks, err := p.Stream(context.Background(), &GenerateInput{Model: "m"})
	require.NoError(t, err)

	var tool *ToolCallChunk
	for c := range chunks {
		if tc, ok := c.(*ToolCallChunk); ok {
			tool = tc
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, "call_1", tool.CallID)
	assert.Equal(t, "lookup", tool.Name)
	assert.JSONEq(t, `{"q":"x"}`, tool.Arguments)
}
