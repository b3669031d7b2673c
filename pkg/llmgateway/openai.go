package llmgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/version"
)

// OpenAICompatProvider implements Provider against any
// OpenAI-compatible chat completions endpoint (OpenAI itself, a LiteLLM
// proxy, OpenRouter, a local vLLM/Ollama server). Per-model base URL
// and key arrive on GenerateInput; the constructor values are the
// fallback for catalog entries that don't override them.
type OpenAICompatProvider struct {
	baseURL   string
	masterKey string
	client    *http.Client
}

// NewOpenAICompatProvider builds a provider with fallback endpoint
// credentials, typically the provider base URL and master key from the
// environment (spec §6).
func NewOpenAICompatProvider(baseURL, masterKey string) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAICompatProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		// Per-call deadlines come from the gateway's context; the
		// client-level timeout is a backstop only.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

func (p *OpenAICompatProvider) endpoint(input *GenerateInput) string {
	base := p.baseURL
	if input.BaseURL != "" {
		base = strings.TrimRight(input.BaseURL, "/")
	}
	return base + "/chat/completions"
}

func (p *OpenAICompatProvider) key(input *GenerateInput) string {
	if input.APIKey != "" {
		return input.APIKey
	}
	return p.masterKey
}

func (p *OpenAICompatProvider) requestBody(input *GenerateInput, stream bool) map[string]any {
	msgs := make([]oaiMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		msg := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.ToolName}
		for _, tc := range m.ToolCalls {
			call := oaiToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":    input.Model,
		"messages": msgs,
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if len(input.Tools) > 0 {
		tools := make([]map[string]any, 0, len(input.Tools))
		for _, t := range input.Tools {
			var params any
			if t.ParametersSchema != "" {
				_ = json.Unmarshal([]byte(t.ParametersSchema), &params)
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		body["tools"] = tools
	}
	return body
}

// doRequest posts the body and returns the response stream, mapping
// HTTP-level failures onto the core error kinds so the gateway's
// breaker and fallback logic see them correctly.
func (p *OpenAICompatProvider) doRequest(ctx context.Context, input *GenerateInput, body map[string]any) (io.ReadCloser, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(input), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.key(input))
	req.Header.Set("User-Agent", version.Full())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &coreerrors.RateLimitedError{Reason: "provider returned 429"}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider %d: %s", coreerrors.ErrTransient, resp.StatusCode, detail)
	default:
		return nil, fmt.Errorf("provider %d: %s", resp.StatusCode, detail)
	}
}

// Generate performs one non-streaming completion.
func (p *OpenAICompatProvider) Generate(ctx context.Context, input *GenerateInput) (*Completion, error) {
	body, err := p.doRequest(ctx, input, p.requestBody(input, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp oaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	out := &Completion{Content: resp.Choices[0].Message.Content}
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.PromptTokens
		out.OutputTokens = resp.Usage.CompletionTokens
		out.TotalTokens = resp.Usage.TotalTokens
	}
	return out, nil
}

// Stream performs a streaming completion, decoding the SSE frames into
// the gateway's chunk types. Accumulated tool calls are emitted once
// their arguments are complete, before the closing UsageChunk.
func (p *OpenAICompatProvider) Stream(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	body, err := p.doRequest(ctx, input, p.requestBody(input, true))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer body.Close()

		type toolAcc struct {
			id, name, args string
		}
		accs := make(map[int]*toolAcc)
		var usage *oaiUsage

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				select {
				case out <- &TextChunk{Content: delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				acc, ok := accs[tc.Index]
				if !ok {
					acc = &toolAcc{id: tc.ID}
					accs[tc.Index] = acc
				}
				if tc.Function.Name != "" {
					acc.name = strings.TrimSpace(tc.Function.Name)
				}
				acc.args += tc.Function.Arguments
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- &ErrorChunk{Message: "stream read: " + err.Error(), Retryable: true}
			return
		}
		if ctx.Err() != nil {
			return
		}

		indexes := make([]int, 0, len(accs))
		for i := range accs {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			acc := accs[i]
			select {
			case out <- &ToolCallChunk{CallID: acc.id, Name: acc.name, Arguments: acc.args}:
			case <-ctx.Done():
				return
			}
		}

		final := &UsageChunk{}
		if usage != nil {
			final.InputTokens = usage.PromptTokens
			final.OutputTokens = usage.CompletionTokens
			final.TotalTokens = usage.TotalTokens
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
