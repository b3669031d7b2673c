package llmgateway

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/skill"
)

// DefaultTimeout is the gateway-wide non-streaming completion deadline
// applied when the caller does not supply a tighter one (spec §4.2).
const DefaultTimeout = 120 * time.Second

// StreamIdleTimeout bounds the gap between consecutive chunks once a
// stream has started (spec §4.2's "per-chunk idle deadline of 30s").
const StreamIdleTimeout = 30 * time.Second

// Gateway is the single entry point for model-bound calls (spec §4.2):
// it resolves a model via Selector, enforces rate limits, wraps the
// provider call with a timeout and the skill framework's circuit
// breaker, and exposes a streaming variant with idle-chunk deadlines.
type Gateway struct {
	models    *config.ModelRegistry
	providers *ProviderRegistry
	selector  *Selector
	limiter   *RateLimiter
	breakers  *skill.BreakerStore
}

// NewGateway wires a Gateway over the given catalog, provider registry,
// and shared breaker store (the same BreakerStore instance the skill
// framework uses, keyed by the "model:" namespace — spec §3's Ownership
// paragraph gives the LLM Gateway exclusive ownership of model circuit
// state, which this shared store still honors since no other component
// ever calls BreakerStore with a "model:" target).
func NewGateway(models *config.ModelRegistry, routing *config.RoutingConfig, providers *ProviderRegistry, breakers *skill.BreakerStore, limiter *RateLimiter) *Gateway {
	return &Gateway{
		models:    models,
		providers: providers,
		selector:  NewSelector(models, routing, breakers, limiter),
		limiter:   limiter,
		breakers:  breakers,
	}
}

// CompletionRequest is the caller-facing input to Complete/Stream: an
// unresolved conversation plus optional routing hints.
type CompletionRequest struct {
	SessionID   string
	Messages    []ConversationMessage
	Tools       []ToolDefinition
	PinnedModel string        // caller override, empty for normal tier routing
	Timeout     time.Duration // 0 = DefaultTimeout
}

// CompletionResult wraps a Completion with the model id that served it,
// for callers (agent pool, orchestrator) that log or bill per model.
type CompletionResult struct {
	ModelID string
	*Completion
}

// Complete resolves a model, enforces its rate limit, and performs one
// non-streaming call with a deadline, recording circuit breaker and rate
// limiter outcomes. On RateLimited it either waits the model's cooldown
// and retries once, or falls through to the tier chain, per spec §4.2.
func (g *Gateway) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	deadline := req.Timeout
	if deadline <= 0 || deadline > DefaultTimeout {
		deadline = DefaultTimeout
	}

	modelID, m, provider, err := g.resolve(ctx, req.PinnedModel)
	if err != nil {
		return nil, err
	}

	if !g.limiter.UnderRPM(ctx, modelID, m.MaxRPM) {
		if m.CooldownSeconds > 0 && time.Duration(m.CooldownSeconds)*time.Second < deadline {
			slog.Warn("model rate limited, waiting cooldown and retrying", "model", modelID, "cooldown_s", m.CooldownSeconds)
			select {
			case <-time.After(time.Duration(m.CooldownSeconds) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if !g.limiter.UnderRPM(ctx, modelID, m.MaxRPM) {
				return g.fallThroughTierChain(ctx, req, deadline, modelID)
			}
		} else {
			return g.fallThroughTierChain(ctx, req, deadline, modelID)
		}
	}

	return g.callOne(ctx, modelID, m, provider, req, deadline)
}

// fallThroughTierChain retries selection excluding nothing in particular
// (spec §4.2 doesn't ask the gateway to remember the rejected id across
// calls) but in practice the excluded model is no longer eligible because
// it is still over its RPM bound, so the selector's own eligibility check
// skips it naturally.
func (g *Gateway) fallThroughTierChain(ctx context.Context, req *CompletionRequest, deadline time.Duration, excluded string) (*CompletionResult, error) {
	modelID, m, provider, err := g.resolve(ctx, "")
	if err != nil {
		return nil, err
	}
	if modelID == excluded {
		return nil, &coreerrors.RateLimitedError{Reason: "model " + modelID + " over max_rpm", RetryAfterSeconds: m.CooldownSeconds}
	}
	return g.callOne(ctx, modelID, m, provider, req, deadline)
}

func (g *Gateway) resolve(ctx context.Context, pinned string) (string, *config.ModelConfig, Provider, error) {
	modelID, m, err := g.selector.Select(ctx, pinned)
	if err != nil {
		return "", nil, nil, err
	}
	provider, ok := g.providers.Get(m.Provider)
	if !ok {
		return "", nil, nil, errors.New("no provider registered for " + m.Provider)
	}
	return modelID, m, provider, nil
}

// isRateLimited reports whether a provider error is a rate-limit
// rejection, which never counts toward the circuit breaker threshold
// (spec §4.2: threshold failures exclude rate-limit errors).
func isRateLimited(err error) bool {
	return errors.Is(err, coreerrors.ErrRateLimited)
}

// newGenerateInput resolves the provider-facing request, including the
// per-model credential env references from the catalog (spec §6: the
// transport-layer provider configuration is generated from the model
// catalog). Unset env vars leave the provider's own fallbacks in force.
func newGenerateInput(req *CompletionRequest, modelID string, m *config.ModelConfig) *GenerateInput {
	input := &GenerateInput{
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Tools:     req.Tools,
		ModelID:   modelID,
		Model:     m.DisplayName,
	}
	if m.APIKeyEnv != "" {
		input.APIKey = os.Getenv(m.APIKeyEnv)
	}
	if m.BaseURLEnv != "" {
		input.BaseURL = os.Getenv(m.BaseURLEnv)
	}
	return input
}

func (g *Gateway) callOne(ctx context.Context, modelID string, m *config.ModelConfig, provider Provider, req *CompletionRequest, deadline time.Duration) (*CompletionResult, error) {
	target := breakerTarget(modelID)

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	g.limiter.RecordRequest(ctx, modelID)

	input := newGenerateInput(req, modelID, m)

	completion, err := provider.Generate(callCtx, input)
	if err != nil {
		g.limiter.ReleaseRequest(ctx, modelID)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.breakers.RecordFailure(ctx, target)
			return nil, coreerrors.ErrTimeout
		}
		// Rate-limit rejections don't count toward the breaker
		// threshold (spec §4.2: "excluding rate-limit errors") — a
		// throttled model is busy, not broken.
		if !isRateLimited(err) {
			g.breakers.RecordFailure(ctx, target)
		}
		return nil, err
	}

	g.breakers.RecordSuccess(ctx, target)
	g.limiter.RecordTokens(ctx, modelID, completion.TotalTokens)
	return &CompletionResult{ModelID: modelID, Completion: completion}, nil
}

// StreamResult is one chunk from Stream, tagged with the model that
// produced it so a cancelling caller knows which rate-limit reservation
// to release pro-rata.
type StreamResult struct {
	ModelID string
	Chunk   Chunk
}

// Stream resolves a model and returns a channel of StreamResult. The
// first-chunk deadline is the request's timeout (or DefaultTimeout); every
// subsequent chunk must arrive within StreamIdleTimeout of the previous
// one. Caller cancellation (ctx) aborts the provider call and releases
// the RPM reservation pro-rata — the reservation was only ever one
// request regardless of chunk count, so "pro-rata" here means releasing
// it fully since no chunks billed yet are un-refundable once the stream
// never produced a UsageChunk.
func (g *Gateway) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamResult, error) {
	deadline := req.Timeout
	if deadline <= 0 || deadline > DefaultTimeout {
		deadline = DefaultTimeout
	}

	modelID, m, provider, err := g.resolve(ctx, req.PinnedModel)
	if err != nil {
		return nil, err
	}
	if !g.limiter.UnderRPM(ctx, modelID, m.MaxRPM) {
		return nil, &coreerrors.RateLimitedError{Reason: "model " + modelID + " over max_rpm", RetryAfterSeconds: m.CooldownSeconds}
	}

	target := breakerTarget(modelID)
	g.limiter.RecordRequest(ctx, modelID)

	streamCtx, cancel := context.WithCancel(ctx)
	input := newGenerateInput(req, modelID, m)

	upstream, err := provider.Stream(streamCtx, input)
	if err != nil {
		cancel()
		g.limiter.ReleaseRequest(ctx, modelID)
		if !isRateLimited(err) {
			g.breakers.RecordFailure(ctx, target)
		}
		return nil, err
	}

	out := make(chan StreamResult)
	go g.pumpStream(streamCtx, cancel, upstream, out, modelID, target, deadline)
	return out, nil
}

func (g *Gateway) pumpStream(ctx context.Context, cancel context.CancelFunc, upstream <-chan Chunk, out chan<- StreamResult, modelID, target string, firstChunkDeadline time.Duration) {
	defer cancel()
	defer close(out)

	timer := time.NewTimer(firstChunkDeadline)
	defer timer.Stop()
	first := true
	success := false

	for {
		select {
		case <-ctx.Done():
			g.limiter.ReleaseRequest(context.Background(), modelID)
			return
		case <-timer.C:
			g.breakers.RecordFailure(context.Background(), target)
			g.limiter.ReleaseRequest(context.Background(), modelID)
			select {
			case out <- StreamResult{ModelID: modelID, Chunk: &ErrorChunk{Message: "stream idle timeout", Retryable: true}}:
			default:
			}
			return
		case chunk, ok := <-upstream:
			if !ok {
				if success {
					g.breakers.RecordSuccess(context.Background(), target)
				}
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			idle := StreamIdleTimeout
			if first {
				idle = firstChunkDeadline
				first = false
			}
			timer.Reset(idle)

			switch c := chunk.(type) {
			case *UsageChunk:
				success = true
				g.limiter.RecordTokens(context.Background(), modelID, c.TotalTokens)
			case *ErrorChunk:
				if !c.RateLimited {
					g.breakers.RecordFailure(context.Background(), target)
				}
			}

			select {
			case out <- StreamResult{ModelID: modelID, Chunk: chunk}:
			case <-ctx.Done():
				g.limiter.ReleaseRequest(context.Background(), modelID)
				return
			}
		}
	}
}
