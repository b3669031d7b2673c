package llmgateway

import (
	"context"
	"sync"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/skill"
)

// Selector implements the four-step model selection algorithm from spec
// §4.2: pinned model, then primary override, then tier-ordered round-robin
// among eligible candidates.
type Selector struct {
	models   *config.ModelRegistry
	routing  *config.RoutingConfig
	breakers *skill.BreakerStore
	limiter  *RateLimiter

	mu      sync.Mutex
	cursors map[config.ModelTier]int // round-robin position within each tier
}

// NewSelector builds a Selector over the given catalog and routing policy.
func NewSelector(models *config.ModelRegistry, routing *config.RoutingConfig, breakers *skill.BreakerStore, limiter *RateLimiter) *Selector {
	if routing == nil {
		routing = &config.RoutingConfig{TierOrder: config.DefaultTierOrder}
	}
	tierOrder := routing.TierOrder
	if len(tierOrder) == 0 {
		tierOrder = config.DefaultTierOrder
	}
	return &Selector{
		models:   models,
		routing:  routing,
		breakers: breakers,
		limiter:  limiter,
		cursors:  make(map[config.ModelTier]int),
	}
}

// breakerTarget is the skill.BreakerStore key namespace for models, kept
// distinct from skill targets ("skill:action") by a "model:" prefix.
func breakerTarget(modelID string) string { return "model:" + modelID }

func (s *Selector) circuitAllows(modelID string) bool {
	return s.breakers.Allow(breakerTarget(modelID))
}

// eligible reports whether a candidate may serve a request, and, when
// it may not, whether rate limits alone disqualified it — that
// distinction decides between a 429 and a 503 when every candidate is
// exhausted.
func (s *Selector) eligible(ctx context.Context, modelID string, m *config.ModelConfig) (ok, rateLimitedOnly bool) {
	if !s.circuitAllows(modelID) {
		return false, false
	}
	if !s.limiter.UnderRPM(ctx, modelID, m.MaxRPM) {
		return false, true
	}
	if !s.limiter.UnderTPD(ctx, modelID, m.MaxTPD) {
		return false, true
	}
	return true, false
}

// Select runs the four-step algorithm. pinned is the caller's requested
// model id, empty if none.
func (s *Selector) Select(ctx context.Context, pinned string) (string, *config.ModelConfig, error) {
	// Step 1: caller-pinned model, if eligible.
	if pinned != "" {
		m, err := s.models.Get(pinned)
		if err != nil {
			return "", nil, coreerrors.ErrUnknownModel
		}
		if s.circuitAllows(pinned) {
			return pinned, m, nil
		}
		// A pinned but circuit-open model falls through to tier selection
		// rather than failing outright — spec §4.2 only promises the pin
		// short-circuits selection "if ... not circuit-open".
	}

	// Step 4 (evaluated here because it is a short-circuit before the tier
	// chain, not an independent step): primary override.
	if s.routing.Primary != "" {
		if m, err := s.models.Get(s.routing.Primary); err == nil {
			if s.circuitAllows(s.routing.Primary) {
				return s.routing.Primary, m, nil
			}
		}
	}

	// Step 2: tier-ordered round-robin among eligible candidates.
	tierOrder := s.routing.TierOrder
	if len(tierOrder) == 0 {
		tierOrder = config.DefaultTierOrder
	}
	sawRateLimited := false
	maxCooldown := 0
	for _, tier := range tierOrder {
		candidates := s.models.TierCandidates(tier)
		if len(candidates) == 0 {
			continue
		}
		id, m, ok, rateLimited, cooldown := s.pickRoundRobin(ctx, tier, candidates)
		if ok {
			return id, m, nil
		}
		if rateLimited {
			sawRateLimited = true
			if cooldown > maxCooldown {
				maxCooldown = cooldown
			}
		}
	}

	// Step 3: no candidate in any tier. When some candidate would have
	// served but for its rate limit, the failure is a 429 with a
	// retry-after hint, not a 503.
	if sawRateLimited {
		return "", nil, &coreerrors.RateLimitedError{Reason: "all candidates over rate limits", RetryAfterSeconds: maxCooldown}
	}
	return "", nil, coreerrors.ErrNoModelAvailable
}

// pickRoundRobin walks candidates starting from the tier's saved cursor,
// advancing it exactly once per call regardless of how many were skipped,
// so repeated calls distribute load rather than always favoring index 0.
// When no candidate is eligible, it also reports whether any was
// disqualified by rate limits alone and the largest cooldown among them.
func (s *Selector) pickRoundRobin(ctx context.Context, tier config.ModelTier, candidates []string) (string, *config.ModelConfig, bool, bool, int) {
	s.mu.Lock()
	start := s.cursors[tier]
	s.cursors[tier] = (start + 1) % len(candidates)
	s.mu.Unlock()

	sawRateLimited := false
	maxCooldown := 0
	for i := 0; i < len(candidates); i++ {
		id := candidates[(start+i)%len(candidates)]
		m, err := s.models.Get(id)
		if err != nil {
			continue
		}
		ok, rateLimited := s.eligible(ctx, id, m)
		if ok {
			return id, m, true, false, 0
		}
		if rateLimited {
			sawRateLimited = true
			if m.CooldownSeconds > maxCooldown {
				maxCooldown = m.CooldownSeconds
			}
		}
	}
	return "", nil, false, sawRateLimited, maxCooldown
}
