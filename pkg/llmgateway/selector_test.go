package llmgateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/skill"
)

func intPtr(n int) *int { return &n }

func catalogForSelector() *config.ModelRegistry {
	return config.NewModelRegistry(map[string]*config.ModelConfig{
		"ollama-small": {Provider: "local", Tier: config.ModelTierLocal, DisplayName: "ollama-small"},
		"free-a":       {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "free-a"},
		"free-b":       {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "free-b"},
		"paid-big":     {Provider: "openai", Tier: config.ModelTierPaid, DisplayName: "paid-big"},
	})
}

func newTestSelector(models *config.ModelRegistry, routing *config.RoutingConfig) (*Selector, *skill.BreakerStore) {
	breakers := skill.NewBreakerStore(nil)
	return NewSelector(models, routing, breakers, NewRateLimiter(nil)), breakers
}

// openCircuit drives a model's breaker past the failure threshold.
func openCircuit(breakers *skill.BreakerStore, modelID string) {
	ctx := context.Background()
	for i := 0; i < skill.DefaultFailureThreshold; i++ {
		breakers.RecordFailure(ctx, breakerTarget(modelID))
	}
}

func TestSelect_PinnedModel(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy pin short-circuits", func(t *testing.T) {
		sel, _ := newTestSelector(catalogForSelector(), nil)
		id, m, err := sel.Select(ctx, "paid-big")
		require.NoError(t, err)
		assert.Equal(t, "paid-big", id)
		assert.Equal(t, config.ModelTierPaid, m.Tier)
	})

	t.Run("unknown pin fails", func(t *testing.T) {
		sel, _ := newTestSelector(catalogForSelector(), nil)
		_, _, err := sel.Select(ctx, "never-configured")
		assert.ErrorIs(t, err, coreerrors.ErrUnknownModel)
	})

	t.Run("circuit-open pin falls through to tiers", func(t *testing.T) {
		sel, breakers := newTestSelector(catalogForSelector(), nil)
		openCircuit(breakers, "paid-big")
		id, _, err := sel.Select(ctx, "paid-big")
		require.NoError(t, err)
		assert.Equal(t, "ollama-small", id, "default tier order starts at local")
	})
}

// Failover law (testable properties): primary with open circuit and a
// healthy tier candidate selects the first healthy candidate in tier
// order.
func TestSelect_PrimaryOverrideFailover(t *testing.T) {
	ctx := context.Background()
	routing := &config.RoutingConfig{
		Primary:   "paid-big",
		TierOrder: []config.ModelTier{config.ModelTierFree, config.ModelTierPaid},
	}

	t.Run("healthy primary wins", func(t *testing.T) {
		sel, _ := newTestSelector(catalogForSelector(), routing)
		id, _, err := sel.Select(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "paid-big", id)
	})

	t.Run("open primary falls back to tier chain", func(t *testing.T) {
		sel, breakers := newTestSelector(catalogForSelector(), routing)
		openCircuit(breakers, "paid-big")
		id, _, err := sel.Select(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, []string{"free-a", "free-b"}, id)
	})
}

func TestSelect_NoCandidateAnywhere(t *testing.T) {
	ctx := context.Background()
	sel, breakers := newTestSelector(catalogForSelector(), nil)
	for _, id := range []string{"ollama-small", "free-a", "free-b", "paid-big"} {
		openCircuit(breakers, id)
	}
	_, _, err := sel.Select(ctx, "")
	assert.ErrorIs(t, err, coreerrors.ErrNoModelAvailable)
}

func TestSelect_RoundRobinWithinTier(t *testing.T) {
	ctx := context.Background()
	models := config.NewModelRegistry(map[string]*config.ModelConfig{
		"free-a": {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "free-a"},
		"free-b": {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "free-b"},
	})
	sel, _ := newTestSelector(models, &config.RoutingConfig{TierOrder: []config.ModelTier{config.ModelTierFree}})

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		id, _, err := sel.Select(ctx, "")
		require.NoError(t, err)
		seen[id]++
	}
	assert.Equal(t, 5, seen["free-a"], "round-robin alternates instead of favoring one candidate")
	assert.Equal(t, 5, seen["free-b"])
}

func TestSelect_RateLimitedCandidateSkipped(t *testing.T) {
	ctx := context.Background()
	models := config.NewModelRegistry(map[string]*config.ModelConfig{
		"tight": {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "tight", MaxRPM: intPtr(1)},
		"roomy": {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "roomy"},
	})
	breakers := skill.NewBreakerStore(nil)
	limiter := NewRateLimiter(nil)
	sel := NewSelector(models, &config.RoutingConfig{TierOrder: []config.ModelTier{config.ModelTierFree}}, breakers, limiter)

	limiter.RecordRequest(ctx, "tight")

	for i := 0; i < 4; i++ {
		id, _, err := sel.Select(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "roomy", id, "the model over its RPM bound is never selected")
	}
}

func TestSelect_TPDExhaustedCandidateSkipped(t *testing.T) {
	ctx := context.Background()
	models := config.NewModelRegistry(map[string]*config.ModelConfig{
		"budgeted":  {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "budgeted", MaxTPD: intPtr(100)},
		"unbounded": {Provider: "openai", Tier: config.ModelTierFree, DisplayName: "unbounded"},
	})
	breakers := skill.NewBreakerStore(nil)
	limiter := NewRateLimiter(nil)
	sel := NewSelector(models, &config.RoutingConfig{TierOrder: []config.ModelTier{config.ModelTierFree}}, breakers, limiter)

	limiter.RecordTokens(ctx, "budgeted", 100)

	for i := 0; i < 4; i++ {
		id, _, err := sel.Select(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "unbounded", id, "a model over its daily token budget is not a candidate")
	}
}
