package config

import (
	"fmt"
	"sort"
	"sync"
)

// ModelConfig describes one entry in the model catalog — the single
// authoritative YAML source from which the LLM Gateway's provider-facing
// configuration is generated (spec §6).
type ModelConfig struct {
	// Provider identifies the backing provider adapter (e.g. "openai",
	// "anthropic", "local-ollama"). The concrete SDK is out of scope; the
	// gateway only needs this string to select a Provider implementation.
	Provider string `yaml:"provider" validate:"required"`

	Tier        ModelTier `yaml:"tier" validate:"required"`
	DisplayName string    `yaml:"display_name" validate:"required"`
	Alias       string    `yaml:"alias,omitempty"`

	// MaxRPM is nil for an unbounded per-minute request rate.
	MaxRPM *int `yaml:"max_rpm,omitempty"`
	// MaxTPD is nil for an unbounded daily token budget.
	MaxTPD *int `yaml:"max_tpd,omitempty"`

	CooldownSeconds int `yaml:"cooldown_seconds,omitempty"`
	ContextWindow   int `yaml:"context_window,omitempty"`
	ToolCalling     bool `yaml:"tool_calling,omitempty"`

	APIKeyEnv  string `yaml:"api_key_env,omitempty"`
	BaseURLEnv string `yaml:"base_url_env,omitempty"`

	// TimeoutSeconds overrides the gateway default (120s) for this model.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// RoutingConfig is the gateway-wide model selection policy (spec §4.2).
type RoutingConfig struct {
	TierOrder []ModelTier `yaml:"tier_order,omitempty"`
	Primary   string      `yaml:"primary,omitempty"`
	Fallback  []string    `yaml:"fallback,omitempty"`
}

// ModelRegistry stores the model catalog in memory with thread-safe
// access, following the teacher's LLMProviderRegistry template: a
// defensive-copy constructor plus Get/GetAll/Has/Len.
type ModelRegistry struct {
	models map[string]*ModelConfig
	mu     sync.RWMutex
}

// NewModelRegistry creates a registry, defensively copying the map so
// later external mutation of the caller's map cannot affect the registry.
func NewModelRegistry(models map[string]*ModelConfig) *ModelRegistry {
	copied := make(map[string]*ModelConfig, len(models))
	for k, v := range models {
		copied[k] = v
	}
	return &ModelRegistry{models: copied}
}

// Get retrieves a model by id (thread-safe).
func (r *ModelRegistry) Get(id string) (*ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// GetByAlias resolves a model by its display alias, used by /rt slash
// commands and the chat engine's per-agent model override syntax.
func (r *ModelRegistry) GetByAlias(alias string) (string, *ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.models {
		if m.Alias == alias {
			return id, m, nil
		}
	}
	return "", nil, fmt.Errorf("%w: alias %s", ErrModelNotFound, alias)
}

// GetAll returns a defensive copy of all catalog entries.
func (r *ModelRegistry) GetAll() map[string]*ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*ModelConfig, len(r.models))
	for k, v := range r.models {
		result[k] = v
	}
	return result
}

// TierCandidates returns, sorted by id, the ids of all models
// belonging to the given tier. Used by the gateway's round-robin
// candidate selection within a tier.
func (r *ModelRegistry) TierCandidates(tier ModelTier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, m := range r.models {
		if m.Tier == tier {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether a model id exists (thread-safe).
func (r *ModelRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[id]
	return ok
}

// Len returns the number of catalog entries (thread-safe).
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
