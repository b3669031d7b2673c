package config

import (
	"fmt"
	"sort"
	"sync"
)

// AgentDefConfig describes one agent definition available to the Agent
// Pool's spawn_agent / delegate_task operations and to the Orchestrator's
// roundtable/swarm participant resolution. Generalizes the teacher's
// AgentConfig (type/description/mcp/instructions/backend) to the Aria
// domain: no MCP-protocol transport, no native-tool toggles — those
// belong to skills now, addressed via the agent's Role.
type AgentDefConfig struct {
	Role         string `yaml:"role" validate:"required"`
	Description  string `yaml:"description,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`

	// Alias is the short handle used in /rt @alias slash commands.
	Alias string `yaml:"alias,omitempty"`

	// PinnedModel, if set, is validated against the model catalog at
	// spawn time; absence means the caller or gateway default applies.
	PinnedModel string `yaml:"pinned_model,omitempty"`

	// MaxIterations bounds the agent's internal step loop.
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
}

// AgentRegistry stores agent definitions in memory with thread-safe
// access, following the teacher's AgentRegistry/LLMProviderRegistry
// template.
type AgentRegistry struct {
	agents map[string]*AgentDefConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a registry, defensively copying the map.
func NewAgentRegistry(agents map[string]*AgentDefConfig) *AgentRegistry {
	copied := make(map[string]*AgentDefConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{agents: copied}
}

// Get retrieves an agent definition by name (thread-safe).
func (r *AgentRegistry) Get(name string) (*AgentDefConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// ResolveAlias returns the agent name registered under the given /rt
// alias. Unknown aliases are reported back to the caller as an error
// message in the stream without creating a roundtable session (spec §4.4).
func (r *AgentRegistry) ResolveAlias(alias string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, a := range r.agents {
		if a.Alias == alias {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: alias %s", ErrAgentNotFound, alias)
}

// GetAll returns a defensive copy of all agent definitions.
func (r *AgentRegistry) GetAll() map[string]*AgentDefConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*AgentDefConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Names returns all registered agent names in sorted order.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether an agent name exists (thread-safe).
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Len returns the number of registered agent definitions (thread-safe).
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
