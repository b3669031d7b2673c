package config

import "sync"

// BuiltinConfig holds built-in defaults merged under user configuration,
// mirroring the teacher's GetBuiltinConfig singleton pattern.
type BuiltinConfig struct {
	Models       map[string]ModelConfig
	Agents       map[string]AgentDefConfig
	Roundtables  map[string]RoundtableConfig
	CronJobs     map[string]CronJobConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Models: map[string]ModelConfig{
			// A built-in local-tier model guarantees the catalog is never
			// empty even before an operator supplies models.yaml, so the
			// gateway always has at least one tier candidate.
			"local-default": {
				Provider:    "local",
				Tier:        ModelTierLocal,
				DisplayName: "Local default",
				ContextWindow: 8192,
			},
		},
		Agents: map[string]AgentDefConfig{
			"general": {
				Role:        "generalist",
				Description: "General-purpose assistant with no specialization.",
				Alias:       "general",
			},
		},
		Roundtables: map[string]RoundtableConfig{},
		CronJobs:    map[string]CronJobConfig{},
	}
}
