package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRegistryTierCandidates(t *testing.T) {
	rpm := 10
	reg := NewModelRegistry(map[string]*ModelConfig{
		"a": {Provider: "p", Tier: ModelTierFree, DisplayName: "A", MaxRPM: &rpm},
		"b": {Provider: "p", Tier: ModelTierFree, DisplayName: "B"},
		"c": {Provider: "p", Tier: ModelTierPaid, DisplayName: "C"},
	})

	free := reg.TierCandidates(ModelTierFree)
	assert.Len(t, free, 2)
	assert.False(t, reg.Has("missing"))
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestAgentRegistryResolveAlias(t *testing.T) {
	reg := NewAgentRegistry(map[string]*AgentDefConfig{
		"Researcher": {Role: "research", Alias: "r"},
	})

	name, err := reg.ResolveAlias("r")
	require.NoError(t, err)
	assert.Equal(t, "Researcher", name)

	_, err = reg.ResolveAlias("unknown")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestValidatorRejectsUnknownParticipant(t *testing.T) {
	cfg := &Config{
		Queue:              DefaultQueueConfig(),
		Auth:               &AuthConfig{APIKeyEnv: "ARIA_API_KEY"},
		ModelRegistry:      NewModelRegistry(nil),
		AgentRegistry:      NewAgentRegistry(map[string]*AgentDefConfig{"a": {Role: "r"}}),
		RoundtableRegistry: NewRoundtableRegistry(map[string]*RoundtableConfig{
			"rt1": {Mode: RoundtableModeSequential, Participants: []string{"missing"}},
		}),
		CronRegistry: NewCronRegistry(nil),
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roundtable")
}

func TestExpandEnvMissingVarBecomesEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: ${ARIA_TEST_UNSET_VAR_XYZ}"))
	assert.Equal(t, "key: ", string(out))
}
