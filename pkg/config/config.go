package config

// Config is the fully loaded, validated configuration for one Aria core
// process: the model catalog, agent/roundtable/cron registries, and the
// ambient tuning knobs (queue, retention, auth, notify, tracing).
// Mirrors the teacher's Config struct (AgentRegistry/ChainRegistry/
// MCPServerRegistry/LLMProviderRegistry triad), renamed to Aria's domain.
type Config struct {
	configDir string

	Queue     *QueueConfig
	Retention *RetentionConfig
	Auth      *AuthConfig
	Notify    *NotifyConfig
	Tracing   *TracingConfig
	Routing   *RoutingConfig

	ModelRegistry      *ModelRegistry
	AgentRegistry      *AgentRegistry
	RoundtableRegistry *RoundtableRegistry
	CronRegistry       *CronRegistry
}

// ConfigStats summarizes registry sizes for startup logging.
type ConfigStats struct {
	Models      int
	Agents      int
	Roundtables int
	CronJobs    int
}

// Stats returns registry sizes for startup logging.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Models:      c.ModelRegistry.Len(),
		Agents:      c.AgentRegistry.Len(),
		Roundtables: c.RoundtableRegistry.Len(),
		CronJobs:    c.CronRegistry.Len(),
	}
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// GetModel is a convenience wrapper around ModelRegistry.Get.
func (c *Config) GetModel(id string) (*ModelConfig, error) { return c.ModelRegistry.Get(id) }

// GetAgent is a convenience wrapper around AgentRegistry.Get.
func (c *Config) GetAgent(name string) (*AgentDefConfig, error) { return c.AgentRegistry.Get(name) }

// GetRoundtable is a convenience wrapper around RoundtableRegistry.Get.
func (c *Config) GetRoundtable(id string) (*RoundtableConfig, error) {
	return c.RoundtableRegistry.Get(id)
}

// GetCronJob is a convenience wrapper around CronRegistry.Get.
func (c *Config) GetCronJob(name string) (*CronJobConfig, error) { return c.CronRegistry.Get(name) }
