package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AriaYAMLConfig represents the complete aria.yaml file structure: agent
// definitions, roundtable/swarm presets, cron jobs, and system-wide
// tuning. Mirrors the teacher's TarsyYAMLConfig shape.
type AriaYAMLConfig struct {
	System      *SystemYAMLConfig           `yaml:"system"`
	Agents      map[string]AgentDefConfig    `yaml:"agents"`
	Roundtables map[string]RoundtableConfig  `yaml:"roundtables"`
	CronJobs    map[string]CronJobConfig     `yaml:"cron_jobs"`
	Queue       *QueueConfig                 `yaml:"queue"`
	Routing     *RoutingConfig               `yaml:"routing"`
}

// SystemYAMLConfig groups system-wide settings outside the four
// registries.
type SystemYAMLConfig struct {
	Auth      *AuthConfig      `yaml:"auth"`
	Notify    *NotifyConfig    `yaml:"notify"`
	Tracing   *TracingConfig   `yaml:"tracing"`
	Retention *RetentionConfig `yaml:"retention"`
}

// ModelsYAMLConfig represents the standalone models.yaml file — the
// authoritative model catalog source named in spec §6.
type ModelsYAMLConfig struct {
	Models map[string]ModelConfig `yaml:"models"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// Steps: load YAML → expand env vars → parse → merge built-in + user →
// build registries → apply defaults → validate → return. Mirrors the
// teacher's Initialize entry point.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"models", stats.Models,
		"agents", stats.Agents,
		"roundtables", stats.Roundtables,
		"cron_jobs", stats.CronJobs)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	ariaCfg, err := loader.loadAriaYAML()
	if err != nil {
		return nil, NewLoadError("aria.yaml", err)
	}

	modelsCfg, err := loader.loadModelsYAML()
	if err != nil {
		return nil, NewLoadError("models.yaml", err)
	}

	builtin := GetBuiltinConfig()

	models := mergeModels(builtin.Models, modelsCfg.Models)
	agents := mergeAgents(builtin.Agents, ariaCfg.Agents)
	roundtables := mergeRoundtables(builtin.Roundtables, ariaCfg.Roundtables)
	cronJobs := mergeCronJobs(builtin.CronJobs, ariaCfg.CronJobs)

	queueCfg := DefaultQueueConfig()
	if ariaCfg.Queue != nil {
		if err := mergo.Merge(queueCfg, ariaCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	routing := ariaCfg.Routing
	if routing == nil {
		routing = &RoutingConfig{}
	}
	if len(routing.TierOrder) == 0 {
		routing.TierOrder = DefaultTierOrder
	}

	retentionCfg := resolveRetentionConfig(ariaCfg.System)
	authCfg := resolveAuthConfig(ariaCfg.System)
	notifyCfg := resolveNotifyConfig(ariaCfg.System)
	tracingCfg := resolveTracingConfig(ariaCfg.System)

	return &Config{
		configDir:          configDir,
		Queue:              queueCfg,
		Retention:          retentionCfg,
		Auth:               authCfg,
		Notify:             notifyCfg,
		Tracing:            tracingCfg,
		Routing:            routing,
		ModelRegistry:      NewModelRegistry(models),
		AgentRegistry:      NewAgentRegistry(agents),
		RoundtableRegistry: NewRoundtableRegistry(roundtables),
		CronRegistry:       NewCronRegistry(cronJobs),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadAriaYAML() (*AriaYAMLConfig, error) {
	cfg := AriaYAMLConfig{
		Agents:      make(map[string]AgentDefConfig),
		Roundtables: make(map[string]RoundtableConfig),
		CronJobs:    make(map[string]CronJobConfig),
	}
	if err := l.loadYAML("aria.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadModelsYAML() (*ModelsYAMLConfig, error) {
	cfg := ModelsYAMLConfig{Models: make(map[string]ModelConfig)}
	if err := l.loadYAML("models.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()
	if sys == nil || sys.Retention == nil {
		return cfg
	}
	r := sys.Retention
	if r.GhostTTL > 0 {
		cfg.GhostTTL = r.GhostTTL
	}
	if r.GhostPruneInterval > 0 {
		cfg.GhostPruneInterval = r.GhostPruneInterval
	}
	if r.SessionRetentionDays > 0 {
		cfg.SessionRetentionDays = r.SessionRetentionDays
	}
	if r.ArchiveScanInterval > 0 {
		cfg.ArchiveScanInterval = r.ArchiveScanInterval
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.HealthHeartbeatInterval > 0 {
		cfg.HealthHeartbeatInterval = r.HealthHeartbeatInterval
	}
	return cfg
}

func resolveAuthConfig(sys *SystemYAMLConfig) *AuthConfig {
	cfg := &AuthConfig{APIKeyEnv: "ARIA_API_KEY"}
	if sys == nil || sys.Auth == nil {
		return cfg
	}
	a := sys.Auth
	if a.APIKeyEnv != "" {
		cfg.APIKeyEnv = a.APIKeyEnv
	}
	cfg.DebugMode = a.DebugMode
	cfg.ProductionMode = a.ProductionMode
	cfg.AllowedWSOrigins = a.AllowedWSOrigins
	return cfg
}

func resolveNotifyConfig(sys *SystemYAMLConfig) *NotifyConfig {
	cfg := &NotifyConfig{Enabled: false, WebhookEnv: "ARIA_NOTIFY_WEBHOOK"}
	if sys == nil || sys.Notify == nil {
		return cfg
	}
	n := sys.Notify
	cfg.Enabled = n.Enabled
	if n.WebhookEnv != "" {
		cfg.WebhookEnv = n.WebhookEnv
	}
	cfg.Channel = n.Channel
	return cfg
}

func resolveTracingConfig(sys *SystemYAMLConfig) *TracingConfig {
	cfg := &TracingConfig{Timeout: 5 * time.Second}
	if sys == nil || sys.Tracing == nil {
		return cfg
	}
	t := sys.Tracing
	cfg.Endpoint = t.Endpoint
	if t.Timeout > 0 {
		cfg.Timeout = t.Timeout
	}
	return cfg
}
