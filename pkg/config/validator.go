package config

import (
	"fmt"
	"os"
)

// Validator validates a loaded Config comprehensively, mirroring the
// teacher's fail-fast ValidateAll ordering: validate leaf collections
// (queue tuning, models) before anything that references them
// (agents reference models, roundtables reference agents).
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation stage, stopping at the first error.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateModels(); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateRoundtables(); err != nil {
		return fmt.Errorf("roundtable validation failed: %w", err)
	}
	if err := v.validateCronJobs(); err != nil {
		return fmt.Errorf("cron validation failed: %w", err)
	}
	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}
	if q.MaxSwarmWorkers < 1 || q.MaxSwarmWorkers > 50 {
		return fmt.Errorf("max_swarm_workers must be between 1 and 50, got %d", q.MaxSwarmWorkers)
	}
	if q.AgentPollInterval <= 0 {
		return fmt.Errorf("agent_poll_interval must be positive, got %v", q.AgentPollInterval)
	}
	if q.DelegateTimeout <= 0 || q.DelegateTimeout >= q.SessionTimeout {
		return fmt.Errorf("delegate_timeout must be positive and less than session_timeout, got delegate=%v session=%v", q.DelegateTimeout, q.SessionTimeout)
	}
	if q.OrphanTimeout <= q.DelegateTimeout {
		return fmt.Errorf("orphan_timeout must exceed delegate_timeout, got orphan=%v delegate=%v", q.OrphanTimeout, q.DelegateTimeout)
	}
	return nil
}

func (v *Validator) validateModels() error {
	for id, m := range v.cfg.ModelRegistry.GetAll() {
		if !m.Tier.IsValid() {
			return NewValidationError("model", id, "tier", fmt.Errorf("invalid tier: %s", m.Tier))
		}
		if m.MaxRPM != nil && *m.MaxRPM < 1 {
			return NewValidationError("model", id, "max_rpm", fmt.Errorf("must be at least 1 if set"))
		}
		if m.MaxTPD != nil && *m.MaxTPD < 1 {
			return NewValidationError("model", id, "max_tpd", fmt.Errorf("must be at least 1 if set"))
		}
		if m.CooldownSeconds < 0 {
			return NewValidationError("model", id, "cooldown_seconds", fmt.Errorf("must be non-negative"))
		}
		if m.APIKeyEnv != "" {
			if v := os.Getenv(m.APIKeyEnv); v == "" {
				return NewValidationError("model", id, "api_key_env", fmt.Errorf("environment variable %s is not set", m.APIKeyEnv))
			}
		}
	}

	if v.cfg.Routing != nil {
		if v.cfg.Routing.Primary != "" && !v.cfg.ModelRegistry.Has(v.cfg.Routing.Primary) {
			return NewValidationError("routing", "", "primary", fmt.Errorf("model '%s' not found", v.cfg.Routing.Primary))
		}
		for _, id := range v.cfg.Routing.Fallback {
			if !v.cfg.ModelRegistry.Has(id) {
				return NewValidationError("routing", "", "fallback", fmt.Errorf("model '%s' not found", id))
			}
		}
		for _, tier := range v.cfg.Routing.TierOrder {
			if !tier.IsValid() {
				return NewValidationError("routing", "", "tier_order", fmt.Errorf("invalid tier: %s", tier))
			}
		}
	}

	return nil
}

func (v *Validator) validateAgents() error {
	for name, a := range v.cfg.AgentRegistry.GetAll() {
		if a.Role == "" {
			return NewValidationError("agent", name, "role", fmt.Errorf("role is required"))
		}
		if a.PinnedModel != "" && !v.cfg.ModelRegistry.Has(a.PinnedModel) {
			return NewValidationError("agent", name, "pinned_model", fmt.Errorf("model '%s' not found", a.PinnedModel))
		}
		if a.MaxIterations != nil && *a.MaxIterations < 1 {
			return NewValidationError("agent", name, "max_iterations", fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *Validator) validateRoundtables() error {
	for id, rt := range v.cfg.RoundtableRegistry.GetAll() {
		if !rt.Mode.IsValid() {
			return NewValidationError("roundtable", id, "mode", fmt.Errorf("invalid mode: %s", rt.Mode))
		}
		if len(rt.Participants) == 0 {
			return NewValidationError("roundtable", id, "participants", fmt.Errorf("at least one participant required"))
		}
		for _, p := range rt.Participants {
			if !v.cfg.AgentRegistry.Has(p) {
				return NewValidationError("roundtable", id, "participants", fmt.Errorf("agent '%s' not found", p))
			}
		}
		if rt.SynthesisAgent != "" && !v.cfg.AgentRegistry.Has(rt.SynthesisAgent) {
			return NewValidationError("roundtable", id, "synthesis_agent", fmt.Errorf("agent '%s' not found", rt.SynthesisAgent))
		}
		if rt.SynthesisMode != "" && !rt.SynthesisMode.IsValid() {
			return NewValidationError("roundtable", id, "synthesis_mode", fmt.Errorf("invalid synthesis_mode: %s", rt.SynthesisMode))
		}
	}
	return nil
}

func (v *Validator) validateCronJobs() error {
	for name, j := range v.cfg.CronRegistry.GetAll() {
		if j.Schedule == "" {
			return NewValidationError("cron", name, "schedule", fmt.Errorf("schedule is required"))
		}
		if j.Model != "" && !v.cfg.ModelRegistry.Has(j.Model) {
			return NewValidationError("cron", name, "model", fmt.Errorf("model '%s' not found", j.Model))
		}
	}
	return nil
}

func (v *Validator) validateAuth() error {
	auth := v.cfg.Auth
	if auth == nil {
		return fmt.Errorf("auth configuration is nil")
	}
	if auth.ProductionMode && !auth.DebugMode {
		if auth.APIKeyEnv == "" {
			return fmt.Errorf("%w: api_key_env required in production mode", ErrFatalConfig)
		}
		if os.Getenv(auth.APIKeyEnv) == "" {
			return fmt.Errorf("%w: environment variable %s is not set", ErrFatalConfig, auth.APIKeyEnv)
		}
	}
	return nil
}
