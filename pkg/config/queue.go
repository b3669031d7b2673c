package config

import "time"

// QueueConfig tunes the concurrency and polling behavior of agent
// delegation, swarm fan-out, and the scheduler's orphan sweep.
type QueueConfig struct {
	// MaxSwarmWorkers bounds how many swarm participants run
	// concurrently per run; remaining workers queue behind them.
	MaxSwarmWorkers int `yaml:"max_swarm_workers"`

	// AgentPollInterval is how often delegate_task polls agent state
	// while waiting for completion.
	AgentPollInterval time.Duration `yaml:"agent_poll_interval"`

	// DelegateTimeout is checked by config validation against
	// SessionTimeout and OrphanTimeout; no runtime component reads it.
	// Delegations without their own timeout use agent.DefaultDelegateTimeout.
	DelegateTimeout time.Duration `yaml:"delegate_timeout"`

	// SessionTimeout is checked by config validation against
	// DelegateTimeout; no runtime component reads it. Roundtable and
	// swarm runs are bounded by their preset's session_timeout instead.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// OrphanScanInterval is how often the background orphan sweep runs.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`

	// OrphanTimeout is how long an agent-bound session may sit on an
	// unanswered user message before the sweep treats its pod as dead
	// and archives it. Must exceed DelegateTimeout or live delegations
	// get recovered out from under their agents.
	OrphanTimeout time.Duration `yaml:"orphan_timeout"`
}

// DefaultQueueConfig returns the built-in concurrency defaults: the
// delegation numbers from the agent pool contract (2s poll, 120s
// timeout) and the orchestrator's 2h session ceiling.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxSwarmWorkers:    4,
		AgentPollInterval:  2 * time.Second,
		DelegateTimeout:    120 * time.Second,
		SessionTimeout:     2 * time.Hour,
		OrphanScanInterval: 5 * time.Minute,
		OrphanTimeout:      10 * time.Minute,
	}
}
