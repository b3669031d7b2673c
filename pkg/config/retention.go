package config

import "time"

// RetentionConfig controls session archival, ghost pruning, and event
// cleanup behavior for the Scheduler's background task set.
type RetentionConfig struct {
	// GhostTTL is the age past which a zero-message session is considered
	// a ghost (message_count=0 AND created_at < now-GhostTTL).
	GhostTTL time.Duration `yaml:"ghost_ttl"`

	// GhostPruneInterval is how often the background ghost-prune task runs.
	GhostPruneInterval time.Duration `yaml:"ghost_prune_interval"`

	// SessionRetentionDays is how many days a session may go without
	// update before the archive-scan task archives it.
	SessionRetentionDays int `yaml:"session_retention_days"`

	// ArchiveScanInterval is how often the background old-session
	// archive scan runs.
	ArchiveScanInterval time.Duration `yaml:"archive_scan_interval"`

	// EventTTL is the maximum age of orphaned transient event rows before
	// deletion. Per-session cleanup handles the normal case; this is a
	// safety net.
	EventTTL time.Duration `yaml:"event_ttl"`

	// HealthHeartbeatInterval is how often the scheduler's health
	// heartbeat background task runs.
	HealthHeartbeatInterval time.Duration `yaml:"health_heartbeat_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults from
// spec §4.5's background-task cadence (ghost prune every 10m, archive
// scan every 6h, heartbeat every 60s) and §3's 15m ghost TTL.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		GhostTTL:                15 * time.Minute,
		GhostPruneInterval:      10 * time.Minute,
		SessionRetentionDays:    365,
		ArchiveScanInterval:     6 * time.Hour,
		EventTTL:                1 * time.Hour,
		HealthHeartbeatInterval: 60 * time.Second,
	}
}
