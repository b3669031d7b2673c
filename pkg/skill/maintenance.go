package skill

import (
	"context"
	"fmt"
	"time"

	"github.com/ariacore/aria/pkg/config"
)

// SessionMaintainer is the slice of the Session Manager the maintenance
// skill drives for its retention actions.
type SessionMaintainer interface {
	DeleteGhostSessions(ctx context.Context, olderThan time.Duration) (int, error)
	PruneOldSessions(ctx context.Context, days int, dryRun bool) (int, error)
}

// Pinger is a liveness probe over the persistence gateway.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MaintenanceSkill exposes the session-retention and liveness
// operations as cron-dispatchable actions, so declarative jobs
// ("skill: maintenance, action: ghost_prune") route through
// safe_execute like every other capability.
type MaintenanceSkill struct {
	sessions  SessionMaintainer
	db        Pinger
	retention *config.RetentionConfig
}

// NewMaintenanceSkill wires the skill; retention may be nil for the
// package defaults.
func NewMaintenanceSkill(sessions SessionMaintainer, db Pinger, retention *config.RetentionConfig) *MaintenanceSkill {
	if retention == nil {
		retention = config.DefaultRetentionConfig()
	}
	return &MaintenanceSkill{sessions: sessions, db: db, retention: retention}
}

func (s *MaintenanceSkill) Name() string             { return "maintenance" }
func (s *MaintenanceSkill) Layer() config.SkillLayer { return config.SkillLayerStorage }
func (s *MaintenanceSkill) Dependencies() []string   { return nil }

// Action dispatches one named maintenance operation.
func (s *MaintenanceSkill) Action(ctx context.Context, action string, args map[string]any) (any, error) {
	switch action {
	case "ghost_prune":
		olderThan := s.retention.GhostTTL
		if m, ok := args["older_than_minutes"].(int); ok && m > 0 {
			olderThan = time.Duration(m) * time.Minute
		}
		n, err := s.sessions.DeleteGhostSessions(ctx, olderThan)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil

	case "archive_scan":
		days := s.retention.SessionRetentionDays
		if d, ok := args["days"].(int); ok && d > 0 {
			days = d
		}
		dryRun, _ := args["dry_run"].(bool)
		n, err := s.sessions.PruneOldSessions(ctx, days, dryRun)
		if err != nil {
			return nil, err
		}
		return map[string]any{"archived": n, "dry_run": dryRun}, nil

	case "db_health":
		if err := s.db.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"database": "up"}, nil

	default:
		return nil, fmt.Errorf("unknown maintenance action %q", action)
	}
}
