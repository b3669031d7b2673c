// Package skill implements the uniform contract for external
// capabilities (persistence writes, embeddings, network providers,
// filesystem operations): a layer-tagged registry enforcing
// leaves-first dependency ordering, and a safe_execute wrapper
// combining circuit breaking, retry, and metrics around every call.
package skill

import (
	"context"

	"github.com/ariacore/aria/pkg/config"
)

// Skill is the contract every external capability implements. Action
// dispatches one named operation; the skill itself decides which
// action names it understands.
type Skill interface {
	Name() string
	Layer() config.SkillLayer
	// Dependencies names the other skills this skill calls into
	// through a gateway (never directly). Every dependency must sit at
	// a strictly lower layer.
	Dependencies() []string
	Action(ctx context.Context, action string, args map[string]any) (any, error)
}

// Result is the uniform return shape of safe_execute.
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
