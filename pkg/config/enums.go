package config

// ModelTier groups a configured model by cost/locality. Tier order drives
// the LLM Gateway's default fallback chain (local → free → paid).
type ModelTier string

const (
	ModelTierLocal ModelTier = "local"
	ModelTierFree  ModelTier = "free"
	ModelTierPaid  ModelTier = "paid"
)

// IsValid reports whether the tier is one of the recognized values.
func (t ModelTier) IsValid() bool {
	switch t {
	case ModelTierLocal, ModelTierFree, ModelTierPaid:
		return true
	default:
		return false
	}
}

// DefaultTierOrder is the gateway's default tier preference when a model
// catalog does not declare its own routing.tier_order.
var DefaultTierOrder = []ModelTier{ModelTierLocal, ModelTierFree, ModelTierPaid}

// SynthesisMode selects how a roundtable's closing synthesis step is framed.
type SynthesisMode string

const (
	SynthesisModeAnalysis SynthesisMode = "analysis"
	SynthesisModeNarrative SynthesisMode = "narrative"
)

// IsValid reports whether the synthesis mode is recognized.
func (m SynthesisMode) IsValid() bool {
	return m == SynthesisModeAnalysis || m == SynthesisModeNarrative
}

// SkillLayer tags a skill's position in the leaves-first dependency
// ordering enforced by the skill registry at load time (spec §9): a
// skill may only declare dependencies on lower-numbered layers.
type SkillLayer int

const (
	// SkillLayerStorage holds leaf capabilities with no further
	// dependencies: persistence reads/writes, filesystem ops.
	SkillLayerStorage SkillLayer = iota
	// SkillLayerNetwork holds capabilities that call out over the
	// network: embeddings service, external provider calls.
	SkillLayerNetwork
	// SkillLayerGateway holds the LLM Gateway itself, which depends on
	// network-layer provider calls and storage-layer rate/circuit state.
	SkillLayerGateway
	// SkillLayerOrchestration holds agent pool / orchestrator / scheduler
	// skills, which may depend on anything below.
	SkillLayerOrchestration
)
