package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/storage"
)

// Orchestrator coordinates roundtable and swarm execution (spec §4.4)
// over the Agent Pool. It owns neither Agent nor Session state directly
// — it only creates its own top-level roundtable/swarm session and
// delegates each participant's turn to the Agent Pool, which owns the
// per-participant sessions.
type Orchestrator struct {
	// MaxSwarmWorkers bounds concurrent swarm participants per run.
	// Zero means unbounded; main wiring sets it from QueueConfig.
	MaxSwarmWorkers int

	delegator   Delegator
	sessions    SessionStore
	agents      *config.AgentRegistry
	roundtables *config.RoundtableRegistry
}

// NewOrchestrator wires an Orchestrator over the Agent Pool and the
// agent/roundtable registries.
func NewOrchestrator(delegator Delegator, sessions SessionStore, agents *config.AgentRegistry, roundtables *config.RoundtableRegistry) *Orchestrator {
	return &Orchestrator{delegator: delegator, sessions: sessions, agents: agents, roundtables: roundtables}
}

// RunRoundtable executes a preset's sequential deliberation: each round
// runs participants strictly in declared order (spec §5 ordering
// guarantee), every participant sees the accumulated transcript so far,
// and the last round is followed by a synthesis call.
func (o *Orchestrator) RunRoundtable(ctx context.Context, presetID, topic string) (*RoundtableResult, error) {
	preset, err := o.roundtables.Get(presetID)
	if err != nil {
		return nil, err
	}
	return o.runRoundtableWith(ctx, preset, preset.Participants, topic)
}

// RunMiniRoundtable implements the inline `/rt @a @b …topic` slash
// command (spec §4.4): participants are resolved against agent aliases
// rather than a named preset, rounds default to 1.
func (o *Orchestrator) RunMiniRoundtable(ctx context.Context, aliases []string, topic string) (*RoundtableResult, error) {
	if _, err := resolveParticipants(o.agents, aliases); err != nil {
		return nil, err
	}
	preset := &config.RoundtableConfig{
		Mode:           config.RoundtableModeSequential,
		Participants:   aliases,
		Rounds:         1,
		AgentTimeout:   config.DefaultAgentTimeout,
		SessionTimeout: config.DefaultSessionTimeout,
		SynthesisMode:  config.SynthesisModeAnalysis,
	}
	return o.runRoundtableWith(ctx, preset, aliases, topic)
}

func (o *Orchestrator) runRoundtableWith(ctx context.Context, preset *config.RoundtableConfig, participantNames []string, topic string) (*RoundtableResult, error) {
	defs, err := resolveParticipants(o.agents, participantNames)
	if err != nil {
		return nil, err
	}

	rounds := preset.Rounds
	if rounds <= 0 {
		rounds = 1
	}
	agentTimeout := preset.AgentTimeout
	if agentTimeout <= 0 {
		agentTimeout = config.DefaultAgentTimeout
	}
	sessionTimeout := preset.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = config.DefaultSessionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	rtSession, err := o.sessions.CreateSession(ctx, storage.SessionTypeRoundtable, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create roundtable session: %w", err)
	}
	if _, err := o.sessions.AppendMessage(ctx, rtSession.ID, storage.RoleUser, topic, nil, nil); err != nil {
		return nil, fmt.Errorf("post roundtable topic: %w", err)
	}

	var transcript strings.Builder
	transcript.WriteString("Topic: ")
	transcript.WriteString(topic)
	transcript.WriteString("\n")

	result := &RoundtableResult{SessionID: rtSession.ID}

	// Rounds execute in order; turns within a round execute strictly in
	// declared participant order (spec §5) — never fanned out.
	for round := 0; round < rounds; round++ {
		turns := make([]ParticipantTurn, 0, len(defs))
		for i, def := range participantNames {
			d := defs[i]
			turn := o.runTurn(ctx, d, def, transcript.String(), agentTimeout)
			turns = append(turns, turn)
			transcript.WriteString(fmt.Sprintf("\n[%s]: %s\n", def, turn.Output))
			if _, err := o.sessions.AppendMessage(ctx, rtSession.ID, storage.RoleAssistant, turn.Output, strPtr(def), modelPtr(turn.Model)); err != nil {
				return nil, fmt.Errorf("post participant turn: %w", err)
			}
		}
		result.Rounds = append(result.Rounds, turns)
	}

	synthesis, err := o.synthesize(ctx, preset, transcript.String())
	if err != nil {
		synthesis = ""
	}
	result.Synthesis = synthesis
	if synthesis != "" {
		_, _ = o.sessions.AppendMessage(ctx, rtSession.ID, storage.RoleSystem, synthesis, nil, nil)
	}

	return result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, def *config.AgentDefConfig, name, transcriptSoFar string, timeout time.Duration) ParticipantTurn {
	model := def.PinnedModel
	res, err := o.delegator.DelegateTask(ctx, transcriptSoFar, def.Role, model, def.Instructions, timeout, true)
	if err != nil {
		return ParticipantTurn{AgentName: name, Err: err.Error()}
	}
	return ParticipantTurn{
		AgentName:  name,
		Model:      res.Model,
		Output:     res.Result,
		TokensUsed: res.TokensUsed,
		DurationMS: res.DurationMS,
	}
}

// synthesize summarizes consensus/dissent across the transcript using an
// LLM call dispatched through the same Agent Pool as any other
// delegated task — the synthesis step has no special execution path,
// just a distinguished role name and prompt framing.
func (o *Orchestrator) synthesize(ctx context.Context, preset *config.RoundtableConfig, transcript string) (string, error) {
	mode := preset.SynthesisMode
	if mode == "" {
		mode = config.SynthesisModeAnalysis
	}
	var prompt string
	switch mode {
	case config.SynthesisModeNarrative:
		prompt = "Narrate how this deliberation unfolded, in story form:\n\n" + transcript
	default:
		prompt = "Summarize the consensus and any dissent from this deliberation:\n\n" + transcript
	}
	model, instructions := "", ""
	if preset.SynthesisAgent != "" {
		if def, err := o.agents.Get(preset.SynthesisAgent); err == nil {
			model, instructions = def.PinnedModel, def.Instructions
		}
	}
	res, err := o.delegator.DelegateTask(ctx, prompt, "synthesizer", model, instructions, config.DefaultAgentTimeout, true)
	if err != nil {
		return "", err
	}
	return res.Result, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func modelPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
