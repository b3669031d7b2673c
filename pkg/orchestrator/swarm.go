package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/storage"
)

// RunSwarm dispatches a preset's participants concurrently (spec §4.4):
// each participant receives the same task text (the task is not divided
// between workers), each running under the agent pool with no
// ordering guarantee, merged deterministically by sorting worker outputs
// by participant name (spec §5).
func (o *Orchestrator) RunSwarm(ctx context.Context, presetID, task string) (*SwarmRecap, error) {
	preset, err := o.roundtables.Get(presetID)
	if err != nil {
		return nil, err
	}
	return o.runSwarmWith(ctx, preset, preset.Participants, task)
}

func (o *Orchestrator) runSwarmWith(ctx context.Context, preset *config.RoundtableConfig, participantNames []string, task string) (*SwarmRecap, error) {
	defs, err := resolveParticipants(o.agents, participantNames)
	if err != nil {
		return nil, err
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

	swarmSession, err := o.sessions.CreateSession(ctx, storage.SessionTypeSwarm, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create swarm session: %w", err)
	}
	if _, err := o.sessions.AppendMessage(ctx, swarmSession.ID, storage.RoleUser, task, nil, nil); err != nil {
		return nil, fmt.Errorf("post swarm task: %w", err)
	}

	turns := make([]ParticipantTurn, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	if o.MaxSwarmWorkers > 0 {
		g.SetLimit(o.MaxSwarmWorkers)
	}
	for i := range defs {
		i := i
		name := participantNames[i]
		def := defs[i]
		g.Go(func() error {
			turns[i] = o.runTurn(gctx, def, name, task, agentTimeout)
			return nil
		})
	}
	// Workers run concurrently with no ordering guarantee; a per-worker
	// failure is captured in its own ParticipantTurn.Err rather than
	// aborting the other workers, so g.Wait()'s error is always nil here.
	_ = g.Wait()

	sort.Slice(turns, func(i, j int) bool { return turns[i].AgentName < turns[j].AgentName })

	recap := &SwarmRecap{SessionID: swarmSession.ID, Workers: turns}
	var merged string
	var totalDuration time.Duration
	for _, t := range turns {
		if t.Err == "" {
			merged += fmt.Sprintf("### %s\n%s\n\n", t.AgentName, t.Output)
		}
		recap.TotalTokens += t.TokensUsed
		totalDuration += time.Duration(t.DurationMS) * time.Millisecond
		if _, err := o.sessions.AppendMessage(ctx, swarmSession.ID, storage.RoleAssistant, t.Output, strPtr(t.AgentName), modelPtr(t.Model)); err != nil {
			return nil, fmt.Errorf("post worker output: %w", err)
		}
	}
	recap.Merged = merged
	recap.TotalDuration = totalDuration

	return recap, nil
}
