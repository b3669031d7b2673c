package orchestrator

import "sort"

// RPGPhase is the game-mode replacement for the standard
// EXPLORE/WORK/VALIDATE phases when RPG mode is active (spec §4.4).
type RPGPhase string

const (
	PhaseExploration RPGPhase = "exploration"
	PhaseSocial      RPGPhase = "social"
	PhaseCombat      RPGPhase = "combat"
)

// Initiative pins one participant's turn-order priority for a combat
// phase. Higher rolls act first, ties broken by participant name so
// ordering stays deterministic across replays of the same roll set.
type Initiative struct {
	AgentName string
	Roll      int
}

// TurnOrder computes the strictly-enforced turn order for a phase (spec
// §4.4: "turn order is strictly enforced"). Exploration and social
// phases are DM-led: the DM participant, conventionally named "dm",
// always acts first, followed by the remaining participants in their
// declared order. Combat uses initiative order.
func TurnOrder(phase RPGPhase, participants []string, initiative []Initiative) []string {
	switch phase {
	case PhaseCombat:
		return initiativeOrder(participants, initiative)
	default:
		return dmLedOrder(participants)
	}
}

func dmLedOrder(participants []string) []string {
	order := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == "dm" {
			order = append([]string{p}, order...)
		} else {
			order = append(order, p)
		}
	}
	return order
}

func initiativeOrder(participants []string, initiative []Initiative) []string {
	rolls := make(map[string]int, len(initiative))
	for _, i := range initiative {
		rolls[i.AgentName] = i.Roll
	}
	order := make([]string, len(participants))
	copy(order, participants)
	sort.SliceStable(order, func(i, j int) bool {
		ri, rj := rolls[order[i]], rolls[order[j]]
		if ri != rj {
			return ri > rj
		}
		return order[i] < order[j]
	})
	return order
}
