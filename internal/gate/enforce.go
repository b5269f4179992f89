package gate

import (
	"dealdesk/internal/types"
)

// EnforceDecision applies the "no unfounded confidence" pass to a validated
// decision gate, in place:
//
//   - any checklist item typed EVIDENCE with zero evidence ids is downgraded
//     to ASSUMPTION;
//   - if more than half the checklist is then ASSUMPTION and the decision is
//     PROCEED, it is weakened to PROCEED_IF.
//
// The pass only ever weakens: KILL and PROCEED_IF are never escalated, and
// running it twice is a no-op.
func EnforceDecision(g *types.DecisionGate) {
	if g == nil {
		return
	}

	assumptions := 0
	for i := range g.Checklist {
		item := &g.Checklist[i]
		if item.Type == types.ChecklistEvidence && len(item.EvidenceIDs) == 0 {
			item.Type = types.ChecklistAssumption
		}
		if item.Type == types.ChecklistAssumption {
			assumptions++
		}
	}

	if len(g.Checklist) == 0 {
		return
	}
	ratio := float64(assumptions) / float64(len(g.Checklist))
	if ratio > 0.5 && g.Decision == types.DecisionProceed {
		g.Decision = types.DecisionProceedIf
	}
}
