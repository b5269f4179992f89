package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealdesk/internal/types"
)

func TestEnforceDecision(t *testing.T) {
	t.Run("downgrades unbacked evidence items", func(t *testing.T) {
		g := &types.DecisionGate{
			Decision: types.DecisionKill,
			Checklist: []types.ChecklistItem{
				{Item: "a", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
				{Item: "b", Type: types.ChecklistEvidence},
			},
		}
		EnforceDecision(g)

		assert.Equal(t, types.ChecklistEvidence, g.Checklist[0].Type)
		assert.Equal(t, types.ChecklistAssumption, g.Checklist[1].Type)
	})

	t.Run("weakens proceed on assumption-heavy checklist", func(t *testing.T) {
		g := &types.DecisionGate{
			Decision: types.DecisionProceed,
			Checklist: []types.ChecklistItem{
				{Item: "a", Type: types.ChecklistAssumption},
				{Item: "b", Type: types.ChecklistAssumption},
				{Item: "c", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
			},
		}
		EnforceDecision(g)
		assert.Equal(t, types.DecisionProceedIf, g.Decision)
	})

	t.Run("exactly half does not weaken", func(t *testing.T) {
		g := &types.DecisionGate{
			Decision: types.DecisionProceed,
			Checklist: []types.ChecklistItem{
				{Item: "a", Type: types.ChecklistAssumption},
				{Item: "b", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
			},
		}
		EnforceDecision(g)
		assert.Equal(t, types.DecisionProceed, g.Decision)
	})

	t.Run("downgrade feeds the ratio", func(t *testing.T) {
		// Both items claim EVIDENCE but only one is backed; after the
		// downgrade the ratio is 1/2, still not enough to weaken.
		g := &types.DecisionGate{
			Decision: types.DecisionProceed,
			Checklist: []types.ChecklistItem{
				{Item: "a", Type: types.ChecklistEvidence},
				{Item: "b", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
			},
		}
		EnforceDecision(g)
		assert.Equal(t, types.DecisionProceed, g.Decision)

		// A third unbacked claim tips it past half.
		g.Checklist = append(g.Checklist, types.ChecklistItem{Item: "c", Type: types.ChecklistEvidence})
		g.Decision = types.DecisionProceed
		EnforceDecision(g)
		assert.Equal(t, types.DecisionProceedIf, g.Decision)
	})

	t.Run("never escalates", func(t *testing.T) {
		for _, d := range []types.Decision{types.DecisionKill, types.DecisionProceedIf} {
			g := &types.DecisionGate{
				Decision: d,
				Checklist: []types.ChecklistItem{
					{Item: "a", Type: types.ChecklistAssumption},
					{Item: "b", Type: types.ChecklistAssumption},
				},
			}
			EnforceDecision(g)
			assert.Equal(t, d, g.Decision)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		g := &types.DecisionGate{
			Decision: types.DecisionProceed,
			Checklist: []types.ChecklistItem{
				{Item: "a", Type: types.ChecklistEvidence},
				{Item: "b", Type: types.ChecklistAssumption},
				{Item: "c", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
			},
		}
		EnforceDecision(g)
		first := *g
		firstChecklist := append([]types.ChecklistItem(nil), g.Checklist...)

		EnforceDecision(g)
		assert.Equal(t, first.Decision, g.Decision)
		require.Equal(t, firstChecklist, g.Checklist)
	})

	t.Run("nil and empty safe", func(t *testing.T) {
		assert.NotPanics(t, func() { EnforceDecision(nil) })

		g := &types.DecisionGate{Decision: types.DecisionProceed}
		EnforceDecision(g)
		assert.Equal(t, types.DecisionProceed, g.Decision)
	})
}
