package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealdesk/internal/schema"
	"dealdesk/internal/store"
	"dealdesk/internal/types"
)

func TestAdvanceIfStalled(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown deal", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.AdvanceIfStalled(ctx, "missing")
		assert.True(t, errors.Is(err, store.ErrDealNotFound))
	})

	t.Run("no run yet", func(t *testing.T) {
		h := newHarness(t)
		advance, err := h.orch.AdvanceIfStalled(ctx, h.deal.ID)
		require.NoError(t, err)
		assert.Equal(t, AdvanceSkipped, advance)
	})

	t.Run("already complete", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.orch.Run(ctx, h.deal.ID))

		advance, err := h.orch.AdvanceIfStalled(ctx, h.deal.ID)
		require.NoError(t, err)
		assert.Equal(t, AdvanceCompleted, advance)
	})
}

func TestAdvanceResumesStalledRunOneUnitAtATime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// A prior process died after evidence and the first analyst.
	run, err := h.store.StartRun(h.deal.ID)
	require.NoError(t, err)
	for _, stage := range []string{StageEvidence, AnalystStage(schema.SpecMarket)} {
		require.NoError(t, h.store.WriteMarker(h.deal.ID, types.StageMarker{
			Stage: stage, RunID: run.ID, Status: types.PersonaDone,
		}))
	}

	// Five incomplete units remain; each probe advances exactly one, in
	// order, and never re-executes a finished one.
	expected := []string{
		AnalystStage(schema.SpecCompetition),
		AnalystStage(schema.SpecTeam),
		AnalystStage(schema.SpecTraction),
		StageAssociate,
		StagePartner,
	}
	for _, unit := range expected {
		advance, err := h.orch.AdvanceIfStalled(ctx, h.deal.ID)
		require.NoError(t, err)
		require.Equal(t, AdvanceAdvanced, advance, "unit %s", unit)
		assert.Equal(t, 1, h.runner.callCount(unit), "unit %s", unit)
	}

	// All units terminal now: the next probe finalizes the run.
	advance, err := h.orch.AdvanceIfStalled(ctx, h.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, AdvanceCompleted, advance)

	finished := h.singleRun(t)
	assert.Equal(t, types.RunComplete, finished.Status)

	// The finished analyst was never re-invoked, evidence never re-queried.
	assert.Equal(t, 0, h.runner.callCount(AnalystStage(schema.SpecMarket)))
	assert.Equal(t, 0, h.search.queryCount())

	// Further probes are stable.
	advance, err = h.orch.AdvanceIfStalled(ctx, h.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, AdvanceCompleted, advance)
}

func TestAdvanceTreatsDegradedAsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	run, err := h.store.StartRun(h.deal.ID)
	require.NoError(t, err)
	for _, unit := range Units() {
		status := types.PersonaDone
		if unit == AnalystStage(schema.SpecTraction) {
			status = types.PersonaDegraded
		}
		require.NoError(t, h.store.WriteMarker(h.deal.ID, types.StageMarker{
			Stage: unit, RunID: run.ID, Status: status,
		}))
	}

	advance, err := h.orch.AdvanceIfStalled(ctx, h.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, AdvanceCompleted, advance)
	assert.Equal(t, 0, h.runner.callCount(AnalystStage(schema.SpecTraction)))
}
