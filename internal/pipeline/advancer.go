package pipeline

import (
	"context"

	"go.uber.org/zap"

	"dealdesk/internal/types"
)

// Advance is the outcome of a stall probe.
type Advance string

const (
	// AdvanceAdvanced means exactly one incomplete unit of work was executed.
	AdvanceAdvanced Advance = "advanced"
	// AdvanceSkipped means no work was needed or possible: no active run, or
	// an orchestration in this process is already making forward progress.
	AdvanceSkipped Advance = "skipped"
	// AdvanceCompleted means every unit was already terminal; the run was
	// (or has now been) finalized.
	AdvanceCompleted Advance = "completed"
)

// AdvanceIfStalled is the resume path for ephemeral hosts: given a status
// probe, it detects a stalled run and advances it by exactly one unit of
// work (one analyst, or the associate, or the partner), idempotently.
// Markers persisted by previous processes decide what is already done;
// nothing terminal is ever re-executed, so repeated probes never duplicate
// external calls.
func (o *Orchestrator) AdvanceIfStalled(ctx context.Context, dealID string) (Advance, error) {
	if _, err := o.store.GetDeal(dealID); err != nil {
		return AdvanceSkipped, err
	}

	run, err := o.store.ActiveRun(dealID)
	if err != nil {
		return AdvanceSkipped, err
	}
	if run == nil {
		runs, err := o.store.Runs(dealID)
		if err != nil {
			return AdvanceSkipped, err
		}
		if len(runs) > 0 && runs[len(runs)-1].Status == types.RunComplete {
			return AdvanceCompleted, nil
		}
		return AdvanceSkipped, nil
	}

	// A live orchestration in this process is forward progress; do not
	// double-execute under it. After a cold start this registry is empty,
	// so the probe advances.
	if !o.begin(dealID) {
		return AdvanceSkipped, nil
	}
	defer o.end(dealID)

	deal, err := o.store.GetDeal(dealID)
	if err != nil {
		return AdvanceSkipped, err
	}
	markers, err := o.runMarkers(dealID, run.ID)
	if err != nil {
		return AdvanceSkipped, err
	}

	next := ""
	for _, unit := range Units() {
		if m, ok := markers[unit]; ok && m.Status.Terminal() {
			continue
		}
		next = unit
		break
	}

	if next == "" {
		// Every unit terminal but the run still open: finalize it.
		if err := o.finalize(ctx, deal, *run); err != nil {
			return AdvanceSkipped, err
		}
		return AdvanceCompleted, nil
	}

	o.log.Info("advancing stalled run",
		zap.String("deal_id", dealID),
		zap.String("run_id", run.ID),
		zap.String("unit", next))

	if err := o.executeUnit(ctx, deal, *run, next); err != nil {
		return AdvanceSkipped, o.abort(deal, *run, next, err)
	}
	return AdvanceAdvanced, nil
}

// executeUnit dispatches exactly one unit of work.
func (o *Orchestrator) executeUnit(ctx context.Context, deal types.Deal, run types.Run, unit string) error {
	switch unit {
	case StageEvidence:
		return o.runEvidence(ctx, deal, run)
	case StageAssociate:
		return o.runAssociate(ctx, deal, run)
	case StagePartner:
		return o.runPartner(ctx, deal, run)
	default:
		// analyst_<spec>
		spec := unit[len("analyst_"):]
		return o.runAnalyst(ctx, deal, run, spec)
	}
}
