package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dealdesk/internal/gate"
	"dealdesk/internal/schema"
	"dealdesk/internal/types"
)

// runEvidence fans out provider queries under the nested concurrency cap,
// merges and deduplicates the results, and emits evidence_added plus
// profile_added events. Provider failures arrive as empty results; the
// stage itself cannot fail short of a persistence error.
func (o *Orchestrator) runEvidence(ctx context.Context, deal types.Deal, run types.Run) error {
	if _, err := o.emit(deal, run, types.EventStageStarted,
		types.StagePayload{Stage: StageEvidence}, nil); err != nil {
		return err
	}
	start := time.Now()

	queries := buildQueries(deal)
	results := make([]types.SearchResult, len(queries))

	if o.search != nil {
		// The stage-level fan-out is additionally capped so concurrent
		// provider calls respect rate limits.
		sem := semaphore.NewWeighted(o.cfg.ProviderConcurrency)
		g, gctx := errgroup.WithContext(ctx)
		for i, query := range queries {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer sem.Release(1)

				qctx, cancel := context.WithTimeout(gctx, o.cfg.SearchTimeout)
				defer cancel()
				res, err := o.search.Search(qctx, query, types.SearchOptions{
					MaxResults: 5,
					Domain:     deal.Domain,
				})
				if err != nil {
					// A resilient provider never errors; a bare one might.
					o.log.Warn("evidence query failed",
						zap.String("query", query), zap.Error(err))
					return nil
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	items, answer := mergeResults(results)

	if len(items) > 0 {
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if _, err := o.emit(deal, run, types.EventEvidenceAdded,
			types.EvidencePayload{Items: items},
			types.EvidencePublic{Count: len(items), IDs: ids}); err != nil {
			return err
		}
	}

	if answer != "" {
		profile := types.CompanyProfile{
			Name:    deal.Name,
			Website: "https://" + deal.Domain,
			Summary: answer,
		}
		if _, err := o.emit(deal, run, types.EventProfileAdded,
			types.ProfilePayload{Profile: profile},
			map[string]any{"name": profile.Name}); err != nil {
			return err
		}
	}

	if _, err := o.emit(deal, run, types.EventStageDone,
		types.StagePayload{Stage: StageEvidence, Status: types.PersonaDone}, nil); err != nil {
		return err
	}
	return o.writeMarker(deal.ID, run, StageEvidence, types.PersonaDone, 0, time.Since(start))
}

// buildQueries derives the evidence queries from the deal's static input.
func buildQueries(deal types.Deal) []string {
	queries := []string{
		deal.Name + " company overview",
		deal.Name + " competitors",
		deal.Name + " funding traction",
	}
	if deal.Profile.Stage != "" {
		queries = append(queries, fmt.Sprintf("%s %s market size", deal.Name, deal.Profile.Stage))
	}
	if len(deal.Profile.Sectors) > 0 {
		queries = append(queries, deal.Name+" "+strings.Join(deal.Profile.Sectors, " "))
	}
	return queries
}

// mergeResults deduplicates items by id, preserving query order, and picks
// the first synthesized answer.
func mergeResults(results []types.SearchResult) ([]types.EvidenceItem, string) {
	var items []types.EvidenceItem
	seen := make(map[string]bool)
	answer := ""
	for _, res := range results {
		for _, item := range res.Items {
			if item.ID == "" || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			items = append(items, item)
		}
		if answer == "" && res.Answer != "" {
			answer = res.Answer
		}
	}
	return items, answer
}

// runAnalysts fans out every analyst without a terminal marker. Each
// specialist resolves to done or degraded on its own; the stage completes
// when all are terminal.
func (o *Orchestrator) runAnalysts(ctx context.Context, deal types.Deal, run types.Run, markers map[string]types.StageMarker) error {
	var pending []string
	for _, spec := range schema.AnalystSpecializations {
		if m, ok := markers[AnalystStage(spec)]; ok && m.Status.Terminal() {
			continue
		}
		pending = append(pending, spec)
	}
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range pending {
		g.Go(func() error {
			return o.runAnalyst(gctx, deal, run, spec)
		})
	}
	return g.Wait()
}

// runAnalyst executes one specialist through the gate and merges its rubric
// partial via a state_patch event. Double validation failure degrades the
// persona; the run continues.
func (o *Orchestrator) runAnalyst(ctx context.Context, deal types.Deal, run types.Run, spec string) error {
	stage := AnalystStage(spec)
	if _, err := o.emit(deal, run, types.EventStageStarted,
		types.StagePayload{Stage: stage}, nil); err != nil {
		return err
	}
	start := time.Now()

	state, err := o.store.Snapshot(deal.ID)
	if err != nil {
		return err
	}
	input := types.AgentInput{Persona: "analyst", Specialization: spec, State: *state}

	res := gate.Produce(ctx, o.gate, analystContract(spec), o.producer(stage, input))
	latency := time.Since(start)

	if !res.OK {
		return o.degrade(deal, run, stage, res.Retries, latency, res.Errors.Format())
	}

	out := res.Value
	if _, err := o.emit(deal, run, types.EventStatePatch,
		types.StatePatchPayload{Rubric: out.Scores},
		publicScores(stage, out.Scores)); err != nil {
		return err
	}
	if out.Summary != "" {
		if _, err := o.emit(deal, run, types.EventMessage,
			types.MessagePayload{Text: fmt.Sprintf("[%s] %s", stage, out.Summary)}, nil); err != nil {
			return err
		}
	}
	if _, err := o.emit(deal, run, types.EventStageDone,
		types.StagePayload{Stage: stage, Status: types.PersonaDone, Retries: res.Retries}, nil); err != nil {
		return err
	}
	if err := o.recordOutput(deal.ID, stage, types.PersonaDone, out, res.Retries, latency); err != nil {
		return err
	}
	return o.writeMarker(deal.ID, run, stage, types.PersonaDone, res.Retries, latency)
}

// runAssociate synthesizes the analyst findings into hypotheses.
func (o *Orchestrator) runAssociate(ctx context.Context, deal types.Deal, run types.Run) error {
	if _, err := o.emit(deal, run, types.EventStageStarted,
		types.StagePayload{Stage: StageAssociate}, nil); err != nil {
		return err
	}
	start := time.Now()

	state, err := o.store.Snapshot(deal.ID)
	if err != nil {
		return err
	}
	input := types.AgentInput{Persona: "associate", State: *state}

	contract := gate.Contract[schema.AssociateOutput]{
		Name:     "associate",
		Coerce:   schema.CoerceAssociate,
		Validate: schema.ValidateAssociate,
	}
	res := gate.Produce(ctx, o.gate, contract, o.producer(StageAssociate, input))
	latency := time.Since(start)

	if !res.OK {
		return o.degrade(deal, run, StageAssociate, res.Retries, latency, res.Errors.Format())
	}

	out := res.Value
	if _, err := o.emit(deal, run, types.EventStatePatch,
		types.StatePatchPayload{Hypotheses: out.Hypotheses},
		map[string]any{"stage": StageAssociate, "hypotheses": len(out.Hypotheses)}); err != nil {
		return err
	}
	if out.Summary != "" {
		if _, err := o.emit(deal, run, types.EventMessage,
			types.MessagePayload{Text: "[associate] " + out.Summary}, nil); err != nil {
			return err
		}
	}
	if _, err := o.emit(deal, run, types.EventStageDone,
		types.StagePayload{Stage: StageAssociate, Status: types.PersonaDone, Retries: res.Retries}, nil); err != nil {
		return err
	}
	if err := o.recordOutput(deal.ID, StageAssociate, types.PersonaDone, out, res.Retries, latency); err != nil {
		return err
	}
	return o.writeMarker(deal.ID, run, StageAssociate, types.PersonaDone, res.Retries, latency)
}

// runPartner produces the final verdict. After validation the decision gate
// goes through the no-unfounded-confidence enforcement pass before it is
// merged into state.
func (o *Orchestrator) runPartner(ctx context.Context, deal types.Deal, run types.Run) error {
	if _, err := o.emit(deal, run, types.EventStageStarted,
		types.StagePayload{Stage: StagePartner}, nil); err != nil {
		return err
	}
	start := time.Now()

	state, err := o.store.Snapshot(deal.ID)
	if err != nil {
		return err
	}
	input := types.AgentInput{Persona: "partner", State: *state}

	contract := gate.Contract[schema.PartnerOutput]{
		Name:     "partner",
		Coerce:   schema.CoercePartner,
		Validate: schema.ValidatePartner,
	}
	res := gate.Produce(ctx, o.gate, contract, o.producer(StagePartner, input))
	latency := time.Since(start)

	if !res.OK {
		return o.degrade(deal, run, StagePartner, res.Retries, latency, res.Errors.Format())
	}

	out := res.Value
	decision := types.DecisionGate{
		Decision:        out.Decision,
		GatingQuestions: out.GatingQuestions,
		Checklist:       out.Checklist,
	}
	gate.EnforceDecision(&decision)

	if _, err := o.emit(deal, run, types.EventDecisionUpdated,
		types.DecisionPayload{
			Decision:        decision.Decision,
			GatingQuestions: decision.GatingQuestions,
			Checklist:       decision.Checklist,
		},
		types.DecisionPublic{
			Decision:       decision.Decision,
			Questions:      len(decision.GatingQuestions),
			ChecklistItems: len(decision.Checklist),
		}); err != nil {
		return err
	}
	if out.Rationale != "" {
		if _, err := o.emit(deal, run, types.EventMessage,
			types.MessagePayload{Text: "[partner] " + out.Rationale}, nil); err != nil {
			return err
		}
	}
	if _, err := o.emit(deal, run, types.EventStageDone,
		types.StagePayload{Stage: StagePartner, Status: types.PersonaDone, Retries: res.Retries}, nil); err != nil {
		return err
	}
	// The recorded output carries the enforced decision, not the raw one.
	out.Decision = decision.Decision
	out.GatingQuestions = decision.GatingQuestions
	out.Checklist = decision.Checklist
	if err := o.recordOutput(deal.ID, StagePartner, types.PersonaDone, out, res.Retries, latency); err != nil {
		return err
	}
	return o.writeMarker(deal.ID, run, StagePartner, types.PersonaDone, res.Retries, latency)
}

// producer adapts the reasoning runner into the gate's producer shape,
// applying the long reasoning timeout per attempt.
func (o *Orchestrator) producer(agentID string, input types.AgentInput) gate.Producer {
	return func(ctx context.Context, repair string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.ReasonTimeout)
		defer cancel()
		return o.runner.Invoke(ctx, agentID, input, repair)
	}
}

// degrade marks a persona degraded after the gate gave up, records the
// audit trail, and keeps the pipeline moving.
func (o *Orchestrator) degrade(deal types.Deal, run types.Run, stage string, retries int, latency time.Duration, reason string) error {
	o.log.Warn("persona degraded",
		zap.String("deal_id", deal.ID),
		zap.String("stage", stage),
		zap.Int("retries", retries),
		zap.String("reason", reason))

	if _, err := o.emit(deal, run, types.EventMessage,
		types.MessagePayload{Text: fmt.Sprintf("[%s] degraded after %d retries: %s", stage, retries, reason)}, nil); err != nil {
		return err
	}
	if _, err := o.emit(deal, run, types.EventStageDone,
		types.StagePayload{Stage: stage, Status: types.PersonaDegraded, Retries: retries}, nil); err != nil {
		return err
	}
	if err := o.recordOutput(deal.ID, stage, types.PersonaDegraded, nil, retries, latency); err != nil {
		return err
	}
	return o.writeMarker(deal.ID, run, stage, types.PersonaDegraded, retries, latency)
}

// analystContract binds an analyst specialization to its schema.
func analystContract(spec string) gate.Contract[schema.AnalystOutput] {
	return gate.Contract[schema.AnalystOutput]{
		Name: "analyst." + spec,
		Coerce: func(raw []byte) (schema.AnalystOutput, error) {
			return schema.CoerceAnalyst(raw, spec)
		},
		Validate: func(out schema.AnalystOutput) schema.ValidationErrors {
			return schema.ValidateAnalyst(out, spec)
		},
	}
}

// publicScores is the trimmed streaming view of an analyst patch: dimension
// scores only, no reasons.
func publicScores(stage string, scores map[string]types.RubricScore) map[string]any {
	dims := make([]string, 0, len(scores))
	for dim := range scores {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	flat := make(map[string]int, len(dims))
	for _, dim := range dims {
		flat[dim] = scores[dim].Score
	}
	return map[string]any{"stage": stage, "scores": flat}
}
