// Package reduce implements the pure state fold. Apply has no I/O, no
// randomness, and no clock reads: replay determinism depends on it. Live
// execution and replay share this single code path.
package reduce

import (
	"encoding/json"

	"dealdesk/internal/types"
)

// Initial seeds the canonical state from the deal's static input.
func Initial(in types.DealInput) types.DealState {
	return types.DealState{
		DealInput:  in,
		Evidence:   []types.EvidenceItem{},
		Hypotheses: []types.Hypothesis{},
		Rubric:     map[string]types.RubricScore{},
	}
}

// Apply folds one event into the state and returns the new state. The input
// state is never mutated. Events whose payload fails to decode, and all
// audit-only event types (stage_started, stage_done, message, run_*), leave
// the state unchanged.
func Apply(state types.DealState, ev types.Event) types.DealState {
	switch ev.Type {
	case types.EventEvidenceAdded:
		var p types.EvidencePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return state
		}
		return applyEvidence(state, p.Items)

	case types.EventProfileAdded:
		var p types.ProfilePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return state
		}
		profile := p.Profile
		state.CompanyProfile = &profile
		return state

	case types.EventDecisionUpdated:
		var p types.DecisionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return state
		}
		return applyDecision(state, p)

	case types.EventStatePatch:
		var p types.StatePatchPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return state
		}
		return applyPatch(state, p)

	default:
		// Audit-only: appended to the log, never alters DealState.
		return state
	}
}

// Replay folds a full event sequence from genesis.
func Replay(in types.DealInput, events []types.Event) types.DealState {
	state := Initial(in)
	for _, ev := range events {
		state = Apply(state, ev)
	}
	return state
}

// applyEvidence upserts items by id, preserving first-seen order.
// Re-ingestion refreshes an existing item's fields in place.
func applyEvidence(state types.DealState, items []types.EvidenceItem) types.DealState {
	evidence := make([]types.EvidenceItem, len(state.Evidence))
	copy(evidence, state.Evidence)

	index := make(map[string]int, len(evidence))
	for i, item := range evidence {
		index[item.ID] = i
	}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if i, ok := index[item.ID]; ok {
			evidence[i] = item
			continue
		}
		index[item.ID] = len(evidence)
		evidence = append(evidence, item)
	}

	state.Evidence = evidence
	return state
}

// applyDecision merges the payload into the decision gate; each absent field
// keeps its prior value.
func applyDecision(state types.DealState, p types.DecisionPayload) types.DealState {
	gate := types.DecisionGate{}
	if state.DecisionGate != nil {
		gate = *state.DecisionGate
	}
	if p.Decision != "" {
		gate.Decision = p.Decision
	}
	if p.GatingQuestions != nil {
		gate.GatingQuestions = append([]string(nil), p.GatingQuestions...)
	}
	if p.Checklist != nil {
		gate.Checklist = append([]types.ChecklistItem(nil), p.Checklist...)
	}
	state.DecisionGate = &gate
	return state
}

// applyPatch merges hypothesis and rubric partials. Hypotheses upsert by id
// preserving first-seen order; rubric entries replace per dimension.
func applyPatch(state types.DealState, p types.StatePatchPayload) types.DealState {
	if p.Hypotheses != nil {
		hyps := make([]types.Hypothesis, len(state.Hypotheses))
		copy(hyps, state.Hypotheses)

		index := make(map[string]int, len(hyps))
		for i, h := range hyps {
			index[h.ID] = i
		}
		for _, h := range p.Hypotheses {
			if h.ID == "" {
				continue
			}
			if i, ok := index[h.ID]; ok {
				hyps[i] = h
				continue
			}
			index[h.ID] = len(hyps)
			hyps = append(hyps, h)
		}
		state.Hypotheses = hyps
	}

	if p.Rubric != nil {
		rubric := make(map[string]types.RubricScore, len(state.Rubric)+len(p.Rubric))
		for k, v := range state.Rubric {
			rubric[k] = v
		}
		for k, v := range p.Rubric {
			rubric[k] = v
		}
		state.Rubric = rubric
	}

	return state
}
