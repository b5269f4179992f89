package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"dealdesk/internal/types"
)

// PaddedGatingQuestion fills the gating-question list up to the required
// arity when the raw output came up short. An empty string would fail strict
// validation, so padding carries a real diligence prompt.
const PaddedGatingQuestion = "What additional diligence is required?"

// PartnerOutput is the final-verdict contract.
type PartnerOutput struct {
	Decision        types.Decision        `json:"decision"`
	GatingQuestions []string              `json:"gating_questions"`
	Checklist       []types.ChecklistItem `json:"evidence_checklist"`
	Rationale       string                `json:"rationale,omitempty"`
}

// CoercePartner normalizes a raw partner payload: decision and checklist
// enum aliases mapped to canonical values, gating questions padded or
// truncated to exactly three.
func CoercePartner(raw []byte) (PartnerOutput, error) {
	var out PartnerOutput
	if err := json.Unmarshal(CleanJSON(raw), &out); err != nil {
		return PartnerOutput{}, fmt.Errorf("partner output is not valid JSON: %w", err)
	}

	out.Decision = NormalizeDecision(string(out.Decision))
	out.Rationale = strings.TrimSpace(out.Rationale)

	qs := truncateAll(out.GatingQuestions, types.GatingQuestionCount)
	for len(qs) < types.GatingQuestionCount {
		qs = append(qs, PaddedGatingQuestion)
	}
	out.GatingQuestions = qs

	items := make([]types.ChecklistItem, 0, len(out.Checklist))
	for _, item := range out.Checklist {
		item.Question = strings.TrimSpace(item.Question)
		item.Item = strings.TrimSpace(item.Item)
		if item.Item == "" {
			continue
		}
		item.Type = normalizeChecklistType(string(item.Type))
		item.EvidenceIDs = truncateAll(item.EvidenceIDs, 8)
		items = append(items, item)
	}
	out.Checklist = items

	return out, nil
}

// ValidatePartner strict-checks a coerced partner output.
func ValidatePartner(out PartnerOutput) ValidationErrors {
	var errs ValidationErrors
	switch out.Decision {
	case types.DecisionKill, types.DecisionProceed, types.DecisionProceedIf:
	default:
		errs.add("decision", "must be KILL, PROCEED or PROCEED_IF, got %q", out.Decision)
	}
	if len(out.GatingQuestions) != types.GatingQuestionCount {
		errs.add("gating_questions", "exactly %d required, got %d",
			types.GatingQuestionCount, len(out.GatingQuestions))
	}
	for i, q := range out.GatingQuestions {
		if strings.TrimSpace(q) == "" {
			errs.add(fmt.Sprintf("gating_questions[%d]", i), "must not be empty")
		}
	}
	for i, item := range out.Checklist {
		if item.Item == "" {
			errs.add(fmt.Sprintf("evidence_checklist[%d].item", i), "must not be empty")
		}
		switch item.Type {
		case types.ChecklistEvidence, types.ChecklistAssumption:
		default:
			errs.add(fmt.Sprintf("evidence_checklist[%d].type", i),
				"must be EVIDENCE or ASSUMPTION, got %q", item.Type)
		}
	}
	return errs
}

// NormalizeDecision maps decision aliases onto the canonical verdicts.
// Unknown values pass through unchanged and fail strict validation.
func NormalizeDecision(raw string) types.Decision {
	v := strings.ToUpper(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	switch v {
	case "KILL", "PASS", "NO_GO", "REJECT":
		return types.DecisionKill
	case "PROCEED", "GO", "INVEST":
		return types.DecisionProceed
	case "PROCEED_IF", "PROCEEDIF", "CONDITIONAL", "CONDITIONAL_PROCEED":
		return types.DecisionProceedIf
	}
	return types.Decision(v)
}

func normalizeChecklistType(raw string) types.ChecklistType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "EVIDENCE", "FACT", "VERIFIED":
		return types.ChecklistEvidence
	case "ASSUMPTION", "ASSUMED", "UNVERIFIED":
		return types.ChecklistAssumption
	}
	return types.ChecklistType(strings.ToUpper(strings.TrimSpace(raw)))
}
