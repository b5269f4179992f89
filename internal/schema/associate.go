package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dealdesk/internal/types"
)

// MaxHypotheses caps the hypotheses an associate may return.
const MaxHypotheses = 6

// AssociateOutput is the synthesis contract: the associate reads all analyst
// findings and produces ranked investment hypotheses.
type AssociateOutput struct {
	Summary    string             `json:"summary"`
	Hypotheses []types.Hypothesis `json:"hypotheses"`
}

// CoerceAssociate normalizes a raw associate payload: hypotheses with empty
// text are dropped, missing ids are assigned, the list is capped.
func CoerceAssociate(raw []byte) (AssociateOutput, error) {
	var out AssociateOutput
	if err := json.Unmarshal(CleanJSON(raw), &out); err != nil {
		return AssociateOutput{}, fmt.Errorf("associate output is not valid JSON: %w", err)
	}

	out.Summary = strings.TrimSpace(out.Summary)

	hyps := make([]types.Hypothesis, 0, len(out.Hypotheses))
	for _, h := range out.Hypotheses {
		h.Text = strings.TrimSpace(h.Text)
		if h.Text == "" {
			continue
		}
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		h.SupportEvidenceIDs = truncateAll(h.SupportEvidenceIDs, 8)
		h.Risks = truncateAll(h.Risks, 4)
		hyps = append(hyps, h)
		if len(hyps) == MaxHypotheses {
			break
		}
	}
	out.Hypotheses = hyps

	return out, nil
}

// ValidateAssociate strict-checks a coerced associate output.
func ValidateAssociate(out AssociateOutput) ValidationErrors {
	var errs ValidationErrors
	if out.Summary == "" {
		errs.add("summary", "must not be empty")
	}
	if len(out.Hypotheses) == 0 {
		errs.add("hypotheses", "at least one hypothesis required")
	}
	for i, h := range out.Hypotheses {
		if h.ID == "" {
			errs.add(fmt.Sprintf("hypotheses[%d].id", i), "must not be empty")
		}
		if h.Text == "" {
			errs.add(fmt.Sprintf("hypotheses[%d].text", i), "must not be empty")
		}
	}
	return errs
}
