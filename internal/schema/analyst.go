package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"dealdesk/internal/types"
)

// Analyst specializations, the fixed fan-out set.
const (
	SpecMarket      = "market"
	SpecCompetition = "competition"
	SpecTeam        = "team"
	SpecTraction    = "traction"
)

// AnalystSpecializations lists the fan-out set in execution order.
var AnalystSpecializations = []string{SpecMarket, SpecCompetition, SpecTeam, SpecTraction}

// SpecDimensions maps each specialization to the rubric dimensions it owns.
// Together the four analysts cover all five dimensions exactly once.
var SpecDimensions = map[string][]string{
	SpecMarket:      {types.DimMarket, types.DimWhyNow},
	SpecCompetition: {types.DimMoat},
	SpecTeam:        {types.DimExecution},
	SpecTraction:    {types.DimDealFit},
}

// AnalystOutput is the contract for one specialist analyst.
type AnalystOutput struct {
	Specialization string                       `json:"specialization"`
	Summary        string                       `json:"summary"`
	Scores         map[string]types.RubricScore `json:"scores"`
	EvidenceIDs    []string                     `json:"evidence_ids,omitempty"`
}

// CoerceAnalyst normalizes a raw analyst payload: fences stripped, scores
// clamped to 0-100, reasons truncated to four, dimensions outside the
// specialization dropped.
func CoerceAnalyst(raw []byte, spec string) (AnalystOutput, error) {
	var out AnalystOutput
	if err := json.Unmarshal(CleanJSON(raw), &out); err != nil {
		return AnalystOutput{}, fmt.Errorf("analyst output is not valid JSON: %w", err)
	}

	out.Specialization = strings.ToLower(strings.TrimSpace(out.Specialization))
	if out.Specialization == "" {
		out.Specialization = spec
	}
	out.Summary = strings.TrimSpace(out.Summary)

	allowed := make(map[string]bool, 2)
	for _, dim := range SpecDimensions[spec] {
		allowed[dim] = true
	}

	scores := make(map[string]types.RubricScore, len(out.Scores))
	for dim, sc := range out.Scores {
		dim = normalizeDimension(dim)
		if !allowed[dim] {
			continue
		}
		sc.Score = clampScore(sc.Score)
		sc.Reasons = truncateAll(sc.Reasons, types.MaxRubricReasons)
		scores[dim] = sc
	}
	out.Scores = scores
	out.EvidenceIDs = truncateAll(out.EvidenceIDs, 16)

	return out, nil
}

// ValidateAnalyst strict-checks a coerced analyst output.
func ValidateAnalyst(out AnalystOutput, spec string) ValidationErrors {
	var errs ValidationErrors
	if out.Specialization != spec {
		errs.add("specialization", "must be %q, got %q", spec, out.Specialization)
	}
	if out.Summary == "" {
		errs.add("summary", "must not be empty")
	}
	for _, dim := range SpecDimensions[spec] {
		if _, ok := out.Scores[dim]; !ok {
			errs.add("scores."+dim, "missing required dimension")
		}
	}
	for dim, sc := range out.Scores {
		if sc.Score < 0 || sc.Score > 100 {
			errs.add("scores."+dim+".score", "must be 0-100, got %d", sc.Score)
		}
		if len(sc.Reasons) > types.MaxRubricReasons {
			errs.add("scores."+dim+".reasons", "at most %d entries", types.MaxRubricReasons)
		}
	}
	return errs
}

// normalizeDimension maps common dimension aliases onto the canonical five.
func normalizeDimension(dim string) string {
	dim = strings.ToLower(strings.TrimSpace(dim))
	dim = strings.ReplaceAll(dim, "-", "_")
	dim = strings.ReplaceAll(dim, " ", "_")
	switch dim {
	case "market_size", "tam":
		return types.DimMarket
	case "defensibility", "competitive_moat":
		return types.DimMoat
	case "whynow", "timing":
		return types.DimWhyNow
	case "team", "execution_risk":
		return types.DimExecution
	case "fit", "thesis_fit":
		return types.DimDealFit
	}
	return dim
}
