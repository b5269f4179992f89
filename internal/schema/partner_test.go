package schema

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealdesk/internal/types"
)

func TestCoercePartner_GatingQuestionArity(t *testing.T) {
	cases := []struct {
		raw  int
		want []string
	}{
		{0, []string{PaddedGatingQuestion, PaddedGatingQuestion, PaddedGatingQuestion}},
		{1, []string{"q0", PaddedGatingQuestion, PaddedGatingQuestion}},
		{3, []string{"q0", "q1", "q2"}},
		{5, []string{"q0", "q1", "q2"}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d raw questions", tc.raw), func(t *testing.T) {
			qs := make([]string, tc.raw)
			for i := range qs {
				qs[i] = fmt.Sprintf("q%d", i)
			}
			payload := PartnerOutput{Decision: types.DecisionKill, GatingQuestions: qs}
			raw, err := json.Marshal(payload)
			require.NoError(t, err)

			out, err := CoercePartner(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.GatingQuestions)
			assert.Empty(t, ValidatePartner(out))
		})
	}
}

func TestCoercePartner_Normalization(t *testing.T) {
	t.Run("decision aliases", func(t *testing.T) {
		cases := map[string]types.Decision{
			"kill":        types.DecisionKill,
			"PASS":        types.DecisionKill,
			"no-go":       types.DecisionKill,
			"REJECT":      types.DecisionKill,
			"go":          types.DecisionProceed,
			"INVEST":      types.DecisionProceed,
			"proceed":     types.DecisionProceed,
			"conditional": types.DecisionProceedIf,
			"proceed if":  types.DecisionProceedIf,
			"PROCEED_IF":  types.DecisionProceedIf,
		}
		for alias, want := range cases {
			assert.Equal(t, want, NormalizeDecision(alias), "alias %q", alias)
		}
	})

	t.Run("unknown decision fails validation", func(t *testing.T) {
		raw := []byte(`{"decision": "MAYBE", "gating_questions": ["a","b","c"]}`)
		out, err := CoercePartner(raw)
		require.NoError(t, err)

		errs := ValidatePartner(out)
		require.Len(t, errs, 1)
		assert.Equal(t, "decision", errs[0].Path)
	})

	t.Run("checklist type aliases and empty items dropped", func(t *testing.T) {
		raw := []byte(`{
			"decision": "PROCEED",
			"gating_questions": ["a","b","c"],
			"evidence_checklist": [
				{"q": "a", "item": "verify ARR", "type": "fact", "evidence_ids": ["ev-1"]},
				{"q": "b", "item": "ref calls", "type": "assumed"},
				{"q": "c", "item": "   ", "type": "EVIDENCE"}
			]
		}`)
		out, err := CoercePartner(raw)
		require.NoError(t, err)

		require.Len(t, out.Checklist, 2)
		assert.Equal(t, types.ChecklistEvidence, out.Checklist[0].Type)
		assert.Equal(t, types.ChecklistAssumption, out.Checklist[1].Type)
		assert.Empty(t, ValidatePartner(out))
	})
}
