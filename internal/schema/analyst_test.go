package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealdesk/internal/types"
)

func TestCoerceAnalyst(t *testing.T) {
	t.Run("clamps scores and truncates reasons", func(t *testing.T) {
		raw := []byte(`{
			"specialization": "market",
			"summary": "large and growing",
			"scores": {
				"market": {"score": 140, "reasons": ["r1","r2","r3","r4","r5","r6"]},
				"why_now": {"score": -5, "reasons": ["timing"]}
			}
		}`)
		out, err := CoerceAnalyst(raw, SpecMarket)
		require.NoError(t, err)

		assert.Equal(t, 100, out.Scores[types.DimMarket].Score)
		assert.Len(t, out.Scores[types.DimMarket].Reasons, types.MaxRubricReasons)
		assert.Equal(t, 0, out.Scores[types.DimWhyNow].Score)
		assert.Empty(t, ValidateAnalyst(out, SpecMarket))
	})

	t.Run("drops dimensions outside the specialization", func(t *testing.T) {
		raw := []byte(`{
			"specialization": "competition",
			"summary": "few entrants",
			"scores": {
				"moat": {"score": 65},
				"market": {"score": 90},
				"execution": {"score": 12}
			}
		}`)
		out, err := CoerceAnalyst(raw, SpecCompetition)
		require.NoError(t, err)

		require.Len(t, out.Scores, 1)
		assert.Contains(t, out.Scores, types.DimMoat)
	})

	t.Run("normalizes dimension aliases", func(t *testing.T) {
		raw := []byte(`{
			"specialization": "market",
			"summary": "s",
			"scores": {
				"TAM": {"score": 80},
				"timing": {"score": 60}
			}
		}`)
		out, err := CoerceAnalyst(raw, SpecMarket)
		require.NoError(t, err)

		assert.Contains(t, out.Scores, types.DimMarket)
		assert.Contains(t, out.Scores, types.DimWhyNow)
		assert.Empty(t, ValidateAnalyst(out, SpecMarket))
	})

	t.Run("fenced output", func(t *testing.T) {
		raw := []byte("```json\n{\"specialization\":\"team\",\"summary\":\"strong founders\",\"scores\":{\"execution\":{\"score\":75}}}\n```")
		out, err := CoerceAnalyst(raw, SpecTeam)
		require.NoError(t, err)
		assert.Empty(t, ValidateAnalyst(out, SpecTeam))
	})

	t.Run("missing specialization defaults", func(t *testing.T) {
		raw := []byte(`{"summary":"s","scores":{"deal_fit":{"score":50}}}`)
		out, err := CoerceAnalyst(raw, SpecTraction)
		require.NoError(t, err)
		assert.Equal(t, SpecTraction, out.Specialization)
	})

	t.Run("non-json fails", func(t *testing.T) {
		_, err := CoerceAnalyst([]byte("I could not complete the analysis."), SpecMarket)
		require.Error(t, err)
	})
}

func TestValidateAnalyst(t *testing.T) {
	t.Run("missing dimension reported per path", func(t *testing.T) {
		out := AnalystOutput{
			Specialization: SpecMarket,
			Summary:        "s",
			Scores:         map[string]types.RubricScore{types.DimMarket: {Score: 50}},
		}
		errs := ValidateAnalyst(out, SpecMarket)
		require.Len(t, errs, 1)
		assert.Equal(t, "scores.why_now", errs[0].Path)
	})

	t.Run("empty summary", func(t *testing.T) {
		out := AnalystOutput{
			Specialization: SpecTraction,
			Scores:         map[string]types.RubricScore{types.DimDealFit: {Score: 50}},
		}
		errs := ValidateAnalyst(out, SpecTraction)
		require.Len(t, errs, 1)
		assert.Equal(t, "summary", errs[0].Path)
	})
}

func TestSpecDimensionsCoverRubricExactlyOnce(t *testing.T) {
	seen := map[string]int{}
	for _, spec := range AnalystSpecializations {
		for _, dim := range SpecDimensions[spec] {
			seen[dim]++
		}
	}
	for _, dim := range types.RubricDimensions {
		assert.Equal(t, 1, seen[dim], "dimension %s", dim)
	}
	assert.Len(t, seen, len(types.RubricDimensions))
}
