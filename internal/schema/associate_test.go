package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceAssociate(t *testing.T) {
	t.Run("assigns ids and drops empty text", func(t *testing.T) {
		raw := []byte(`{
			"summary": "two plausible wedges",
			"hypotheses": [
				{"text": "wedge A", "risks": ["churn"]},
				{"text": "   "},
				{"id": "h-keep", "text": "wedge B"}
			]
		}`)
		out, err := CoerceAssociate(raw)
		require.NoError(t, err)

		require.Len(t, out.Hypotheses, 2)
		assert.NotEmpty(t, out.Hypotheses[0].ID)
		assert.Equal(t, "h-keep", out.Hypotheses[1].ID)
		assert.Empty(t, ValidateAssociate(out))
	})

	t.Run("caps hypotheses", func(t *testing.T) {
		var hyps []string
		for i := 0; i < MaxHypotheses+3; i++ {
			hyps = append(hyps, fmt.Sprintf(`{"text": "h%d"}`, i))
		}
		raw := []byte(`{"summary": "s", "hypotheses": [` + strings.Join(hyps, ",") + `]}`)

		out, err := CoerceAssociate(raw)
		require.NoError(t, err)
		assert.Len(t, out.Hypotheses, MaxHypotheses)
	})
}

func TestValidateAssociate(t *testing.T) {
	t.Run("requires at least one hypothesis", func(t *testing.T) {
		errs := ValidateAssociate(AssociateOutput{Summary: "s"})
		require.Len(t, errs, 1)
		assert.Equal(t, "hypotheses", errs[0].Path)
	})

	t.Run("requires summary", func(t *testing.T) {
		out, err := CoerceAssociate([]byte(`{"hypotheses": [{"text": "x"}]}`))
		require.NoError(t, err)
		errs := ValidateAssociate(out)
		require.Len(t, errs, 1)
		assert.Equal(t, "summary", errs[0].Path)
	})
}
