package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	t.Run("bare object untouched", func(t *testing.T) {
		assert.Equal(t, `{"a":1}`, string(CleanJSON([]byte(`{"a":1}`))))
	})

	t.Run("strips fences with language tag", func(t *testing.T) {
		raw := "```json\n{\"a\": 1}\n```"
		assert.Equal(t, `{"a": 1}`, string(CleanJSON([]byte(raw))))
	})

	t.Run("strips surrounding prose", func(t *testing.T) {
		raw := `Here is the result you asked for: {"a": 1} Hope that helps!`
		assert.Equal(t, `{"a": 1}`, string(CleanJSON([]byte(raw))))
	})

	t.Run("prose plus fences", func(t *testing.T) {
		raw := "Sure!\n```json\n{\"decision\": \"KILL\"}\n```\nLet me know."
		assert.Equal(t, `{"decision": "KILL"}`, string(CleanJSON([]byte(raw))))
	})

	t.Run("arrays", func(t *testing.T) {
		raw := `output: [1, 2, 3] done`
		assert.Equal(t, `[1, 2, 3]`, string(CleanJSON([]byte(raw))))
	})
}

func TestValidationErrorsFormat(t *testing.T) {
	var errs ValidationErrors
	assert.True(t, errs.Empty())
	assert.Empty(t, errs.Format())

	errs.add("scores.market.score", "must be 0-100, got %d", 140)
	errs.add("summary", "must not be empty")

	require.False(t, errs.Empty())
	assert.Equal(t, "- scores.market.score: must be 0-100, got 140\n- summary: must not be empty", errs.Format())
}
