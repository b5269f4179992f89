package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageScore(t *testing.T) {
	t.Run("exact mean", func(t *testing.T) {
		rubric := map[string]RubricScore{
			DimMarket:    {Score: 80},
			DimMoat:      {Score: 60},
			DimWhyNow:    {Score: 70},
			DimExecution: {Score: 50},
			DimDealFit:   {Score: 40},
		}
		assert.Equal(t, 60, AverageScore(rubric))
	})

	t.Run("rounds half up", func(t *testing.T) {
		// sum = 303, mean = 60.6 -> 61; sum = 302, mean = 60.4 -> 60.
		rubric := map[string]RubricScore{
			DimMarket:    {Score: 61},
			DimMoat:      {Score: 61},
			DimWhyNow:    {Score: 61},
			DimExecution: {Score: 60},
			DimDealFit:   {Score: 60},
		}
		assert.Equal(t, 61, AverageScore(rubric))

		rubric[DimWhyNow] = RubricScore{Score: 60}
		assert.Equal(t, 60, AverageScore(rubric))
	})

	t.Run("point eight rounds up", func(t *testing.T) {
		// sum = 299, mean = 59.8 -> 60.
		rubric := map[string]RubricScore{
			DimMarket:    {Score: 60},
			DimMoat:      {Score: 60},
			DimWhyNow:    {Score: 60},
			DimExecution: {Score: 60},
			DimDealFit:   {Score: 59},
		}
		assert.Equal(t, 60, AverageScore(rubric))
	})

	t.Run("missing dimensions count as zero", func(t *testing.T) {
		rubric := map[string]RubricScore{DimMarket: {Score: 100}}
		assert.Equal(t, 20, AverageScore(rubric))
	})

	t.Run("empty rubric", func(t *testing.T) {
		assert.Equal(t, 0, AverageScore(nil))
	})
}

func TestEventPublicPayload(t *testing.T) {
	t.Run("trimmed payload wins", func(t *testing.T) {
		ev, err := NewEvent("d1", "r1", EventEvidenceAdded,
			EvidencePayload{Items: []EvidenceItem{{ID: "ev-1", Snippet: "secret snippet"}}},
			EvidencePublic{Count: 1, IDs: []string{"ev-1"}})
		require.NoError(t, err)

		var pub EvidencePublic
		require.NoError(t, json.Unmarshal(ev.PublicPayload(), &pub))
		assert.Equal(t, 1, pub.Count)
		assert.NotContains(t, string(ev.PublicPayload()), "secret snippet")
	})

	t.Run("falls back to full payload", func(t *testing.T) {
		ev, err := NewEvent("d1", "r1", EventMessage, MessagePayload{Text: "note"}, nil)
		require.NoError(t, err)
		assert.Equal(t, ev.Payload, ev.PublicPayload())
	})
}

func TestPersonaStatusTerminal(t *testing.T) {
	assert.True(t, PersonaDone.Terminal())
	assert.True(t, PersonaDegraded.Terminal())
	assert.False(t, PersonaPending.Terminal())
	assert.False(t, PersonaRunning.Terminal())
	assert.False(t, PersonaError.Terminal())
}
