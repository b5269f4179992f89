// Package reasoning provides the production Runner implementation over the
// Gemini API. The pipeline only depends on types.Runner; retry policy lives
// in the validation gate, never here.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"dealdesk/internal/types"
)

// personaInstructions hold the per-persona system instruction. The reasoning
// content itself is intentionally thin: dealdesk orchestrates opaque
// reasoning units, it does not prompt-engineer them.
var personaInstructions = map[string]string{
	"analyst": "You are a specialist venture analyst. Analyze the deal state for your specialization and return a JSON object matching the analyst schema: specialization, summary, scores (per assigned rubric dimension: score 0-100 plus up to 4 reasons), evidence_ids citing the evidence you relied on.",
	"associate": "You are a venture associate. Synthesize the analyst findings in the deal state into ranked investment hypotheses. Return a JSON object matching the associate schema: summary, hypotheses (id, text, support_evidence_ids, risks).",
	"partner": "You are a venture partner making the final call. Return a JSON object matching the partner schema: decision (KILL|PROCEED|PROCEED_IF), exactly 3 gating_questions, evidence_checklist (q, item, type EVIDENCE|ASSUMPTION, evidence_ids), rationale.",
}

// GenAIRunner invokes reasoning personas through the Gemini API with JSON
// response formatting.
type GenAIRunner struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGenAIRunner creates a runner. model defaults to gemini-2.0-flash.
func NewGenAIRunner(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GenAIRunner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIRunner{client: client, model: model, log: logger}, nil
}

// Invoke calls the reasoning unit once. A non-empty repair string carries
// the gate's validation feedback and is appended to the prompt verbatim.
// Invoke may fail hard or return malformed output; both are the gate's
// problem.
func (r *GenAIRunner) Invoke(ctx context.Context, agentID string, input types.AgentInput, repair string) ([]byte, error) {
	stateJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent input: %w", err)
	}

	prompt := fmt.Sprintf("Agent: %s\nInput:\n%s", agentID, stateJSON)
	if repair != "" {
		prompt += "\n\n" + repair
	}

	instruction := personaInstructions[input.Persona]
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := r.client.Models.GenerateContent(ctx, r.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("GenAI invocation failed for %s: %w", agentID, err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("GenAI returned empty output for %s", agentID)
	}
	r.log.Debug("reasoning unit responded",
		zap.String("agent", agentID),
		zap.Int("bytes", len(text)))
	return []byte(text), nil
}
