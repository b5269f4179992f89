package types

// Typed event payloads. The reducer decodes exactly these shapes; everything
// else in an event is audit-only.

// EvidencePayload carries newly ingested evidence items.
type EvidencePayload struct {
	Items []EvidenceItem `json:"items"`
}

// EvidencePublic is the trimmed streaming view of an evidence_added event:
// ids and count only, no snippets.
type EvidencePublic struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids,omitempty"`
}

// ProfilePayload replaces the company profile.
type ProfilePayload struct {
	Profile CompanyProfile `json:"profile"`
}

// DecisionPayload merges into the decision gate. Absent fields default to
// the prior value.
type DecisionPayload struct {
	Decision        Decision        `json:"decision,omitempty"`
	GatingQuestions []string        `json:"gating_questions,omitempty"`
	Checklist       []ChecklistItem `json:"evidence_checklist,omitempty"`
}

// DecisionPublic is the trimmed streaming view of a decision_updated event.
type DecisionPublic struct {
	Decision       Decision `json:"decision"`
	Questions      int      `json:"questions"`
	ChecklistItems int      `json:"checklist_items"`
}

// StatePatchPayload merges hypothesis and rubric partials.
type StatePatchPayload struct {
	Hypotheses []Hypothesis           `json:"hypotheses,omitempty"`
	Rubric     map[string]RubricScore `json:"rubric,omitempty"`
}

// StagePayload annotates stage_started / stage_done audit events.
type StagePayload struct {
	Stage   string        `json:"stage"`
	Status  PersonaStatus `json:"status,omitempty"`
	Retries int           `json:"retries,omitempty"`
}

// MessagePayload is a human-readable audit note.
type MessagePayload struct {
	Text string `json:"text"`
}

// ErrorPayload annotates run_error audit events.
type ErrorPayload struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}
