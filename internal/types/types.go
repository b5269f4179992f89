// Package types defines the dealdesk domain model: deals, runs, the
// append-only event record, and the canonical DealState the event log folds
// into. It also holds the narrow interfaces the pipeline's collaborators
// implement (see interfaces.go).
package types

import (
	"encoding/json"
	"time"
)

// InvestorProfile captures the static thesis parameters a deal is evaluated
// against.
type InvestorProfile struct {
	Thesis       string   `json:"thesis"`
	Stage        string   `json:"stage"` // pre-seed, seed, series-a, ...
	CheckSizeUSD int64    `json:"check_size_usd"`
	Sectors      []string `json:"sectors,omitempty"`
}

// DealInput is the static input a deal is created with. It is copied into
// DealState at run start and never mutated by the pipeline.
type DealInput struct {
	Name    string          `json:"name"`
	Domain  string          `json:"domain"`
	Profile InvestorProfile `json:"profile"`
}

// Deal is the subject under evaluation. Created once, mutated only via runs,
// never deleted (only archived).
type Deal struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Domain    string          `json:"domain"`
	Profile   InvestorProfile `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
	Archived  bool            `json:"archived,omitempty"`
}

// Input returns the static pipeline input for the deal.
func (d Deal) Input() DealInput {
	return DealInput{Name: d.Name, Domain: d.Domain, Profile: d.Profile}
}

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunComplete  RunStatus = "complete"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Run is one end-to-end execution of the pipeline for a deal. Seq increases
// monotonically per deal; at most one run per deal is active at a time.
type Run struct {
	ID         string     `json:"id"`
	DealID     string     `json:"deal_id"`
	Seq        int        `json:"seq"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// EventType discriminates event log records.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventStageStarted    EventType = "stage_started"
	EventEvidenceAdded   EventType = "evidence_added"
	EventProfileAdded    EventType = "profile_added"
	EventMessage         EventType = "message"
	EventStatePatch      EventType = "state_patch"
	EventDecisionUpdated EventType = "decision_updated"
	EventStageDone       EventType = "stage_done"
	EventRunError        EventType = "run_error"
	EventRunCompleted    EventType = "run_completed"
)

// Event is one append-only log record. Payload is the full internal payload
// used for replay; Public is the trimmed payload pushed to stream
// subscribers. The two are decoupled so the replay-critical shape can evolve
// without breaking the public contract.
type Event struct {
	TS      time.Time       `json:"ts"`
	DealID  string          `json:"deal_id"`
	RunID   string          `json:"run_id,omitempty"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Public  json.RawMessage `json:"public,omitempty"`
}

// PublicPayload returns the trimmed payload for streaming, falling back to
// the full payload when no trimmed form was supplied.
func (e Event) PublicPayload() json.RawMessage {
	if len(e.Public) > 0 {
		return e.Public
	}
	return e.Payload
}

// NewEvent builds an event, marshaling the payload and the optional trimmed
// public payload. Either may be nil.
func NewEvent(dealID, runID string, typ EventType, payload, public any) (Event, error) {
	ev := Event{TS: time.Now().UTC(), DealID: dealID, RunID: runID, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = raw
	}
	if public != nil {
		raw, err := json.Marshal(public)
		if err != nil {
			return Event{}, err
		}
		ev.Public = raw
	}
	return ev, nil
}

// EvidenceItem is a citable snippet backing a claim. Items are append-mostly:
// re-ingestion of the same id refreshes snippet/title/url in place, never
// deletes.
type EvidenceItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	Source      string    `json:"source,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// CompanyProfile is the enriched view of the company under evaluation.
type CompanyProfile struct {
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Location    string `json:"location,omitempty"`
	FoundedYear int    `json:"founded_year,omitempty"`
}

// Hypothesis is an investment hypothesis produced by the associate and
// consumed by the partner.
type Hypothesis struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	SupportEvidenceIDs []string `json:"support_evidence_ids,omitempty"`
	Risks              []string `json:"risks,omitempty"`
}

// The five fixed rubric dimensions. Every run scores exactly these.
const (
	DimMarket    = "market"
	DimMoat      = "moat"
	DimWhyNow    = "why_now"
	DimExecution = "execution"
	DimDealFit   = "deal_fit"
)

// RubricDimensions lists the fixed dimensions in canonical order.
var RubricDimensions = []string{DimMarket, DimMoat, DimWhyNow, DimExecution, DimDealFit}

// MaxRubricReasons caps the supporting reasons per dimension.
const MaxRubricReasons = 4

// RubricScore is one dimension's score with up to four supporting reasons.
type RubricScore struct {
	Score   int      `json:"score"` // 0-100
	Reasons []string `json:"reasons,omitempty"`
}

// AverageScore returns the integer mean of the five dimension scores,
// round-half-up. Unscored dimensions count as zero.
func AverageScore(rubric map[string]RubricScore) int {
	sum := 0
	for _, dim := range RubricDimensions {
		sum += rubric[dim].Score
	}
	n := len(RubricDimensions)
	return (sum*2 + n) / (n * 2)
}

// Decision is the gated go/no-go verdict.
type Decision string

const (
	DecisionKill      Decision = "KILL"
	DecisionProceed   Decision = "PROCEED"
	DecisionProceedIf Decision = "PROCEED_IF"
)

// ChecklistType tags a checklist item as backed by evidence or assumed.
type ChecklistType string

const (
	ChecklistEvidence   ChecklistType = "EVIDENCE"
	ChecklistAssumption ChecklistType = "ASSUMPTION"
)

// ChecklistItem ties a gating question to a concrete diligence item.
type ChecklistItem struct {
	Question    string        `json:"q"`
	Item        string        `json:"item"`
	Type        ChecklistType `json:"type"`
	EvidenceIDs []string      `json:"evidence_ids,omitempty"`
}

// GatingQuestionCount is the exact arity of DecisionGate.GatingQuestions
// after coercion.
const GatingQuestionCount = 3

// DecisionGate is the final verdict plus the questions and checklist
// justifying it. After enforcement no item may carry type EVIDENCE with an
// empty EvidenceIDs list.
type DecisionGate struct {
	Decision        Decision        `json:"decision"`
	GatingQuestions []string        `json:"gating_questions"`
	Checklist       []ChecklistItem `json:"evidence_checklist,omitempty"`
}

// DealState is the canonical per-deal state derived by folding the event log.
// Replaying the log from genesis must reproduce it bit-for-bit.
type DealState struct {
	DealInput      DealInput              `json:"deal_input"`
	Evidence       []EvidenceItem         `json:"evidence"`
	CompanyProfile *CompanyProfile        `json:"company_profile,omitempty"`
	Hypotheses     []Hypothesis           `json:"hypotheses"`
	Rubric         map[string]RubricScore `json:"rubric"`
	DecisionGate   *DecisionGate          `json:"decision_gate,omitempty"`
}

// PersonaStatus is the status of one reasoning persona within a run.
type PersonaStatus string

const (
	PersonaPending  PersonaStatus = "pending"
	PersonaRunning  PersonaStatus = "running"
	PersonaDone     PersonaStatus = "done"
	PersonaError    PersonaStatus = "error"
	PersonaDegraded PersonaStatus = "degraded"
)

// Terminal reports whether the status satisfies a successor stage's
// precondition. Degraded counts as terminal so one bad agent never deadlocks
// the pipeline.
func (s PersonaStatus) Terminal() bool {
	return s == PersonaDone || s == PersonaDegraded
}

// PersonaOutput records one persona's validated output and bookkeeping for a
// run.
type PersonaOutput struct {
	Persona   string          `json:"persona"`
	Status    PersonaStatus   `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Retries   int             `json:"retries"`
	LatencyMS int64           `json:"latency_ms"`
}

// StageMarker is the small per-stage completion record used solely for
// resumption. Markers survive process restarts; they are not part of replay.
type StageMarker struct {
	Stage       string        `json:"stage"`
	RunID       string        `json:"run_id"`
	Status      PersonaStatus `json:"status"`
	Retries     int           `json:"retries,omitempty"`
	LatencyMS   int64         `json:"latency_ms,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}
