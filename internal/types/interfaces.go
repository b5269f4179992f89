package types

import (
	"context"
)

// Store is the persistence surface the pipeline depends on. The file-backed
// append log and snapshot are ground truth; any relational projection behind
// the implementation is a rebuildable index, never a correctness dependency.
type Store interface {
	// Deals
	CreateDeal(deal Deal) error
	GetDeal(dealID string) (Deal, error)

	// Run lifecycle. StartRun archives the prior run's artifacts and fails
	// with ErrRunActive while another run is receiving events.
	StartRun(dealID string) (Run, error)
	ActiveRun(dealID string) (*Run, error)
	Runs(dealID string) ([]Run, error)
	CompleteRun(dealID, runID string) error
	FailRun(dealID, runID string) error
	CancelRun(dealID, runID string) error
	// ReopenRun returns an errored or cancelled run to the running state so
	// it resumes from its surviving markers.
	ReopenRun(dealID, runID string) error

	// Event log. Append is durable and append-only; it folds the event into
	// the canonical state, rewrites the snapshot, and returns the post-fold
	// state.
	Append(dealID string, ev Event) (DealState, error)
	Events(dealID string) ([]Event, error)
	Snapshot(dealID string) (*DealState, error)

	// Stage completion markers, used solely for resumption.
	WriteMarker(dealID string, m StageMarker) error
	Markers(dealID string) (map[string]StageMarker, error)

	// Validated persona output records, persisted beside the markers.
	WritePersonaOutput(dealID string, out PersonaOutput) error
	PersonaOutputs(dealID string) (map[string]PersonaOutput, error)
}

// Runner invokes an external reasoning unit. It may fail hard (network loss)
// or return malformed output; retry policy belongs to the validation gate,
// never to the runner.
type Runner interface {
	Invoke(ctx context.Context, agentID string, input AgentInput, repair string) ([]byte, error)
}

// AgentInput is the stage input handed to a reasoning unit, built from the
// current canonical state.
type AgentInput struct {
	Persona        string    `json:"persona"`
	Specialization string    `json:"specialization,omitempty"`
	State          DealState `json:"state"`
}

// SearchOptions tunes a single evidence provider query.
type SearchOptions struct {
	MaxResults int    `json:"max_results,omitempty"`
	Domain     string `json:"domain,omitempty"`
}

// SearchResult is what an evidence provider returns. Answer is an optional
// synthesized answer alongside the raw items.
type SearchResult struct {
	Items  []EvidenceItem `json:"items"`
	Answer string         `json:"answer,omitempty"`
}

// SearchProvider queries an external evidence/enrichment source.
// Implementations wrapped by evidence.Resilient never return an error to the
// pipeline; a failure becomes an empty result.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)
}

// Broadcaster pushes trimmed event notifications to live subscribers.
type Broadcaster interface {
	Broadcast(dealID string, ev Event)
}

// Notifier delivers a fire-and-forget human-readable alert. Failures are
// logged by implementations, never propagated into pipeline state.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}
