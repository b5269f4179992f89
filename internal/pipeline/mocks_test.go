package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dealdesk/internal/schema"
	"dealdesk/internal/store"
	"dealdesk/internal/types"
)

// fakeRunner scripts reasoning outputs per stage id. With no script for a
// stage it returns a contract-valid default, so tests only script the
// behavior under test.
type fakeRunner struct {
	mu      sync.Mutex
	scripts map[string][][]byte // consumed in order, last entry repeats
	calls   map[string]int
	repairs map[string][]string
	block   chan struct{} // when set, Invoke waits before returning
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		scripts: make(map[string][][]byte),
		calls:   make(map[string]int),
		repairs: make(map[string][]string),
	}
}

// script sets the outputs a stage returns on successive attempts.
func (r *fakeRunner) script(stage string, outputs ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[stage] = outputs
}

func (r *fakeRunner) callCount(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[stage]
}

func (r *fakeRunner) Invoke(ctx context.Context, agentID string, input types.AgentInput, repair string) ([]byte, error) {
	// Record the call before any blocking so callers can observe that the
	// invocation started while it is still parked.
	r.mu.Lock()
	attempt := r.calls[agentID]
	r.calls[agentID]++
	r.repairs[agentID] = append(r.repairs[agentID], repair)
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if outputs, ok := r.scripts[agentID]; ok {
		if attempt >= len(outputs) {
			attempt = len(outputs) - 1
		}
		return outputs[attempt], nil
	}

	switch input.Persona {
	case "analyst":
		return validAnalystJSON(input.Specialization), nil
	case "associate":
		return validAssociateJSON(), nil
	case "partner":
		return validPartnerJSON(), nil
	}
	return nil, fmt.Errorf("unknown persona %q", input.Persona)
}

func validAnalystJSON(spec string) []byte {
	scores := make(map[string]types.RubricScore)
	for _, dim := range schema.SpecDimensions[spec] {
		scores[dim] = types.RubricScore{Score: 70, Reasons: []string{"solid " + dim}}
	}
	out, _ := json.Marshal(schema.AnalystOutput{
		Specialization: spec,
		Summary:        spec + " looks healthy",
		Scores:         scores,
	})
	return out
}

func validAssociateJSON() []byte {
	out, _ := json.Marshal(schema.AssociateOutput{
		Summary: "two plausible wedges",
		Hypotheses: []types.Hypothesis{
			{ID: "h-1", Text: "wedge into SMB warehouses"},
			{ID: "h-2", Text: "expand via integrators"},
		},
	})
	return out
}

func validPartnerJSON() []byte {
	out, _ := json.Marshal(schema.PartnerOutput{
		Decision:        types.DecisionProceed,
		GatingQuestions: []string{"q1", "q2", "q3"},
		Checklist: []types.ChecklistItem{
			{Question: "q1", Item: "verify ARR", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-1"}},
			{Question: "q2", Item: "reference calls", Type: types.ChecklistEvidence, EvidenceIDs: []string{"ev-2"}},
		},
		Rationale: "strong team, early traction",
	})
	return out
}

// fakeSearch returns one canned result per query.
type fakeSearch struct {
	mu      sync.Mutex
	queries []string
}

func (s *fakeSearch) Search(ctx context.Context, query string, opts types.SearchOptions) (types.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	n := len(s.queries)
	return types.SearchResult{
		Items: []types.EvidenceItem{
			{ID: fmt.Sprintf("ev-%d", n), Title: query, URL: "https://example.com", Snippet: "snippet for " + query},
		},
		Answer: "Acme builds robotic arms.",
	}, nil
}

func (s *fakeSearch) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// fakeNotifier records completion notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) Notify(ctx context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func (n *fakeNotifier) notified() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

// fakeBroadcaster records broadcast event types in order.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *fakeBroadcaster) Broadcast(dealID string, ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBroadcaster) eventTypes() []types.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

// harness bundles a real file-backed store under a temp root with the fake
// collaborators.
type harness struct {
	store    *store.Manager
	runner   *fakeRunner
	search   *fakeSearch
	notifier *fakeNotifier
	cast     *fakeBroadcaster
	orch     *Orchestrator
	deal     types.Deal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mgr, err := store.NewManager(store.ManagerConfig{Root: t.TempDir(), Logger: zap.NewNop()})
	require.NoError(t, err)

	h := &harness{
		store:    mgr,
		runner:   newFakeRunner(),
		search:   &fakeSearch{},
		notifier: &fakeNotifier{},
		cast:     &fakeBroadcaster{},
		deal: types.Deal{
			ID:     "deal-1",
			Name:   "Acme Robotics",
			Domain: "acme.example",
			Profile: types.InvestorProfile{
				Thesis:       "industrial automation",
				Stage:        "seed",
				CheckSizeUSD: 500_000,
				Sectors:      []string{"robotics"},
			},
		},
	}
	require.NoError(t, mgr.CreateDeal(h.deal))

	h.orch = NewOrchestrator(OrchestratorConfig{
		Store:       mgr,
		Runner:      h.runner,
		Search:      h.search,
		Broadcaster: h.cast,
		Notifier:    h.notifier,
		Logger:      zap.NewNop(),
		Pipeline:    Config{MaxRetries: 1},
	})
	return h
}

func (h *harness) singleRun(t *testing.T) types.Run {
	t.Helper()
	runs, err := h.store.Runs(h.deal.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}
