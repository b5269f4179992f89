// Package pipeline drives the deal evaluation state machine:
//
//	INIT -> EVIDENCE_GATHERING -> ANALYSTS (parallel) -> ASSOCIATE -> PARTNER -> COMPLETE
//
// Every transition emits one or more events into the append-only store; the
// canonical state is the fold of that log. A stage starts only when all of
// its predecessors are terminal, and degraded counts as terminal, so a
// single bad agent never deadlocks the run. The only failure that aborts
// before any stage is deal-not-found; everything else degrades and the
// pipeline keeps moving.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dealdesk/internal/gate"
	"dealdesk/internal/schema"
	"dealdesk/internal/types"
)

// Stage unit ids. Markers are keyed by these; the advancer walks them in
// this order.
const (
	StageEvidence  = "evidence"
	StageAssociate = "associate"
	StagePartner   = "partner"
)

// AnalystStage returns the unit id for one analyst specialization.
func AnalystStage(spec string) string {
	return "analyst_" + spec
}

// Units lists every unit of work in execution order. The analyst units are
// mutually independent; everything else is sequential.
func Units() []string {
	units := []string{StageEvidence}
	for _, spec := range schema.AnalystSpecializations {
		units = append(units, AnalystStage(spec))
	}
	return append(units, StageAssociate, StagePartner)
}

// Config tunes orchestration. Zero values take defaults.
type Config struct {
	SearchTimeout       time.Duration // short bound, evidence lookups
	ReasonTimeout       time.Duration // long bound, reasoning calls
	ProviderConcurrency int64         // nested cap on concurrent provider calls
	MaxRetries          int           // gate retry ceiling
}

func (c Config) withDefaults() Config {
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 12 * time.Second
	}
	if c.ReasonTimeout <= 0 {
		c.ReasonTimeout = 40 * time.Second
	}
	if c.ProviderConcurrency <= 0 {
		c.ProviderConcurrency = 2
	}
	return c
}

// OrchestratorConfig wires the orchestrator's collaborators. Store and
// Runner are required; Search, Broadcaster and Notifier may be nil.
type OrchestratorConfig struct {
	Store       types.Store
	Runner      types.Runner
	Search      types.SearchProvider
	Broadcaster types.Broadcaster
	Notifier    types.Notifier
	Logger      *zap.Logger
	Pipeline    Config
}

// Orchestrator sequences the stages of a deal run. It is a plain service:
// all dependencies arrive through the constructor, so tests substitute
// fakes freely.
type Orchestrator struct {
	store       types.Store
	runner      types.Runner
	search      types.SearchProvider
	broadcaster types.Broadcaster
	notifier    types.Notifier
	gate        *gate.Gate
	cfg         Config
	log         *zap.Logger

	// inflight tracks deals with a live orchestration goroutine in this
	// process. It doubles as the advancer's forward-progress heartbeat.
	mu       sync.Mutex
	inflight map[string]bool

	// emitMu serializes append+broadcast so subscribers observe events in
	// log order even when analysts complete concurrently.
	emitMu sync.Mutex
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	pc := cfg.Pipeline.withDefaults()
	return &Orchestrator{
		store:       cfg.Store,
		runner:      cfg.Runner,
		search:      cfg.Search,
		broadcaster: cfg.Broadcaster,
		notifier:    cfg.Notifier,
		gate:        gate.New(pc.MaxRetries, cfg.Logger),
		cfg:         pc,
		log:         cfg.Logger,
		inflight:    make(map[string]bool),
	}
}

// begin registers an in-process orchestration for the deal. It returns
// false when one is already live, making concurrent Run calls no-ops.
func (o *Orchestrator) begin(dealID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[dealID] {
		return false
	}
	o.inflight[dealID] = true
	return true
}

func (o *Orchestrator) end(dealID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, dealID)
}

func (o *Orchestrator) isRunning(dealID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[dealID]
}

// Run executes the pipeline for a deal. An active, errored, or cancelled
// run is resumed from its first incomplete unit; if no run exists yet a
// fresh one starts. A complete latest run makes Run a no-op so repeated
// invocations never duplicate external calls (use Rerun for a fresh
// evaluation). The only pre-stage abort is deal-not-found; stage failures
// degrade.
func (o *Orchestrator) Run(ctx context.Context, dealID string) error {
	deal, err := o.store.GetDeal(dealID)
	if err != nil {
		return err
	}

	if !o.begin(dealID) {
		o.log.Info("run already in flight, skipping", zap.String("deal_id", dealID))
		return nil
	}
	defer o.end(dealID)

	run, fresh, err := o.ensureRun(dealID)
	if err != nil {
		return err
	}
	if run == nil {
		o.log.Info("latest run already complete, nothing to do",
			zap.String("deal_id", dealID))
		return nil
	}
	return o.drive(ctx, deal, *run, fresh)
}

// Rerun starts a fresh evaluation even when the previous run completed,
// archiving its artifacts. Fails with ErrRunActive while a run is live.
func (o *Orchestrator) Rerun(ctx context.Context, dealID string) error {
	deal, err := o.store.GetDeal(dealID)
	if err != nil {
		return err
	}

	if !o.begin(dealID) {
		o.log.Info("run already in flight, skipping", zap.String("deal_id", dealID))
		return nil
	}
	defer o.end(dealID)

	run, err := o.store.StartRun(dealID)
	if err != nil {
		return err
	}
	return o.drive(ctx, deal, run, true)
}

// drive walks the run through its stage sequence. Finished stages are
// detected via their markers and never re-executed.
func (o *Orchestrator) drive(ctx context.Context, deal types.Deal, run types.Run, fresh bool) error {
	if fresh {
		if _, err := o.emit(deal, run, types.EventRunStarted,
			map[string]any{"run_id": run.ID, "seq": run.Seq}, nil); err != nil {
			return o.abort(deal, run, "init", err)
		}
	}

	o.log.Info("pipeline started",
		zap.String("deal_id", deal.ID),
		zap.String("run_id", run.ID),
		zap.Int("seq", run.Seq))

	markers, err := o.runMarkers(deal.ID, run.ID)
	if err != nil {
		return o.abort(deal, run, "init", err)
	}

	// EVIDENCE_GATHERING
	if err := o.checkpointCancel(ctx, deal, run); err != nil {
		return err
	}
	if _, done := markers[StageEvidence]; !done {
		if err := o.runEvidence(ctx, deal, run); err != nil {
			return o.abort(deal, run, StageEvidence, err)
		}
	}

	// ANALYSTS: fan out every incomplete specialist concurrently.
	if err := o.checkpointCancel(ctx, deal, run); err != nil {
		return err
	}
	if err := o.runAnalysts(ctx, deal, run, markers); err != nil {
		return o.abort(deal, run, "analysts", err)
	}

	// ASSOCIATE
	if err := o.checkpointCancel(ctx, deal, run); err != nil {
		return err
	}
	if _, done := markers[StageAssociate]; !done {
		if err := o.runAssociate(ctx, deal, run); err != nil {
			return o.abort(deal, run, StageAssociate, err)
		}
	}

	// PARTNER
	if err := o.checkpointCancel(ctx, deal, run); err != nil {
		return err
	}
	if _, done := markers[StagePartner]; !done {
		if err := o.runPartner(ctx, deal, run); err != nil {
			return o.abort(deal, run, StagePartner, err)
		}
	}

	return o.finalize(ctx, deal, run)
}

// Resume continues an interrupted run for a deal: the active run, or the
// latest errored or cancelled run. Unlike Run it never starts a new run.
func (o *Orchestrator) Resume(ctx context.Context, dealID string) error {
	active, err := o.store.ActiveRun(dealID)
	if err != nil {
		return err
	}
	if active == nil {
		runs, err := o.store.Runs(dealID)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no run to resume for deal %s", dealID)
		}
		if last := runs[len(runs)-1]; last.Status == types.RunComplete {
			return fmt.Errorf("latest run for deal %s is complete", dealID)
		}
	}
	return o.Run(ctx, dealID)
}

// ensureRun decides which run this invocation drives: the active run, the
// latest errored or cancelled run reopened for resumption, or a brand new
// run when none has started yet. A nil run with nil error means the latest
// run is complete and there is nothing to do.
func (o *Orchestrator) ensureRun(dealID string) (*types.Run, bool, error) {
	active, err := o.store.ActiveRun(dealID)
	if err != nil {
		return nil, false, err
	}
	if active != nil {
		return active, false, nil
	}

	runs, err := o.store.Runs(dealID)
	if err != nil {
		return nil, false, err
	}
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		switch last.Status {
		case types.RunComplete:
			return nil, false, nil
		case types.RunError, types.RunCancelled:
			if err := o.store.ReopenRun(dealID, last.ID); err != nil {
				return nil, false, err
			}
			last.Status = types.RunRunning
			last.FinishedAt = nil
			return &last, false, nil
		}
	}

	run, err := o.store.StartRun(dealID)
	if err != nil {
		return nil, false, err
	}
	return &run, true, nil
}

// runMarkers returns the completion markers belonging to this run.
func (o *Orchestrator) runMarkers(dealID, runID string) (map[string]types.StageMarker, error) {
	all, err := o.store.Markers(dealID)
	if err != nil {
		return nil, err
	}
	markers := make(map[string]types.StageMarker, len(all))
	for stage, m := range all {
		if m.RunID == runID {
			markers[stage] = m
		}
	}
	return markers, nil
}

// checkpointCancel observes cancellation at a stage boundary. A cancelled
// context marks the run cancelled; in-flight stage work is never cancelled
// beyond its own timeout.
func (o *Orchestrator) checkpointCancel(ctx context.Context, deal types.Deal, run types.Run) error {
	if ctx.Err() == nil {
		return nil
	}
	o.log.Warn("run cancelled at stage boundary",
		zap.String("deal_id", deal.ID),
		zap.String("run_id", run.ID))
	if err := o.store.CancelRun(deal.ID, run.ID); err != nil {
		o.log.Warn("failed to mark run cancelled", zap.Error(err))
	}
	return ctx.Err()
}

// abort handles unrecoverable persistence failures: best-effort run_error
// event, run marked errored.
func (o *Orchestrator) abort(deal types.Deal, run types.Run, stage string, err error) error {
	o.log.Error("run aborted",
		zap.String("deal_id", deal.ID),
		zap.String("run_id", run.ID),
		zap.String("stage", stage),
		zap.Error(err))
	_, _ = o.emit(deal, run, types.EventRunError,
		types.ErrorPayload{Stage: stage, Error: err.Error()}, nil)
	if ferr := o.store.FailRun(deal.ID, run.ID); ferr != nil {
		o.log.Warn("failed to mark run errored", zap.Error(ferr))
	}
	return err
}

// finalize completes the run and fires the completion notification.
func (o *Orchestrator) finalize(ctx context.Context, deal types.Deal, run types.Run) error {
	state, err := o.store.Snapshot(deal.ID)
	if err != nil {
		return o.abort(deal, run, "complete", err)
	}

	summary := map[string]any{"average_score": types.AverageScore(state.Rubric)}
	if state.DecisionGate != nil {
		summary["decision"] = state.DecisionGate.Decision
	}
	if _, err := o.emit(deal, run, types.EventRunCompleted, summary, summary); err != nil {
		return o.abort(deal, run, "complete", err)
	}
	if err := o.store.CompleteRun(deal.ID, run.ID); err != nil {
		return o.abort(deal, run, "complete", err)
	}

	o.log.Info("pipeline complete",
		zap.String("deal_id", deal.ID),
		zap.String("run_id", run.ID))

	if o.notifier != nil {
		decision := "no decision"
		if state.DecisionGate != nil {
			decision = string(state.DecisionGate.Decision)
		}
		_ = o.notifier.Notify(ctx,
			fmt.Sprintf("dealdesk: %s run %d complete", deal.Name, run.Seq),
			fmt.Sprintf("Decision: %s, average score %d.", decision, types.AverageScore(state.Rubric)))
	}
	return nil
}

// emit appends one event and broadcasts its trimmed form, returning the
// post-fold state. The append and the broadcast happen under one lock so
// subscribers observe events in log order even when analysts finish
// concurrently.
func (o *Orchestrator) emit(deal types.Deal, run types.Run, typ types.EventType, payload, public any) (types.DealState, error) {
	ev, err := types.NewEvent(deal.ID, run.ID, typ, payload, public)
	if err != nil {
		return types.DealState{}, fmt.Errorf("failed to build %s event: %w", typ, err)
	}

	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	state, err := o.store.Append(deal.ID, ev)
	if err != nil {
		return types.DealState{}, err
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(deal.ID, ev)
	}
	return state, nil
}

// writeMarker records a unit's terminal status for resumption.
func (o *Orchestrator) writeMarker(dealID string, run types.Run, stage string, status types.PersonaStatus, retries int, latency time.Duration) error {
	return o.store.WriteMarker(dealID, types.StageMarker{
		Stage:       stage,
		RunID:       run.ID,
		Status:      status,
		Retries:     retries,
		LatencyMS:   latency.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})
}

// recordOutput persists a persona's validated output beside its marker. A
// degraded persona records its status with no output body.
func (o *Orchestrator) recordOutput(dealID, stage string, status types.PersonaStatus, out any, retries int, latency time.Duration) error {
	rec := types.PersonaOutput{
		Persona:   stage,
		Status:    status,
		Retries:   retries,
		LatencyMS: latency.Milliseconds(),
	}
	if out != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode %s output: %w", stage, err)
		}
		rec.Output = raw
	}
	return o.store.WritePersonaOutput(dealID, rec)
}
