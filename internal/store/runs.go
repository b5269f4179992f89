package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dealdesk/internal/types"
)

// StartRun begins a new run for the deal. The prior run's event log,
// snapshot, and markers are moved into the archive; the new run starts from
// a fresh log seeded by the deal input. Fails with ErrRunActive while
// another run is still receiving events.
func (m *Manager) StartRun(dealID string) (types.Run, error) {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.GetDeal(dealID); err != nil {
		return types.Run{}, err
	}

	runs, err := m.readRuns(dealID)
	if err != nil {
		return types.Run{}, err
	}
	for _, r := range runs {
		if r.Status == types.RunRunning {
			return types.Run{}, fmt.Errorf("%w (run %s)", ErrRunActive, r.ID)
		}
	}

	if len(runs) > 0 {
		prev := runs[len(runs)-1]
		if err := m.archiveRun(dealID, prev.Seq); err != nil {
			return types.Run{}, fmt.Errorf("failed to archive run %d: %w", prev.Seq, err)
		}
	}

	run := types.Run{
		ID:        uuid.NewString(),
		DealID:    dealID,
		Seq:       len(runs) + 1,
		Status:    types.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	runs = append(runs, run)
	if err := writeJSONAtomic(m.runsPath(dealID), runs); err != nil {
		return types.Run{}, fmt.Errorf("failed to write runs: %w", err)
	}

	if m.proj != nil {
		if err := m.proj.ProjectRun(run); err != nil {
			m.log.Warn("projection run write failed",
				zap.String("deal_id", dealID), zap.Error(err))
		}
	}

	return run, nil
}

// archiveRun moves the live artifacts of a finished run under
// archive/run-<seq>/. Missing artifacts are skipped.
func (m *Manager) archiveRun(dealID string, seq int) error {
	dst := m.archiveDir(dealID, seq)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	moves := map[string]string{
		m.logPath(dealID):      filepath.Join(dst, "events.jsonl"),
		m.snapshotPath(dealID): filepath.Join(dst, "snapshot.json"),
		m.markersDir(dealID):   filepath.Join(dst, "markers"),
		m.personasDir(dealID):  filepath.Join(dst, "personas"),
	}
	for src, target := range moves {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, target); err != nil {
			return err
		}
	}
	return nil
}

// ReopenRun returns a finished run to the running state so orchestration
// can resume it from its surviving markers. Only errored or cancelled runs
// may be reopened; a complete run is final.
func (m *Manager) ReopenRun(dealID, runID string) error {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	runs, err := m.readRuns(dealID)
	if err != nil {
		return err
	}
	for i := range runs {
		if runs[i].ID != runID {
			continue
		}
		switch runs[i].Status {
		case types.RunError, types.RunCancelled:
		default:
			return fmt.Errorf("run %s is %s, not resumable", runID, runs[i].Status)
		}
		runs[i].Status = types.RunRunning
		runs[i].FinishedAt = nil
		if err := writeJSONAtomic(m.runsPath(dealID), runs); err != nil {
			return fmt.Errorf("failed to write runs: %w", err)
		}
		if m.proj != nil {
			if err := m.proj.ProjectRun(runs[i]); err != nil {
				m.log.Warn("projection run update failed",
					zap.String("deal_id", dealID), zap.Error(err))
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// ActiveRun returns the run currently receiving events, or nil.
func (m *Manager) ActiveRun(dealID string) (*types.Run, error) {
	runs, err := m.Runs(dealID)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].Status == types.RunRunning {
			run := runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

// Runs lists all runs for a deal, oldest first.
func (m *Manager) Runs(dealID string) ([]types.Run, error) {
	if _, err := m.GetDeal(dealID); err != nil {
		return nil, err
	}
	return m.readRuns(dealID)
}

func (m *Manager) readRuns(dealID string) ([]types.Run, error) {
	var runs []types.Run
	if err := readJSON(m.runsPath(dealID), &runs); err != nil {
		if os.IsNotExist(err) {
			return []types.Run{}, nil
		}
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// CompleteRun marks a run complete.
func (m *Manager) CompleteRun(dealID, runID string) error {
	return m.finishRun(dealID, runID, types.RunComplete)
}

// FailRun marks a run errored.
func (m *Manager) FailRun(dealID, runID string) error {
	return m.finishRun(dealID, runID, types.RunError)
}

// CancelRun marks a run cancelled. Cancellation happens only at stage
// boundaries; in-flight stage work is bounded by its own timeouts.
func (m *Manager) CancelRun(dealID, runID string) error {
	return m.finishRun(dealID, runID, types.RunCancelled)
}

func (m *Manager) finishRun(dealID, runID string, status types.RunStatus) error {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	runs, err := m.readRuns(dealID)
	if err != nil {
		return err
	}
	for i := range runs {
		if runs[i].ID != runID {
			continue
		}
		now := time.Now().UTC()
		runs[i].Status = status
		runs[i].FinishedAt = &now
		if err := writeJSONAtomic(m.runsPath(dealID), runs); err != nil {
			return fmt.Errorf("failed to write runs: %w", err)
		}
		if m.proj != nil {
			if err := m.proj.ProjectRun(runs[i]); err != nil {
				m.log.Warn("projection run update failed",
					zap.String("deal_id", dealID), zap.Error(err))
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}
