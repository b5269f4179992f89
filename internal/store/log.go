package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"dealdesk/internal/reduce"
	"dealdesk/internal/types"
)

// Append durably appends one event to the deal's log (one JSON record per
// line), folds it into the canonical state, rewrites the snapshot, and
// best-effort projects it into the relational index. It returns the
// post-fold state. Existing entries are never mutated or deleted.
func (m *Manager) Append(dealID string, ev types.Event) (types.DealState, error) {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.GetDeal(dealID)
	if err != nil {
		return types.DealState{}, err
	}

	state, err := m.currentState(deal)
	if err != nil {
		return types.DealState{}, err
	}

	if err := m.appendLine(dealID, ev); err != nil {
		return types.DealState{}, fmt.Errorf("failed to append event: %w", err)
	}

	state = reduce.Apply(state, ev)

	// Snapshot failure is a warning, not a write failure: the log line is
	// durable and the snapshot is rebuildable from it.
	if err := writeJSONAtomic(m.snapshotPath(dealID), state); err != nil {
		m.log.Warn("snapshot write failed",
			zap.String("deal_id", dealID),
			zap.Error(err))
	}

	if m.proj != nil {
		if err := m.proj.ProjectEvent(ev); err != nil {
			m.log.Warn("projection write failed",
				zap.String("deal_id", dealID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}

	return state, nil
}

// appendLine writes one JSONL record with an fsync before returning, so an
// acknowledged append survives a crash.
func (m *Manager) appendLine(dealID string, ev types.Event) error {
	f, err := os.OpenFile(m.logPath(dealID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Events reads the active run's full event log in append order.
func (m *Manager) Events(dealID string) ([]types.Event, error) {
	if _, err := m.GetDeal(dealID); err != nil {
		return nil, err
	}
	return m.readLog(m.logPath(dealID))
}

func (m *Manager) readLog(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// A torn trailing line from a crash mid-write is tolerated; a
			// corrupt interior line is not.
			m.log.Warn("skipping unreadable log line",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	if events == nil {
		events = []types.Event{}
	}
	return events, nil
}

// Snapshot returns the last derived canonical state. The snapshot is a
// cache: when it is missing or unreadable the state is refolded from the
// log, which is ground truth.
func (m *Manager) Snapshot(dealID string) (*types.DealState, error) {
	deal, err := m.GetDeal(dealID)
	if err != nil {
		return nil, err
	}

	var state types.DealState
	if err := readJSON(m.snapshotPath(dealID), &state); err == nil {
		return &state, nil
	}

	state, err = m.replay(deal)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Rebuild refolds the full log from genesis, rewrites the snapshot, and
// repopulates the relational projection. Used by the rebuild command and the
// log/snapshot divergence property test.
func (m *Manager) Rebuild(dealID string) (types.DealState, error) {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.GetDeal(dealID)
	if err != nil {
		return types.DealState{}, err
	}

	state, err := m.replay(deal)
	if err != nil {
		return types.DealState{}, err
	}
	if err := writeJSONAtomic(m.snapshotPath(dealID), state); err != nil {
		return types.DealState{}, fmt.Errorf("failed to write snapshot: %w", err)
	}

	if m.proj != nil {
		runs, err := m.readRuns(dealID)
		if err != nil {
			return types.DealState{}, err
		}
		events, err := m.readLog(m.logPath(dealID))
		if err != nil {
			return types.DealState{}, err
		}
		if err := m.proj.Rebuild(dealID, runs, events); err != nil {
			m.log.Warn("projection rebuild failed",
				zap.String("deal_id", dealID),
				zap.Error(err))
		}
	}

	return state, nil
}

// currentState loads the snapshot cache, falling back to a full refold.
func (m *Manager) currentState(deal types.Deal) (types.DealState, error) {
	var state types.DealState
	if err := readJSON(m.snapshotPath(deal.ID), &state); err == nil {
		return state, nil
	}
	return m.replay(deal)
}

func (m *Manager) replay(deal types.Deal) (types.DealState, error) {
	events, err := m.readLog(m.logPath(deal.ID))
	if err != nil {
		return types.DealState{}, err
	}
	return reduce.Replay(deal.Input(), events), nil
}

// ArchivedSnapshot reads the frozen snapshot of a prior run by sequence
// number.
func (m *Manager) ArchivedSnapshot(dealID string, seq int) (*types.DealState, error) {
	if _, err := m.GetDeal(dealID); err != nil {
		return nil, err
	}
	var state types.DealState
	path := m.archiveDir(dealID, seq) + string(os.PathSeparator) + "snapshot.json"
	if err := readJSON(path, &state); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no archived snapshot for run %d", ErrRunNotFound, seq)
		}
		return nil, err
	}
	return &state, nil
}
