// Package store implements dealdesk persistence: a file-backed append-only
// event log with derived canonical snapshots, per-stage completion markers,
// run lifecycle bookkeeping, and an optional SQLite read-model projection.
//
// The log is ground truth; the snapshot is a cache rewritten on every append
// and rebuildable from genesis. The SQLite projection is an index for
// querying only - it can be dropped and regenerated from the log, and its
// failure never fails a write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"dealdesk/internal/types"
)

var (
	// ErrDealNotFound is returned when the deal does not exist. This is the
	// only error class that aborts a pipeline run before any stage executes.
	ErrDealNotFound = errors.New("deal not found")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive is returned by StartRun while another run is still
	// receiving events for the deal.
	ErrRunActive = errors.New("a run is already active for this deal")
)

// Manager is the persistence manager. Writers are serialized per deal; the
// durable files are safe for concurrent readers.
type Manager struct {
	root string
	proj *Projection // optional, may be nil
	log  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerConfig configures a Manager. Projection may be nil to run without
// the relational index.
type ManagerConfig struct {
	Root       string
	Projection *Projection
	Logger     *zap.Logger
}

// NewManager creates the storage root and returns a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, "deals"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Manager{
		root:  cfg.Root,
		proj:  cfg.Projection,
		log:   cfg.Logger,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockDeal returns the per-deal write mutex, creating it on first use.
// Single-writer per deal keeps the fold free of lost updates.
func (m *Manager) lockDeal(dealID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[dealID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[dealID] = l
	}
	return l
}

func (m *Manager) dealDir(dealID string) string {
	return filepath.Join(m.root, "deals", dealID)
}

func (m *Manager) dealPath(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "deal.json")
}

func (m *Manager) runsPath(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "runs.json")
}

func (m *Manager) logPath(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "events.jsonl")
}

func (m *Manager) snapshotPath(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "snapshot.json")
}

func (m *Manager) markersDir(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "markers")
}

func (m *Manager) personasDir(dealID string) string {
	return filepath.Join(m.dealDir(dealID), "personas")
}

func (m *Manager) archiveDir(dealID string, seq int) string {
	return filepath.Join(m.dealDir(dealID), "archive", fmt.Sprintf("run-%04d", seq))
}

// writeJSONAtomic writes a JSON document via temp file + rename so readers
// never observe a partial document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// CreateDeal persists a new deal document.
func (m *Manager) CreateDeal(deal types.Deal) error {
	if deal.ID == "" {
		return fmt.Errorf("deal id required")
	}
	lock := m.lockDeal(deal.ID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(m.dealPath(deal.ID)); err == nil {
		return fmt.Errorf("deal %s already exists", deal.ID)
	}
	if err := writeJSONAtomic(m.dealPath(deal.ID), deal); err != nil {
		return fmt.Errorf("failed to write deal: %w", err)
	}
	return nil
}

// GetDeal loads a deal document.
func (m *Manager) GetDeal(dealID string) (types.Deal, error) {
	var deal types.Deal
	if err := readJSON(m.dealPath(dealID), &deal); err != nil {
		if os.IsNotExist(err) {
			return types.Deal{}, fmt.Errorf("%w: %s", ErrDealNotFound, dealID)
		}
		return types.Deal{}, fmt.Errorf("failed to read deal: %w", err)
	}
	return deal, nil
}

// ArchiveDeal marks a deal archived. Deals are never deleted.
func (m *Manager) ArchiveDeal(dealID string) error {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.GetDeal(dealID)
	if err != nil {
		return err
	}
	deal.Archived = true
	return writeJSONAtomic(m.dealPath(dealID), deal)
}
