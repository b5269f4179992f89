package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dealdesk/internal/types"
)

// WriteMarker persists a per-stage completion marker. Markers live outside
// the event log: they exist solely so a later process can resume a stalled
// run without re-executing finished units.
func (m *Manager) WriteMarker(dealID string, marker types.StageMarker) error {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	if marker.Stage == "" {
		return fmt.Errorf("marker stage required")
	}
	path := filepath.Join(m.markersDir(dealID), marker.Stage+".json")
	if err := writeJSONAtomic(path, marker); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", marker.Stage, err)
	}
	return nil
}

// Markers loads all stage markers for the active run, keyed by stage id.
func (m *Manager) Markers(dealID string) (map[string]types.StageMarker, error) {
	if _, err := m.GetDeal(dealID); err != nil {
		return nil, err
	}

	markers := make(map[string]types.StageMarker)
	entries, err := os.ReadDir(m.markersDir(dealID))
	if err != nil {
		if os.IsNotExist(err) {
			return markers, nil
		}
		return nil, fmt.Errorf("failed to read markers: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var marker types.StageMarker
		path := filepath.Join(m.markersDir(dealID), entry.Name())
		if err := readJSON(path, &marker); err != nil {
			m.log.Warn("skipping unreadable marker: " + path)
			continue
		}
		markers[marker.Stage] = marker
	}
	return markers, nil
}
