package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dealdesk/internal/types"
)

// WritePersonaOutput persists the validated output record of one reasoning
// persona, keyed by its stage id. Records live beside the stage markers and
// move into the archive with the rest of the run's artifacts.
func (m *Manager) WritePersonaOutput(dealID string, out types.PersonaOutput) error {
	lock := m.lockDeal(dealID)
	lock.Lock()
	defer lock.Unlock()

	if out.Persona == "" {
		return fmt.Errorf("persona stage required")
	}
	path := filepath.Join(m.personasDir(dealID), out.Persona+".json")
	if err := writeJSONAtomic(path, out); err != nil {
		return fmt.Errorf("failed to write persona output %s: %w", out.Persona, err)
	}
	return nil
}

// PersonaOutputs loads the persona output records for the active run, keyed
// by stage id.
func (m *Manager) PersonaOutputs(dealID string) (map[string]types.PersonaOutput, error) {
	if _, err := m.GetDeal(dealID); err != nil {
		return nil, err
	}

	outputs := make(map[string]types.PersonaOutput)
	entries, err := os.ReadDir(m.personasDir(dealID))
	if err != nil {
		if os.IsNotExist(err) {
			return outputs, nil
		}
		return nil, fmt.Errorf("failed to read persona outputs: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var out types.PersonaOutput
		path := filepath.Join(m.personasDir(dealID), entry.Name())
		if err := readJSON(path, &out); err != nil {
			m.log.Warn("skipping unreadable persona output: " + path)
			continue
		}
		outputs[out.Persona] = out
	}
	return outputs, nil
}
