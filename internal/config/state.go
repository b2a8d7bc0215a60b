package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
)

// State is the persisted record of which packs previous runs finished
// or gave up on. It lives in a small JSON file next to the config.
type State struct {
	CompletedPacks []int `json:"completed_packs"`
	FailedPacks    []int `json:"failed_packs"`
}

// StateStore loads and saves State from a JSON file.
type StateStore struct {
	path string
}

// NewStateStore creates a store backed by the given path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads the state file. A missing file yields an empty state, not
// an error, so first runs need no setup.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}

		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &state, nil
}

// Save persists the state as indented JSON.
func (s *StateStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// Merge folds one run's outcomes into the known lists. Both lists stay
// deduplicated and sorted, and a pack that finally succeeded is dropped
// from the failed list so a later retry-failed run won't refetch it.
func (state *State) Merge(results map[int]bool) {
	for pack, success := range results {
		if success {
			if !slices.Contains(state.CompletedPacks, pack) {
				state.CompletedPacks = append(state.CompletedPacks, pack)
			}

			if i := slices.Index(state.FailedPacks, pack); i >= 0 {
				state.FailedPacks = slices.Delete(state.FailedPacks, i, i+1)
			}
		} else if !slices.Contains(state.FailedPacks, pack) {
			state.FailedPacks = append(state.FailedPacks, pack)
		}
	}

	sort.Ints(state.CompletedPacks)
	sort.Ints(state.FailedPacks)
}

// IsCompleted reports whether a pack finished in an earlier run.
func (state *State) IsCompleted(pack int) bool {
	return slices.Contains(state.CompletedPacks, pack)
}
