package uploader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
)

// History tracks which record files have already been uploaded, persisted
// as a JSON array of names.
type History struct {
	path  string
	names map[string]struct{}
}

// LoadHistory reads the upload history. A missing or corrupted file yields
// an empty history.
func LoadHistory(path string) *History {
	h := &History{path: path, names: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		return h
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		log.Warnf("Failed to load upload history: %v", err)
		return h
	}
	for _, name := range names {
		h.names[name] = struct{}{}
	}
	return h
}

// Contains reports whether name was already uploaded.
func (h *History) Contains(name string) bool {
	_, ok := h.names[name]
	return ok
}

// Add marks name as uploaded.
func (h *History) Add(name string) {
	h.names[name] = struct{}{}
}

// Save persists the history.
func (h *History) Save() error {
	names := make([]string, 0, len(h.names))
	for name := range h.names {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal upload history: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save upload history: %w", err)
	}
	return nil
}
