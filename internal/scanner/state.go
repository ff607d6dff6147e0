package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"civsphere/event-ingester/internal/model"
)

const (
	// MinBackoffBase floors the interval used for backoff so fast sources
	// that are down do not hot-loop.
	MinBackoffBase   = 5 * time.Minute
	MaxBackoffFactor = 32
)

// Backoff is the delay before retrying a source after errorCount
// consecutive failures: min(2^errorCount, 32) * max(5m, interval).
func Backoff(errorCount int, interval time.Duration) time.Duration {
	factor := MaxBackoffFactor
	if errorCount < 5 {
		factor = 1 << max(errorCount, 0)
	}
	return time.Duration(factor) * max(interval, MinBackoffBase)
}

// SaveState writes the per-source state to path as JSON.
func (s *Scanner) SaveState(path string) error {
	b, err := json.MarshalIndent(s.States(), "", " ")
	if err != nil {
		return fmt.Errorf("marshal source state: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write source state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace source state: %w", err)
	}
	return nil
}

// LoadState restores state saved by SaveState for sources that are still
// configured. A missing file is not an error.
func (s *Scanner) LoadState(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read source state: %w", err)
	}
	var saved map[string]model.SourceState
	if err := json.Unmarshal(b, &saved); err != nil {
		return fmt.Errorf("decode source state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range saved {
		if _, ok := s.states[id]; ok {
			s.states[id] = &st
		}
	}
	return nil
}
