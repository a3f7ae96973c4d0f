package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no state exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// Store persists run state as JSON under <baseDir>/<run_id>/run.json.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// ArtifactDir returns the directory holding per-step outputs for a run.
func (s *Store) ArtifactDir(runID string) string {
	return filepath.Join(s.runDir(runID), "artifacts")
}

func validRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// Create assigns a fresh run id and writes a pending state for trigger.
func (s *Store) Create(trigger Trigger) (*RunState, error) {
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	if _, err := os.Stat(s.runDir(runID)); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	rs := NewRunState(runID, trigger)
	if err := WriteJSON(s.runPath(runID), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state for a run.
func (s *Store) Get(runID string) (*RunState, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	var rs RunState
	if err := ReadJSON(s.runPath(runID), &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return &rs, nil
}

// Save overwrites the stored state with rs.
func (s *Store) Save(rs *RunState) error {
	if err := validRunID(rs.RunID); err != nil {
		return err
	}
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.runPath(rs.RunID), rs)
}

// Update performs a read-modify-write of a run's state. If fn returns an
// error nothing is written.
func (s *Store) Update(runID string, fn func(*RunState) error) (*RunState, error) {
	rs, err := s.Get(runID)
	if err != nil {
		return nil, err
	}
	if err := fn(rs); err != nil {
		return nil, err
	}
	if err := s.Save(rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// List returns all runs, newest first, optionally filtered by status.
// Pass "" for statusFilter to return every run.
func (s *Store) List(statusFilter Status) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return os.RemoveAll(dir)
}

// SaveArtifact writes a named artifact for a run.
func (s *Store) SaveArtifact(runID, name string, data []byte) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return WriteAtomic(filepath.Join(s.ArtifactDir(runID), name), data)
}

// GetArtifact reads a named artifact for a run.
func (s *Store) GetArtifact(runID, name string) ([]byte, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.ArtifactDir(runID), name))
}
