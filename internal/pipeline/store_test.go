package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	rs, err := s.Create(IssueTrigger("42"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if rs.RunID == "" {
		t.Fatal("RunID should be assigned")
	}
	if rs.Status != StatusPending {
		t.Errorf("Status = %q, want %q", rs.Status, StatusPending)
	}
	if rs.CurrentNode != NodePlanner {
		t.Errorf("CurrentNode = %q, want %q", rs.CurrentNode, NodePlanner)
	}
	if rs.ReviewDecision != ReviewNone {
		t.Errorf("ReviewDecision = %q, want none", rs.ReviewDecision)
	}
	if rs.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}

	got, err := s.Get(rs.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Trigger != IssueTrigger("42") {
		t.Errorf("Trigger = %+v, want issue:42", got.Trigger)
	}
}

func TestCreateRejectsInvalidTrigger(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(Trigger{Kind: TriggerIssue}); err == nil {
		t.Fatal("expected error for issue trigger without source")
	}
	if _, err := s.Create(Trigger{Kind: "pager"}); err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create(ManualTrigger(""))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(ManualTrigger(""))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.RunID == b.RunID {
		t.Fatalf("run ids reused: %s", a.RunID)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("does-not-exist")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("../etc"); err == nil {
		t.Fatal("expected error for run id containing a path separator")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)

	rs, err := s.Create(ManualTrigger("smoke"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = s.Update(rs.RunID, func(st *RunState) error {
		st.IncrementIteration(NodePlanner)
		st.SetConfidence(NodePlanner, 0.9)
		return st.Transition(StatusRunning)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(rs.RunID)
	if err != nil {
		t.Fatalf("Get after Update: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.IterationCounts[NodePlanner] != 1 {
		t.Errorf("IterationCounts[planner] = %d, want 1", got.IterationCounts[NodePlanner])
	}
	if got.ConfidenceScores[NodePlanner] != 0.9 {
		t.Errorf("ConfidenceScores[planner] = %v, want 0.9", got.ConfidenceScores[NodePlanner])
	}
}

func TestUpdateErrorDoesNotWrite(t *testing.T) {
	s := newTestStore(t)

	rs, err := s.Create(ManualTrigger(""))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = s.Update(rs.RunID, func(st *RunState) error {
		st.Patch = "should not persist"
		return st.Transition(StatusCompleted)
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.Get(rs.RunID)
	if got.Patch != "" {
		t.Errorf("Patch = %q, want empty", got.Patch)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Create(ManualTrigger("a"))
	b, _ := s.Create(ManualTrigger("b"))
	if _, err := s.Update(b.RunID, func(st *RunState) error { return st.Transition(StatusRunning) }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A stray file and a broken directory are skipped.
	os.WriteFile(filepath.Join(s.BaseDir(), "notes.txt"), []byte("x"), 0o644)
	os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d runs, want 2", len(all))
	}

	running, err := s.List(StatusRunning)
	if err != nil {
		t.Fatalf("List(running): %v", err)
	}
	if len(running) != 1 || running[0].RunID != b.RunID {
		t.Errorf("List(running) = %+v, want only %s", running, b.RunID)
	}

	pending, _ := s.List(StatusPending)
	if len(pending) != 1 || pending[0].RunID != a.RunID {
		t.Errorf("List(pending) = %+v, want only %s", pending, a.RunID)
	}
}

func TestListMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	rs, _ := s.Create(ManualTrigger(""))
	if err := s.Delete(rs.RunID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(rs.RunID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Get after delete err = %v, want ErrRunNotFound", err)
	}
	if err := s.Delete(rs.RunID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("second Delete err = %v, want ErrRunNotFound", err)
	}
}

func TestArtifacts(t *testing.T) {
	s := newTestStore(t)

	rs, _ := s.Create(ManualTrigger(""))
	if err := s.SaveArtifact(rs.RunID, "planner-1.prompt.md", []byte("# prompt")); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	data, err := s.GetArtifact(rs.RunID, "planner-1.prompt.md")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if string(data) != "# prompt" {
		t.Errorf("artifact = %q", data)
	}
	if err := s.SaveArtifact(rs.RunID, "../escape", []byte("x")); err == nil {
		t.Error("expected error for artifact name with separator")
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "state.json")

	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(path, map[string]int{"a": 2}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "sub"))
	if len(entries) != 1 {
		t.Fatalf("expected only state.json, found %d entries", len(entries))
	}

	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["a"] != 2 {
		t.Errorf("a = %d, want 2", got["a"])
	}
}
