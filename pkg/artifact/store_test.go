package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestWriteArtifactFilenameScheme(t *testing.T) {
	s := newTestStore(t)
	id := "sess-1"
	if _, err := s.OpenSession(id); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	path, err := s.WriteArtifact(id, KindStageScript, role.Builder, 1, []byte("pass"))
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if filepath.Base(path) != "01_builder_iter1.py" {
		t.Errorf("got %q, want 01_builder_iter1.py", filepath.Base(path))
	}

	path, err = s.WriteArtifact(id, KindCombinedScript, "", 2, []byte("pass"))
	if err != nil {
		t.Fatalf("WriteArtifact combined: %v", err)
	}
	if filepath.Base(path) != "combined_iter2.py" {
		t.Errorf("got %q, want combined_iter2.py", filepath.Base(path))
	}

	data, err := s.ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(data) != "pass" {
		t.Errorf("got %q, want %q", data, "pass")
	}
}

func TestAtomicWriteStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := &StateRecord{
		ID:        "sess-2",
		Prompt:    "a red cube",
		Roles:     []string{"concept", "builder", "render"},
		Status:    "running",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Progress: []ProgressEvent{
			{Stage: "concept", Message: "started", Timestamp: time.Now().UTC().Truncate(time.Second)},
		},
	}
	if err := s.AtomicWriteState(rec); err != nil {
		t.Fatalf("AtomicWriteState: %v", err)
	}

	loaded, err := s.LoadState(rec.ID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected non-nil state")
	}
	if loaded.Status != "running" || loaded.Prompt != rec.Prompt {
		t.Errorf("loaded = %+v, want status/prompt to match %+v", loaded, rec)
	}

	path := filepath.Join(s.sessionDir(rec.ID), stateFileName)
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if err := s.AtomicWriteState(loaded); err != nil {
		t.Fatalf("AtomicWriteState re-save: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file again: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("reload-then-reserialize changed bytes:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestLoadStateMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.LoadState("does-not-exist")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing session, got %+v", rec)
	}
}

func TestLoadStateRecoversCompletedFromRenderAndBlend(t *testing.T) {
	s := newTestStore(t)
	id := "sess-3"
	dir, err := s.OpenSession(id)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, rendersDir, "render_iter1.png"), []byte("png"), 0644); err != nil {
		t.Fatalf("write render: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scene_iter1.blend"), []byte("blend"), 0644); err != nil {
		t.Fatalf("write blend: %v", err)
	}

	// No session_state.json at all: recovery must synthesize one.
	rec, err := s.LoadState(id)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec.Status != "completed" {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if !rec.RecoveredFromDisk {
		t.Error("expected recovered_from_disk = true")
	}
}

func TestLoadStateOverridesStaleRunningToCompleted(t *testing.T) {
	s := newTestStore(t)
	id := "sess-4"
	dir, err := s.OpenSession(id)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rendersDir, "render_iter1.png"), []byte("png"), 0644); err != nil {
		t.Fatalf("write render: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scene_iter1.blend"), []byte("blend"), 0644); err != nil {
		t.Fatalf("write blend: %v", err)
	}
	if err := s.AtomicWriteState(&StateRecord{ID: id, Status: "running"}); err != nil {
		t.Fatalf("AtomicWriteState: %v", err)
	}

	rec, err := s.LoadState(id)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec.Status != "completed" {
		t.Errorf("status = %q, want completed even though file said running", rec.Status)
	}
}

func TestLoadStateFailsStaleConceptOnly(t *testing.T) {
	s := newTestStore(t).WithStaleness(time.Millisecond)
	id := "sess-5"
	dir, err := s.OpenSession(id)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, conceptFileName), []byte("# concept"), 0644); err != nil {
		t.Fatalf("write concept: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	rec, err := s.LoadState(id)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec.Status != "failed" {
		t.Errorf("status = %q, want failed", rec.Status)
	}
	if !rec.RecoveredFromDisk {
		t.Error("expected recovered_from_disk = true")
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.OpenSession("a"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.sessionDir("a"), conceptFileName), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// "b" has an empty directory with no recoverable artifacts and should
	// not appear.
	if _, err := s.OpenSession("b"); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("ids = %v, want [a]", ids)
	}
}
