package daemon

import (
	"path/filepath"
	"testing"

	"go.pueued.dev/pueued/internal/audit"
	"go.pueued.dev/pueued/internal/callback"
	"go.pueued.dev/pueued/internal/config"
	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Directory = dir

	logs, err := logstore.New(dir)
	if err != nil {
		t.Fatalf("logstore.New: %v", err)
	}
	auditLog, err := audit.Open(filepath.Join(dir, "audit.sqlite"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	return &State{
		Config:     cfg,
		Store:      task.NewStore(),
		Supervisor: supervisor.New(),
		Callbacks:  callback.NewRunner(cfg.Shell),
		Logs:       logs,
		Audit:      auditLog,
	}
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	s := newTestState(t)
	id, err := s.Store.AddTask(task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued{}})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	restored := newTestState(t)
	restored.Config = s.Config
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, ok := restored.Store.Task(id)
	if !ok {
		t.Fatalf("task %d not found after restore", id)
	}
	if got.Command != "true" {
		t.Fatalf("got command %q, want %q", got.Command, "true")
	}
}

func TestRestoreToleratesMissingStateFile(t *testing.T) {
	s := newTestState(t)
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore on a fresh directory should not error: %v", err)
	}
	if len(s.Store.Tasks()) != 0 {
		t.Fatal("expected an empty store when no state file exists")
	}
}

func TestPersistOrShutdownSetsEmergencyOnFailure(t *testing.T) {
	s := newTestState(t)
	s.Config.Directory = "/nonexistent/path/that/does/not/exist"

	s.PersistOrShutdown()

	if s.Shutdown != ShutdownEmergency {
		t.Fatalf("got shutdown mode %v, want ShutdownEmergency after a failed persist", s.Shutdown)
	}
}
