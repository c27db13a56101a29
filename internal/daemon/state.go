// Package daemon assembles the task store, supervisor, log store,
// callback runner, and audit trail into the single locked State the
// scheduler loop and request dispatcher both operate on (spec.md §5).
package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.pueued.dev/pueued/internal/audit"
	"go.pueued.dev/pueued/internal/callback"
	"go.pueued.dev/pueued/internal/config"
	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

// ShutdownMode records whether and how the daemon is winding down.
type ShutdownMode int

const (
	ShutdownNone ShutdownMode = iota
	ShutdownGraceful
	ShutdownEmergency
)

// State is the single shared-mutable aggregate described in spec.md §5:
// the task store (including the group map) and the supervisor's
// worker-pool map are "conceptually part of the state" and live under
// the same mutex.
type State struct {
	mu sync.Mutex

	Config     config.Configuration
	Store      *task.Store
	Supervisor *supervisor.Supervisor
	Callbacks  *callback.Runner
	Logs       *logstore.Store
	Audit      *audit.Log

	Shutdown ShutdownMode
}

// New constructs a State from a loaded configuration and opened
// side-stores. The task store starts empty; call Restore to load a
// persisted snapshot.
func New(cfg config.Configuration, logs *logstore.Store, auditLog *audit.Log) *State {
	return &State{
		Config:     cfg,
		Store:      task.NewStore(),
		Supervisor: supervisor.New(),
		Callbacks:  callback.NewRunner(cfg.Shell),
		Logs:       logs,
		Audit:      auditLog,
	}
}

// Lock and Unlock expose the state mutex directly to callers (the
// scheduler tick and every request handler) that need to hold it
// across several store operations, matching spec.md §5's single
// coarse-grained lock.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// Persist writes the store's snapshot to Config.StatePath() via a
// `.partial` sibling and atomic rename, matching spec.md §6's
// crash-safety requirement. Callers must already hold the lock.
func (s *State) Persist() error {
	snapshot := s.Store.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("daemon: marshal state: %w", err)
	}

	finalPath := s.Config.StatePath()
	partialPath := finalPath + ".partial"

	if err := os.WriteFile(partialPath, data, 0o644); err != nil {
		return fmt.Errorf("daemon: write partial state: %w", err)
	}
	if err := os.Rename(partialPath, finalPath); err != nil {
		return fmt.Errorf("daemon: rename partial state: %w", err)
	}
	return nil
}

// PersistOrShutdown persists the state and, on failure, flips the
// daemon into an emergency shutdown (spec.md §4.F: "If persistence
// fails, initiate emergency shutdown."). Callers must hold the lock.
func (s *State) PersistOrShutdown() {
	if err := s.Persist(); err != nil {
		slog.Error("daemon: state persistence failed, initiating emergency shutdown", "error", err)
		s.Shutdown = ShutdownEmergency
	}
}

// Restore loads a persisted snapshot from disk if present, applying the
// §3 startup coercions via task.Store.Restore. A missing state file
// leaves the store at its fresh NewStore() contents.
func (s *State) Restore() error {
	data, err := os.ReadFile(s.Config.StatePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("daemon: read state file: %w", err)
	}
	var p task.Persistable
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("daemon: decode state file: %w", err)
	}
	s.Store.Restore(p)
	return nil
}
