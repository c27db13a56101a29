// Package supervisor spawns, signals, and reaps task child processes,
// and tracks the per-group worker pools described in spec.md §4.E/§3.
package supervisor

import "os/exec"

// Worker is one occupied slot in a group's pool: a task id paired with
// its OS child handle. The handle is an owning reference; Task records
// elsewhere hold only the id (spec.md §9 "Ownership and aliasing").
type Worker struct {
	Slot   int
	TaskID int
	Cmd    *exec.Cmd
	Pgid   int
}

// Pool is a per-group mapping from worker-slot index to Worker.
type Pool map[int]*Worker

// nextSlot returns the smallest non-negative integer absent from the
// pool, so worker ids stay low and predictable (spec.md §3).
func (p Pool) nextSlot() int {
	for i := 0; ; i++ {
		if _, ok := p[i]; !ok {
			return i
		}
	}
}

// Supervisor owns every group's worker pool and the completion
// notifications produced as children exit.
type Supervisor struct {
	pools       map[string]Pool
	completions chan Completion
}

// Completion reports that a tracked child exited or failed to be
// waited on.
type Completion struct {
	Group    string
	Slot     int
	TaskID   int
	ExitCode int
	Signaled bool
	WaitErr  error
}

// New returns a Supervisor with empty pools.
func New() *Supervisor {
	return &Supervisor{
		pools:       make(map[string]Pool),
		completions: make(chan Completion, 256),
	}
}

// EnsureGroup makes sure a pool exists for group, used when groups are
// created so every known group has a non-nil pool entry.
func (s *Supervisor) EnsureGroup(group string) {
	if _, ok := s.pools[group]; !ok {
		s.pools[group] = make(Pool)
	}
}

// RemoveGroup drops a group's pool. Callers must ensure the pool is
// empty first (spec.md §4.G: removing a group with a non-empty pool is
// a critical invariant violation).
func (s *Supervisor) RemoveGroup(group string) {
	delete(s.pools, group)
}

// RunningInGroup returns the number of occupied slots in group.
func (s *Supervisor) RunningInGroup(group string) int {
	return len(s.pools[group])
}

// HasActiveTasks reports whether any group has an occupied slot.
func (s *Supervisor) HasActiveTasks() bool {
	for _, pool := range s.pools {
		if len(pool) > 0 {
			return true
		}
	}
	return false
}

// Find locates the Worker for a task id by scanning every pool. This
// linear scan is the "parallel lookup" spec.md §9 accepts as cheap at
// realistic cardinalities, in exchange for never having two owners of
// the same child handle.
func (s *Supervisor) Find(taskID int) (*Worker, bool) {
	for _, pool := range s.pools {
		for _, w := range pool {
			if w.TaskID == taskID {
				return w, true
			}
		}
	}
	return nil, false
}

// Release removes a finished worker from its pool.
func (s *Supervisor) Release(group string, slot int) {
	if pool, ok := s.pools[group]; ok {
		delete(pool, slot)
	}
}

// DrainCompletions returns every completion that has arrived since the
// last call, without blocking — the non-blocking per-tick poll of
// spec.md §4.F step 2.
func (s *Supervisor) DrainCompletions() []Completion {
	var out []Completion
	for {
		select {
		case c := <-s.completions:
			out = append(out, c)
		default:
			return out
		}
	}
}
