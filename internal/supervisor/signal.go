package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Action names the fixed set of signal actions spec.md §4.E exposes to
// clients, as opposed to arbitrary signal numbers.
type Action string

const (
	ActionPause   Action = "pause"   // SIGSTOP
	ActionResume  Action = "resume"  // SIGCONT
	ActionKill    Action = "kill"    // SIGKILL
	ActionTerm    Action = "term"    // SIGTERM
	ActionInt     Action = "int"     // SIGINT
)

var actionSignals = map[Action]unix.Signal{
	ActionPause:  unix.SIGSTOP,
	ActionResume: unix.SIGCONT,
	ActionKill:   unix.SIGKILL,
	ActionTerm:   unix.SIGTERM,
	ActionInt:    unix.SIGINT,
}

// Signal sends a named action to every process in taskID's process
// group. Signalling the group (not just the direct child) reaches
// grandchildren spawned by the task's shell, matching spec.md §4.E.
func (s *Supervisor) Signal(taskID int, action Action) error {
	sig, ok := actionSignals[action]
	if !ok {
		return fmt.Errorf("supervisor: unknown action %q", action)
	}
	w, ok := s.Find(taskID)
	if !ok {
		return fmt.Errorf("supervisor: task %d has no running worker", taskID)
	}
	if err := unix.Kill(-w.Pgid, sig); err != nil {
		// The process group may already be gone if the leader exited
		// without reaping grandchildren; fall back to the direct child.
		if sigErr := unix.Kill(w.Pgid, sig); sigErr != nil {
			return fmt.Errorf("supervisor: signal task %d: %w", taskID, err)
		}
	}
	return nil
}

// SignalGroup applies an action to every worker currently running in
// group, used for group-wide pause/kill operations.
func (s *Supervisor) SignalGroup(group string, action Action) error {
	sig, ok := actionSignals[action]
	if !ok {
		return fmt.Errorf("supervisor: unknown action %q", action)
	}
	var firstErr error
	for _, w := range s.pools[group] {
		if err := unix.Kill(-w.Pgid, sig); err != nil {
			if sigErr := unix.Kill(w.Pgid, sig); sigErr != nil && firstErr == nil {
				firstErr = fmt.Errorf("supervisor: signal task %d: %w", w.TaskID, err)
			}
		}
	}
	return firstErr
}
