package daemon

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.pueued.dev/pueued/internal/audit"
	"go.pueued.dev/pueued/internal/callback"
	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

// Scheduler runs the spec.md §4.F tick loop against a State.
type Scheduler struct {
	state    *State
	interval time.Duration
	onExit   func(code int)
}

// NewScheduler returns a Scheduler ticking at state.Config.SchedulerInterval.
// onExit is invoked once the drained shutdown sequence completes; tests
// can pass a no-op.
func NewScheduler(state *State, onExit func(code int)) *Scheduler {
	return &Scheduler{state: state, interval: state.Config.SchedulerInterval, onExit: onExit}
}

// Run blocks, ticking until ctx is cancelled or a shutdown drains to
// completion.
func (sch *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sch.Tick() {
				return
			}
		}
	}
}

// Tick runs one iteration of the seven-step loop. It returns true once
// the shutdown sequence has fully drained and onExit has fired.
func (sch *Scheduler) Tick() bool {
	s := sch.state
	s.Lock()
	defer s.Unlock()

	s.Callbacks.Reap()
	mutated := sch.reapTasks()

	if s.Shutdown != ShutdownNone {
		if s.Supervisor.HasActiveTasks() {
			return false
		}
		sch.finishShutdown()
		return true
	}

	mutated = sch.groupResets() || mutated
	mutated = sch.autoEnqueue() || mutated
	mutated = sch.propagateDependencyFailures() || mutated
	mutated = sch.spawnEligible() || mutated

	if mutated {
		s.PersistOrShutdown()
	}
	return false
}

func (sch *Scheduler) finishShutdown() {
	s := sch.state
	exitCode := 0
	if s.Shutdown == ShutdownEmergency {
		exitCode = 1
		s.Audit.LogDaemonEvent(audit.DaemonShutdownEmergency, "")
	} else {
		s.Audit.LogDaemonEvent(audit.DaemonShutdownGraceful, "")
	}
	if sch.onExit != nil {
		sch.onExit(exitCode)
	}
}

// reapTasks is spec.md §4.F step 2 / §4.E reaping.
func (sch *Scheduler) reapTasks() bool {
	s := sch.state
	completions := s.Supervisor.DrainCompletions()
	if len(completions) == 0 {
		return false
	}
	for _, c := range completions {
		sch.finishTask(c)
	}
	return true
}

func (sch *Scheduler) finishTask(c supervisor.Completion) {
	s := sch.state
	s.Supervisor.Release(c.Group, c.Slot)

	result := classifyCompletion(c)
	now := time.Now()

	var finished task.Task
	s.Store.Mutate(c.TaskID, func(t *task.Task) {
		start, _, _ := task.StartEnd(t.Status)
		var startAt time.Time
		if start != nil {
			startAt = *start
		}
		enqueuedAt := startAt
		if r, ok := t.Status.(task.Running); ok {
			enqueuedAt = r.EnqueuedAt
		}
		t.Status = task.Done{EnqueuedAt: enqueuedAt, Start: startAt, End: now, Result: result}
		finished = *t
	})

	s.Audit.LogTaskEvent(c.TaskID, audit.TaskFinished, result.String())
	fireCallback(s, finished)

	if result.Kind != task.ResultSuccess {
		applyFailurePause(s, finished.Group)
	}
}

func classifyCompletion(c supervisor.Completion) task.Result {
	switch {
	case c.WaitErr != nil:
		return task.Result{Kind: task.ResultErrored, Message: c.WaitErr.Error()}
	case c.Signaled:
		return task.Result{Kind: task.ResultKilled}
	case c.ExitCode == 0:
		return task.Result{Kind: task.ResultSuccess}
	default:
		return task.Result{Kind: task.ResultFailed, ExitCode: c.ExitCode}
	}
}

// applyFailurePause implements the "optionally pause the task's group
// (or all groups) per configuration" clause shared by §4.E's spawn and
// reap failure paths. It is a free function, not a Scheduler method, so
// the dispatcher's force-spawn path (spec.md §4.G Start/Add) can share
// it without holding a Scheduler reference.
func applyFailurePause(s *State, group string) {
	if s.Config.PauseAllOnFailure {
		for _, g := range s.Store.Groups() {
			s.Store.SetGroupStatus(g.Name, task.GroupPaused)
		}
		return
	}
	if s.Config.PauseGroupOnFailure {
		s.Store.SetGroupStatus(group, task.GroupPaused)
	}
}

// fireCallback builds the template variables and fires the configured
// callback for a just-finished task (spec.md §4.I). Free function for
// the same reason as applyFailurePause.
func fireCallback(s *State, t task.Task) {
	if s.Config.Callback.Command == "" {
		return
	}
	queued, stashed := 0, 0
	for _, other := range s.Store.Tasks() {
		if other.Group != t.Group {
			continue
		}
		switch {
		case task.IsStashed(other.Status):
			stashed++
		case task.IsQueued(other.Status):
			queued++
		}
	}
	vars := callback.BuildVars(t, queued, stashed, s.Config.Callback.LogLines, s.Logs)
	s.Callbacks.Fire(s.Config.Callback.Command, vars)
}

// groupResets is spec.md §4.F step 4.
func (sch *Scheduler) groupResets() bool {
	s := sch.state
	mutated := false
	for _, g := range s.Store.Groups() {
		if g.Status != task.GroupReset {
			continue
		}
		if s.Supervisor.RunningInGroup(g.Name) > 0 {
			continue
		}
		dropped := s.Store.DropGroupTasks(g.Name)
		for _, id := range dropped {
			s.Logs.Delete(id)
			s.Audit.LogTaskEvent(id, audit.TaskRemoved, "group reset")
		}
		s.Store.SetGroupStatus(g.Name, task.GroupRunning)
		mutated = true
	}
	return mutated
}

// autoEnqueue is spec.md §4.F step 5.
func (sch *Scheduler) autoEnqueue() bool {
	s := sch.state
	mutated := false
	now := time.Now()
	for _, t := range s.Store.Tasks() {
		stashed, ok := t.Status.(task.Stashed)
		if !ok || stashed.EnqueueAt == nil || stashed.EnqueueAt.After(now) {
			continue
		}
		s.Store.Mutate(t.ID, func(mt *task.Task) {
			mt.Status = task.Queued{EnqueuedAt: now}
		})
		mutated = true
	}
	return mutated
}

// propagateDependencyFailures is spec.md §4.F step 6.
func (sch *Scheduler) propagateDependencyFailures() bool {
	s := sch.state
	mutated := false
	for _, t := range s.Store.Tasks() {
		if _, ok := t.Status.(task.Queued); !ok {
			continue
		}
		group, ok := s.Store.Group(t.Group)
		if !ok || group.Status == task.GroupPaused {
			continue
		}
		failedDep := false
		for _, depID := range t.Dependencies {
			dep, ok := s.Store.Task(depID)
			if ok && task.Failed(dep.Status) {
				failedDep = true
				break
			}
		}
		if !failedDep {
			continue
		}
		var finished task.Task
		s.Store.Mutate(t.ID, func(mt *task.Task) {
			mt.Status = task.Done{Result: task.Result{Kind: task.ResultDependencyFailed}}
			finished = *mt
		})
		s.Audit.LogTaskEvent(t.ID, audit.TaskDependencyFailed, "")
		fireCallback(s, finished)
		mutated = true
	}
	return mutated
}

// spawnEligible is spec.md §4.F step 7.
func (sch *Scheduler) spawnEligible() bool {
	s := sch.state
	mutated := false
	for {
		eligible := sch.nextEligible()
		if eligible == nil {
			return mutated
		}
		spawnTask(s, *eligible)
		mutated = true
	}
}

func (sch *Scheduler) nextEligible() *task.Task {
	s := sch.state
	var candidates []task.Task
	for _, t := range s.Store.Tasks() {
		if _, ok := t.Status.(task.Queued); !ok {
			continue
		}
		group, ok := s.Store.Group(t.Group)
		if !ok || group.Status != task.GroupRunning {
			continue
		}
		if group.Parallel != 0 && s.Supervisor.RunningInGroup(t.Group) >= group.Parallel {
			continue
		}
		if !sch.dependenciesSatisfied(t) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return &candidates[0]
}

func (sch *Scheduler) dependenciesSatisfied(t task.Task) bool {
	s := sch.state
	for _, depID := range t.Dependencies {
		dep, ok := s.Store.Task(depID)
		if !ok {
			return false
		}
		done, ok := dep.Status.(task.Done)
		if !ok || done.Result.Kind != task.ResultSuccess {
			return false
		}
	}
	return true
}

// spawnTask actually starts t's child process and moves it to Running.
// It is a free function rather than a Scheduler method: spec.md §4.G's
// Start-on-specific-ids and Add's immediate-start flag both force-spawn
// a task directly, bypassing the group-running and parallel-slot checks
// nextEligible enforces for the ordinary tick-driven path, so the
// dispatcher calls this with no Scheduler in hand.
func spawnTask(s *State, t task.Task) {
	now := time.Now()

	stdout, stderr, err := s.Logs.Create(t.ID)
	if err != nil {
		markFailedToSpawn(s, t, now, err)
		return
	}

	slot, err := s.Supervisor.Spawn(supervisor.SpawnSpec{
		Group:   t.Group,
		TaskID:  t.ID,
		Shell:   s.Config.Shell,
		Command: t.Command,
		Dir:     t.Path,
		Envs:    t.Envs,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	stdout.Close()
	stderr.Close()
	if err != nil {
		markFailedToSpawn(s, t, now, err)
		return
	}

	enqueuedAt := now
	if q, ok := t.Status.(task.Queued); ok {
		enqueuedAt = q.EnqueuedAt
	}
	s.Store.Mutate(t.ID, func(mt *task.Task) {
		mt.Status = task.Running{EnqueuedAt: enqueuedAt, Start: now}
	})
	s.Audit.LogTaskEvent(t.ID, audit.TaskSpawned, t.Command)
	_ = slot
}

func markFailedToSpawn(s *State, t task.Task, now time.Time, spawnErr error) {
	var finished task.Task
	s.Store.Mutate(t.ID, func(mt *task.Task) {
		mt.Status = task.Done{
			Start: now, End: now,
			Result: task.Result{Kind: task.ResultFailedToSpawn, Message: spawnErr.Error()},
		}
		finished = *mt
	})
	slog.Error("daemon: failed to spawn task", "task_id", t.ID, "error", spawnErr)
	s.Audit.LogTaskEvent(t.ID, audit.TaskFailedToSpawn, spawnErr.Error())
	fireCallback(s, finished)
	applyFailurePause(s, t.Group)
}
