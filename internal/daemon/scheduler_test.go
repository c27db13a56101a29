package daemon

import (
	"os"
	"testing"
	"time"

	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

func spawnSpecFor(t *testing.T, group string, taskID int, command string, devNull *os.File) supervisor.SpawnSpec {
	t.Helper()
	return supervisor.SpawnSpec{
		Group: group, TaskID: taskID, Shell: []string{"sh", "-c"}, Command: command,
		Dir: t.TempDir(), Stdout: devNull, Stderr: devNull,
	}
}

func TestSpawnEligiblePicksHighestPriorityThenLowestID(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)

	low, _ := s.Store.AddTask(task.Task{Command: "sleep 5", Path: t.TempDir(), Group: task.DefaultGroup, Priority: 1, Status: task.Queued{EnqueuedAt: time.Now()}})
	_, _ = s.Store.AddTask(task.Task{Command: "sleep 5", Path: t.TempDir(), Group: task.DefaultGroup, Priority: 5, Status: task.Queued{EnqueuedAt: time.Now()}})
	high, _ := s.Store.AddTask(task.Task{Command: "sleep 5", Path: t.TempDir(), Group: task.DefaultGroup, Priority: 5, Status: task.Queued{EnqueuedAt: time.Now()}})
	_ = low

	eligible := sch.nextEligible()
	if eligible == nil {
		t.Fatal("expected an eligible task")
	}
	// Two tasks tie at priority 5; the lower id wins. high was added
	// after the other priority-5 task, so the winner is the earlier one.
	if eligible.Priority != 5 {
		t.Fatalf("got priority %d, want 5", eligible.Priority)
	}
	if eligible.ID >= high {
		t.Fatalf("got id %d, want the earlier of the two priority-5 tasks", eligible.ID)
	}
}

func TestNextEligibleSkipsPausedGroup(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Queued{EnqueuedAt: time.Now()}})
	s.Store.SetGroupStatus(task.DefaultGroup, task.GroupPaused)

	if sch.nextEligible() != nil {
		t.Fatal("expected no eligible task while the group is paused")
	}
}

func TestNextEligibleSkipsUnsatisfiedDependency(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	dep, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Queued{EnqueuedAt: time.Now()}})
	s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Dependencies: []int{dep}, Status: task.Queued{EnqueuedAt: time.Now()}})

	eligible := sch.nextEligible()
	if eligible == nil || eligible.ID != dep {
		t.Fatalf("expected only the dependency-free task to be eligible, got %+v", eligible)
	}
}

func TestNextEligibleRespectsGroupParallelLimit(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	s.Store.AddGroup("build", 1)
	s.Supervisor.EnsureGroup("build")
	s.Store.AddTask(task.Task{Command: "sleep 1", Group: "build", Status: task.Queued{EnqueuedAt: time.Now()}})

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer devNull.Close()
	if _, err := s.Supervisor.Spawn(spawnSpecFor(t, "build", 99, "sleep 1", devNull)); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if sch.nextEligible() != nil {
		t.Fatal("expected no eligible task once the group's parallel limit is reached")
	}
}

func TestGroupResetDropsTasksOncePoolIsEmpty(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	id, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Queued{EnqueuedAt: time.Now()}})
	s.Store.SetGroupStatus(task.DefaultGroup, task.GroupReset)

	if !sch.groupResets() {
		t.Fatal("expected groupResets to report a mutation")
	}
	if _, ok := s.Store.Task(id); ok {
		t.Fatal("expected the task to be dropped by the group reset")
	}
	g, _ := s.Store.Group(task.DefaultGroup)
	if g.Status != task.GroupRunning {
		t.Fatalf("got group status %v, want Running after the reset drains", g.Status)
	}
}

func TestAutoEnqueuePromotesDueStashedTasks(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Stashed{EnqueueAt: &past}})
	notDue, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Stashed{EnqueueAt: &future}})

	if !sch.autoEnqueue() {
		t.Fatal("expected autoEnqueue to report a mutation")
	}
	dueTask, _ := s.Store.Task(due)
	if _, ok := dueTask.Status.(task.Queued); !ok {
		t.Fatalf("got status %#v, want Queued for the due task", dueTask.Status)
	}
	notDueTask, _ := s.Store.Task(notDue)
	if _, ok := notDueTask.Status.(task.Stashed); !ok {
		t.Fatalf("got status %#v, want the future-dated task to remain Stashed", notDueTask.Status)
	}
}

func TestPropagateDependencyFailuresMarksDependentsDone(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	dep, _ := s.Store.AddTask(task.Task{Command: "false", Group: task.DefaultGroup, Status: task.Done{Result: task.Result{Kind: task.ResultFailed, ExitCode: 1}}})
	dependent, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Dependencies: []int{dep}, Status: task.Queued{EnqueuedAt: time.Now()}})

	if !sch.propagateDependencyFailures() {
		t.Fatal("expected propagateDependencyFailures to report a mutation")
	}
	got, _ := s.Store.Task(dependent)
	done, ok := got.Status.(task.Done)
	if !ok || done.Result.Kind != task.ResultDependencyFailed {
		t.Fatalf("got status %#v, want Done{DependencyFailed}", got.Status)
	}
}

func TestTickSpawnsReapsAndPersistsACompleteTask(t *testing.T) {
	s := newTestState(t)
	sch := NewScheduler(s, nil)
	id, _ := s.Store.AddTask(task.Task{Command: "true", Path: t.TempDir(), Group: task.DefaultGroup, Status: task.Queued{EnqueuedAt: time.Now()}})

	sch.Tick()
	got, _ := s.Store.Task(id)
	if _, ok := got.Status.(task.Running); !ok {
		t.Fatalf("got status %#v after spawning tick, want Running", got.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sch.Tick()
		got, _ = s.Store.Task(id)
		if _, ok := got.Status.(task.Done); ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	done, ok := got.Status.(task.Done)
	if !ok {
		t.Fatalf("task did not reach Done within the deadline, last status %#v", got.Status)
	}
	if done.Result.Kind != task.ResultSuccess {
		t.Fatalf("got result %v, want Success", done.Result)
	}
	if _, err := os.Stat(s.Config.StatePath()); err != nil {
		t.Fatalf("expected the tick to persist the state file: %v", err)
	}
}

func TestApplyFailurePauseHonorsPauseGroupOnFailure(t *testing.T) {
	s := newTestState(t)
	s.Config.PauseGroupOnFailure = true

	applyFailurePause(s, task.DefaultGroup)

	g, _ := s.Store.Group(task.DefaultGroup)
	if g.Status != task.GroupPaused {
		t.Fatalf("got group status %v, want Paused", g.Status)
	}
}
