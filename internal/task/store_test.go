package task

import (
	"testing"
	"time"
)

func newTask(group string, deps ...int) Task {
	return Task{Command: "true", Path: "/tmp", Group: group, Dependencies: deps, Status: Queued{}}
}

func TestAddTaskAssignsSequentialIDs(t *testing.T) {
	s := NewStore()
	id1, err := s.AddTask(newTask(DefaultGroup))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	id2, err := s.AddTask(newTask(DefaultGroup))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if id1 != 0 || id2 != 1 {
		t.Fatalf("got ids %d, %d, want 0, 1", id1, id2)
	}
}

func TestAddTaskRejectsMissingGroup(t *testing.T) {
	s := NewStore()
	if _, err := s.AddTask(newTask("nope")); err == nil {
		t.Fatal("expected error for missing group")
	}
}

func TestAddTaskRejectsMissingDependency(t *testing.T) {
	s := NewStore()
	if _, err := s.AddTask(newTask(DefaultGroup, 99)); err == nil {
		t.Fatal("expected error for missing dependency")
	}
}

func TestAddTaskDeduplicatesAndSortsDependencies(t *testing.T) {
	s := NewStore()
	a, _ := s.AddTask(newTask(DefaultGroup))
	b, _ := s.AddTask(newTask(DefaultGroup))
	id, err := s.AddTask(newTask(DefaultGroup, b, a, b))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	got, _ := s.Task(id)
	if len(got.Dependencies) != 2 || got.Dependencies[0] != a || got.Dependencies[1] != b {
		t.Fatalf("got dependencies %v, want [%d %d]", got.Dependencies, a, b)
	}
}

func TestRemoveTasksRejectsRunningAndDependedOn(t *testing.T) {
	s := NewStore()
	running, _ := s.AddTask(newTask(DefaultGroup))
	s.Mutate(running, func(t *Task) { t.Status = Running{} })
	base, _ := s.AddTask(newTask(DefaultGroup))
	s.AddTask(newTask(DefaultGroup, base))

	removed, rejected := s.RemoveTasks([]int{running, base})
	if len(removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", removed)
	}
	if _, ok := rejected[running]; !ok {
		t.Errorf("expected %d rejected as running", running)
	}
	if _, ok := rejected[base]; !ok {
		t.Errorf("expected %d rejected as a dependency", base)
	}
}

func TestRemoveTasksAllowsRemovingADependentPair(t *testing.T) {
	s := NewStore()
	base, _ := s.AddTask(newTask(DefaultGroup))
	dep, _ := s.AddTask(newTask(DefaultGroup, base))

	removed, rejected := s.RemoveTasks([]int{base, dep})
	if len(rejected) != 0 {
		t.Fatalf("expected no rejections, got %v", rejected)
	}
	if len(removed) != 2 {
		t.Fatalf("expected both removed, got %v", removed)
	}
}

func TestSwitchSwapsIDsAndRewritesDependencies(t *testing.T) {
	s := NewStore()
	a, _ := s.AddTask(newTask(DefaultGroup))
	b, _ := s.AddTask(newTask(DefaultGroup))
	dep, _ := s.AddTask(newTask(DefaultGroup, a))

	if err := s.Switch(a, b); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	ta, _ := s.Task(a)
	tb, _ := s.Task(b)
	if ta.ID != a || tb.ID != b {
		t.Fatalf("ids not preserved as map keys: ta.ID=%d tb.ID=%d", ta.ID, tb.ID)
	}
	depTask, _ := s.Task(dep)
	if len(depTask.Dependencies) != 1 || depTask.Dependencies[0] != b {
		t.Fatalf("expected dependency rewritten to %d, got %v", b, depTask.Dependencies)
	}
}

func TestSwitchRejectsSelfAndNonQueued(t *testing.T) {
	s := NewStore()
	a, _ := s.AddTask(newTask(DefaultGroup))
	if err := s.Switch(a, a); err == nil {
		t.Error("expected error switching a task with itself")
	}

	running, _ := s.AddTask(newTask(DefaultGroup))
	s.Mutate(running, func(t *Task) { t.Status = Running{} })
	if err := s.Switch(a, running); err == nil {
		t.Error("expected error switching a running task")
	}
}

func TestDropGroupTasksRemovesUnconditionally(t *testing.T) {
	s := NewStore()
	s.AddGroup("build", 1)
	running, _ := s.AddTask(newTask("build"))
	s.Mutate(running, func(t *Task) { t.Status = Running{} })
	queued, _ := s.AddTask(newTask("build"))

	dropped := s.DropGroupTasks("build")
	if len(dropped) != 2 {
		t.Fatalf("expected both tasks dropped, got %v", dropped)
	}
	if _, ok := s.Task(running); ok {
		t.Error("running task should have been dropped")
	}
	if _, ok := s.Task(queued); ok {
		t.Error("queued task should have been dropped")
	}
}

func TestRestoreCoercesLiveStatusesAndPausesGroups(t *testing.T) {
	s := NewStore()
	p := Persistable{
		Tasks: map[int]Task{
			0: {ID: 0, Group: DefaultGroup, Status: Running{Start: time.Now()}},
			1: {ID: 1, Group: DefaultGroup, Status: Locked{Previous: Stashed{}}},
			2: {ID: 2, Group: "build", Status: Queued{}},
		},
		Groups: map[string]Group{
			DefaultGroup: {Name: DefaultGroup, Status: GroupRunning},
			"build":       {Name: "build", Status: GroupRunning, Parallel: 1},
		},
	}
	s.Restore(p)

	t0, _ := s.Task(0)
	if d, ok := t0.Status.(Done); !ok || d.Result.Kind != ResultKilled {
		t.Fatalf("expected task 0 coerced to Done{Killed}, got %#v", t0.Status)
	}
	t1, _ := s.Task(1)
	if _, ok := t1.Status.(Stashed); !ok {
		t.Fatalf("expected task 1 coerced to Stashed, got %#v", t1.Status)
	}
	g, _ := s.Group("build")
	if g.Status != GroupPaused {
		t.Fatalf("expected build group paused after restore with a queued task, got %v", g.Status)
	}

	nextID, err := s.AddTask(newTask(DefaultGroup))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if nextID != 3 {
		t.Fatalf("expected numbering to continue past restored ids, got %d", nextID)
	}
}

func TestRemoveGroupRefusesDefaultAndNonEmpty(t *testing.T) {
	s := NewStore()
	if err := s.RemoveGroup(DefaultGroup); err == nil {
		t.Error("expected error removing the default group")
	}
	s.AddGroup("build", 1)
	s.AddTask(newTask("build"))
	if err := s.RemoveGroup("build"); err == nil {
		t.Error("expected error removing a group with tasks")
	}
}
