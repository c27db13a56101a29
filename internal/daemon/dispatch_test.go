package daemon

import (
	"os"
	"testing"
	"time"

	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

func TestHandleAddDefaultsGroupAndQueues(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)

	resp := d.Handle(protocol.Request{Kind: protocol.KindAdd, Add: &protocol.AddRequest{
		Command: "echo hi", Path: "/tmp",
	}})
	if resp.Kind != protocol.KindRespAddedTask {
		t.Fatalf("got response kind %v, want AddedTask", resp.Kind)
	}
	got, ok := s.Store.Task(resp.AddedTask.ID)
	if !ok {
		t.Fatal("added task not found in store")
	}
	if got.Group != task.DefaultGroup {
		t.Fatalf("got group %q, want default", got.Group)
	}
	if _, queued := got.Status.(task.Queued); !queued {
		t.Fatalf("got status %#v, want Queued", got.Status)
	}
}

func TestHandleAddRejectsMissingDependency(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)

	resp := d.Handle(protocol.Request{Kind: protocol.KindAdd, Add: &protocol.AddRequest{
		Command: "echo hi", Dependencies: []int{42},
	}})
	if resp.Kind != protocol.KindRespFailure {
		t.Fatalf("got response kind %v, want Failure", resp.Kind)
	}
}

func TestHandleRemoveRejectsRunningTask(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	id, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Running{}})

	resp := d.Handle(protocol.Request{Kind: protocol.KindRemove, Remove: &protocol.IDsRequest{IDs: []int{id}}})
	if resp.Kind != protocol.KindRespFailure {
		t.Fatalf("got response kind %v, want Failure for a running task", resp.Kind)
	}
	if _, ok := s.Store.Task(id); !ok {
		t.Fatal("running task should not have been removed")
	}
}

func TestHandlePauseSetsGroupPausedAndPausesRunningTasks(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	id, _ := s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Running{}})

	resp := d.Handle(protocol.Request{Kind: protocol.KindPause, Pause: &protocol.PauseRequest{
		Selection: protocol.SelectionByGroup(task.DefaultGroup),
	}})
	if !resp.IsSuccess() {
		t.Fatalf("got response %+v, want success", resp)
	}
	g, _ := s.Store.Group(task.DefaultGroup)
	if g.Status != task.GroupPaused {
		t.Fatalf("got group status %v, want Paused", g.Status)
	}
	got, _ := s.Store.Task(id)
	if _, paused := got.Status.(task.Paused); !paused {
		t.Fatalf("got task status %#v, want Paused", got.Status)
	}
}

func TestHandleStartOnSpecificIDForceSpawnsInPausedGroup(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	s.Store.SetGroupStatus(task.DefaultGroup, task.GroupPaused)
	id, _ := s.Store.AddTask(task.Task{
		Command: "true", Group: task.DefaultGroup, Path: t.TempDir(),
		Status: task.Queued{EnqueuedAt: time.Now()},
	})

	resp := d.Handle(protocol.Request{Kind: protocol.KindStart, Start: &protocol.SelectRequest{
		Selection: protocol.SelectionByIDs(id),
	}})
	if !resp.IsSuccess() {
		t.Fatalf("got response %+v, want success", resp)
	}

	got, _ := s.Store.Task(id)
	if _, running := got.Status.(task.Running); !running {
		t.Fatalf("got status %#v, want Running (force-spawn should bypass the paused group)", got.Status)
	}
	g, _ := s.Store.Group(task.DefaultGroup)
	if g.Status != task.GroupPaused {
		t.Fatalf("got group status %v, want group to remain Paused", g.Status)
	}
}

func TestHandleAddStartImmediatelyForceSpawnsInPausedGroup(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	s.Store.SetGroupStatus(task.DefaultGroup, task.GroupPaused)

	resp := d.Handle(protocol.Request{Kind: protocol.KindAdd, Add: &protocol.AddRequest{
		Command: "true", Path: t.TempDir(), StartImmediately: true,
	}})
	if resp.Kind != protocol.KindRespAddedTask {
		t.Fatalf("got response kind %v, want AddedTask", resp.Kind)
	}
	if !resp.AddedTask.GroupPaused {
		t.Fatal("got GroupPaused false, want true since the default group was paused")
	}
	got, ok := s.Store.Task(resp.AddedTask.ID)
	if !ok {
		t.Fatal("added task not found in store")
	}
	if _, running := got.Status.(task.Running); !running {
		t.Fatalf("got status %#v, want Running (start_immediately should force-spawn)", got.Status)
	}
}

func TestHandleGroupRemoveRefusesWhileTasksRunInIt(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	s.Store.AddGroup("build", 1)
	s.Supervisor.EnsureGroup("build")

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer devNull.Close()
	if _, err := s.Supervisor.Spawn(supervisor.SpawnSpec{
		Group: "build", TaskID: 1, Shell: []string{"sh", "-c"}, Command: "sleep 2",
		Dir: t.TempDir(), Stdout: devNull, Stderr: devNull,
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	resp := d.Handle(protocol.Request{Kind: protocol.KindGroup, Group: &protocol.GroupRequest{
		Action: protocol.GroupRemove, Name: "build",
	}})
	if resp.Kind != protocol.KindRespFailure {
		t.Fatalf("got response kind %v, want Failure", resp.Kind)
	}
	if s.Shutdown != ShutdownEmergency {
		t.Fatalf("got shutdown mode %v, want ShutdownEmergency", s.Shutdown)
	}
}

func TestHandleShutdownRecordsMode(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)

	resp := d.Handle(protocol.Request{Kind: protocol.KindShutdown, Shutdown: &protocol.ShutdownRequest{
		Mode: protocol.ShutdownEmergency,
	}})
	if !resp.IsSuccess() {
		t.Fatalf("got response %+v, want success", resp)
	}
	if s.Shutdown != ShutdownEmergency {
		t.Fatalf("got shutdown mode %v, want ShutdownEmergency", s.Shutdown)
	}
}

func TestHandleStatusReportsAllTasksAndGroups(t *testing.T) {
	s := newTestState(t)
	d := NewDispatcher(s)
	s.Store.AddTask(task.Task{Command: "true", Group: task.DefaultGroup, Status: task.Queued{}})

	resp := d.Handle(protocol.Request{Kind: protocol.KindStatus})
	if resp.Kind != protocol.KindRespStatus {
		t.Fatalf("got response kind %v, want Status", resp.Kind)
	}
	if len(resp.Status.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(resp.Status.Tasks))
	}
	if _, ok := resp.Status.Groups[task.DefaultGroup]; !ok {
		t.Fatal("expected the default group in the status response")
	}
}
