package supervisor

import (
	"os"
	"testing"
	"time"
)

func TestNextSlotFillsGaps(t *testing.T) {
	p := make(Pool)
	p[0] = &Worker{Slot: 0}
	p[2] = &Worker{Slot: 2}
	if got := p.nextSlot(); got != 1 {
		t.Fatalf("nextSlot() = %d, want 1", got)
	}
}

func TestSpawnAndReapSuccess(t *testing.T) {
	s := New()
	out, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	slot, err := s.Spawn(SpawnSpec{
		Group:   "default",
		TaskID:  1,
		Shell:   []string{"sh", "-c"},
		Command: "true",
		Stdout:  out,
		Stderr:  out,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot = %d, want 0", slot)
	}
	if s.RunningInGroup("default") != 1 {
		t.Fatalf("expected 1 running worker")
	}

	var completions []Completion
	deadline := time.Now().Add(2 * time.Second)
	for len(completions) == 0 && time.Now().Before(deadline) {
		completions = s.DrainCompletions()
		if len(completions) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if len(completions) != 1 {
		t.Fatalf("got %d completions, want 1", len(completions))
	}
	c := completions[0]
	if c.TaskID != 1 || c.ExitCode != 0 || c.Signaled {
		t.Fatalf("unexpected completion: %+v", c)
	}
}

func TestSpawnNonZeroExit(t *testing.T) {
	s := New()
	out, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	_, err = s.Spawn(SpawnSpec{
		Group:   "default",
		TaskID:  2,
		Shell:   []string{"sh", "-c"},
		Command: "exit 7",
		Stdout:  out,
		Stderr:  out,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var completions []Completion
	deadline := time.Now().Add(2 * time.Second)
	for len(completions) == 0 && time.Now().Before(deadline) {
		completions = s.DrainCompletions()
		if len(completions) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if len(completions) != 1 || completions[0].ExitCode != 7 {
		t.Fatalf("unexpected completions: %+v", completions)
	}
}

func TestFindAndRelease(t *testing.T) {
	s := New()
	s.pools["default"] = Pool{0: {Slot: 0, TaskID: 5}}
	w, ok := s.Find(5)
	if !ok || w.TaskID != 5 {
		t.Fatalf("Find(5) = %+v, %v", w, ok)
	}
	s.Release("default", 0)
	if _, ok := s.Find(5); ok {
		t.Fatalf("expected worker released")
	}
}

func TestEnsureAndRemoveGroup(t *testing.T) {
	s := New()
	s.EnsureGroup("build")
	if s.RunningInGroup("build") != 0 {
		t.Fatalf("expected empty pool")
	}
	s.RemoveGroup("build")
	if _, ok := s.pools["build"]; ok {
		t.Fatalf("expected pool removed")
	}
}

func TestBuildEnvOverridesReservedKeys(t *testing.T) {
	envs := map[string]string{"PUEUE_GROUP": "hostile", "PATH": "/bin"}
	env := buildEnv(envs, "default", 3)
	found := map[string]bool{}
	for _, e := range env {
		found[e] = true
	}
	if !found["PUEUE_GROUP=default"] {
		t.Fatalf("expected PUEUE_GROUP overridden, got %v", env)
	}
	if !found["PUEUE_WORKER_ID=3"] {
		t.Fatalf("expected worker id set, got %v", env)
	}
	if found["PUEUE_GROUP=hostile"] {
		t.Fatalf("captured env leaked reserved key")
	}
}
