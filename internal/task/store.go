package task

import (
	"fmt"
	"sort"
)

// Store is the in-memory map of tasks and groups described in spec.md
// §4.C. It performs no locking of its own: the daemon's State wraps it
// in the single global mutex spec.md §5 requires, so Store methods are
// free to mutate their maps directly.
type Store struct {
	tasks  map[int]Task
	groups map[string]Group
	nextID int
}

// NewStore returns a Store with only the default group present.
func NewStore() *Store {
	return &Store{
		tasks: make(map[int]Task),
		groups: map[string]Group{
			DefaultGroup: {Name: DefaultGroup, Status: GroupRunning, Parallel: 0},
		},
		nextID: 0,
	}
}

// Task returns a copy of the task with the given id.
func (s *Store) Task(id int) (Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns every task, in id order.
func (s *Store) Tasks() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns a copy of the named group.
func (s *Store) Group(name string) (Group, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// Groups returns every group, sorted by name with "default" first.
func (s *Store) Groups() []Group {
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == DefaultGroup {
			return true
		}
		if out[j].Name == DefaultGroup {
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AddGroup creates a new group with the given parallelism limit.
func (s *Store) AddGroup(name string, parallel int) error {
	if _, ok := s.groups[name]; ok {
		return fmt.Errorf("group %q already exists", name)
	}
	s.groups[name] = Group{Name: name, Status: GroupRunning, Parallel: parallel}
	return nil
}

// RemoveGroup deletes a group, refusing if it is the default group or
// any task still references it.
func (s *Store) RemoveGroup(name string) error {
	if name == DefaultGroup {
		return fmt.Errorf("the default group cannot be removed")
	}
	if _, ok := s.groups[name]; !ok {
		return fmt.Errorf("group %q does not exist", name)
	}
	for _, t := range s.tasks {
		if t.Group == name {
			return fmt.Errorf("group %q still has tasks", name)
		}
	}
	delete(s.groups, name)
	return nil
}

// SetGroupStatus updates a group's run/pause/reset state.
func (s *Store) SetGroupStatus(name string, status GroupStatus) error {
	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("group %q does not exist", name)
	}
	g.Status = status
	s.groups[name] = g
	return nil
}

// SetGroupParallel updates a group's parallel-task limit.
func (s *Store) SetGroupParallel(name string, n int) error {
	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("group %q does not exist", name)
	}
	g.Parallel = n
	s.groups[name] = g
	return nil
}

// AddTask assigns the next id, validates the group and dependencies
// exist, deduplicates/sorts dependencies, and inserts the task.
func (s *Store) AddTask(t Task) (int, error) {
	if _, ok := s.groups[t.Group]; !ok {
		return 0, fmt.Errorf("group %q does not exist", t.Group)
	}
	for _, dep := range t.Dependencies {
		if _, ok := s.tasks[dep]; !ok {
			return 0, fmt.Errorf("dependency %d does not exist", dep)
		}
	}
	t.ID = s.nextID
	s.nextID++
	t.Dependencies = SortedDependencies(t.Dependencies)
	s.tasks[t.ID] = t
	return t.ID, nil
}

// restoreNextID is used by persistence restore to continue numbering
// past the highest id seen on disk.
func (s *Store) restoreNextID() {
	max := -1
	for id := range s.tasks {
		if id > max {
			max = id
		}
	}
	s.nextID = max + 1
}

// dependents returns the ids of tasks (outside of excluded) that list
// id as a dependency.
func (s *Store) dependents(id int, excluded map[int]bool) []int {
	var out []int
	for _, t := range s.tasks {
		if excluded[t.ID] {
			continue
		}
		for _, d := range t.Dependencies {
			if d == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// RemoveTasks removes every id in ids that is not Running/Paused and
// whose removal does not orphan a dependent outside of ids. It returns
// the ids actually removed and the ids rejected with a reason.
func (s *Store) RemoveTasks(ids []int) (removed []int, rejected map[int]string) {
	rejected = make(map[int]string)
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok {
			rejected[id] = "task does not exist"
			continue
		}
		if IsRunning(t.Status) {
			rejected[id] = "task is running"
			continue
		}
		if deps := s.dependents(id, set); len(deps) > 0 {
			rejected[id] = fmt.Sprintf("task is a dependency of %v", deps)
			continue
		}
		removed = append(removed, id)
	}

	for _, id := range removed {
		delete(s.tasks, id)
	}
	return removed, rejected
}

// Switch swaps two tasks' ids in place, rewriting any dependency
// reference to a or b held by other tasks. Both ids must currently be
// Queued or Stashed, and a must not equal b (spec.md §4.G).
func (s *Store) Switch(a, b int) error {
	if a == b {
		return fmt.Errorf("cannot switch a task with itself")
	}
	ta, ok := s.tasks[a]
	if !ok {
		return fmt.Errorf("task %d does not exist", a)
	}
	tb, ok := s.tasks[b]
	if !ok {
		return fmt.Errorf("task %d does not exist", b)
	}
	if !IsQueued(ta.Status) && !IsStashed(ta.Status) {
		return fmt.Errorf("task %d is not queued or stashed", a)
	}
	if !IsQueued(tb.Status) && !IsStashed(tb.Status) {
		return fmt.Errorf("task %d is not queued or stashed", b)
	}

	ta.ID, tb.ID = b, a
	s.tasks[a] = tb
	s.tasks[b] = ta

	for id, t := range s.tasks {
		if id == a || id == b {
			continue
		}
		changed := false
		for i, dep := range t.Dependencies {
			switch dep {
			case a:
				t.Dependencies[i] = b
				changed = true
			case b:
				t.Dependencies[i] = a
				changed = true
			}
		}
		if changed {
			t.Dependencies = SortedDependencies(t.Dependencies)
			s.tasks[id] = t
		}
	}
	return nil
}

// DropGroupTasks unconditionally deletes every task belonging to group,
// used by the scheduler's group-reset step (spec.md §4.F step 4) which
// runs only once the group's worker pool is already empty and does not
// apply the dependent-protection RemoveTasks enforces for user-driven
// removal.
func (s *Store) DropGroupTasks(group string) []int {
	var dropped []int
	for id, t := range s.tasks {
		if t.Group == group {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(s.tasks, id)
	}
	sort.Ints(dropped)
	return dropped
}

// Mutate applies fn to a copy of the task and writes it back, returning
// false if the id does not exist.
func (s *Store) Mutate(id int, fn func(*Task)) bool {
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	fn(&t)
	s.tasks[id] = t
	return true
}

// Filter scans every task, partitioning by predicate after restricting
// to an optional id set and/or group name (empty means unrestricted).
func (s *Store) Filter(ids []int, group string, pred func(Task) bool) (matched, unmatched []int) {
	var scope []int
	if len(ids) > 0 {
		scope = ids
	} else {
		for id := range s.tasks {
			scope = append(scope, id)
		}
	}
	sort.Ints(scope)

	for _, id := range scope {
		t, ok := s.tasks[id]
		if !ok {
			unmatched = append(unmatched, id)
			continue
		}
		if group != "" && t.Group != group {
			continue
		}
		if pred(t) {
			matched = append(matched, id)
		} else {
			unmatched = append(unmatched, id)
		}
	}
	return matched, unmatched
}

// Persistable is the serializable aggregate of tasks and groups,
// matching the JSON schema described in spec.md §6.
type Persistable struct {
	Tasks  map[int]Task     `json:"tasks"`
	Groups map[string]Group `json:"groups"`
}

// Snapshot captures the store's current contents for persistence.
func (s *Store) Snapshot() Persistable {
	tasks := make(map[int]Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t
	}
	groups := make(map[string]Group, len(s.groups))
	for name, g := range s.groups {
		groups[name] = g
	}
	return Persistable{Tasks: tasks, Groups: groups}
}

// Restore replaces the store's contents with a persisted snapshot,
// applying the startup coercions described in spec.md §3: any
// Running/Paused task becomes Done{Killed}, any Locked task becomes
// Stashed, and any group left with a Queued task becomes Paused.
func (s *Store) Restore(p Persistable) {
	s.tasks = make(map[int]Task, len(p.Tasks))
	for id, t := range p.Tasks {
		s.tasks[id] = t
	}
	s.groups = make(map[string]Group, len(p.Groups))
	for name, g := range p.Groups {
		s.groups[name] = g
	}
	if _, ok := s.groups[DefaultGroup]; !ok {
		s.groups[DefaultGroup] = Group{Name: DefaultGroup, Status: GroupRunning, Parallel: 0}
	}

	hasQueued := make(map[string]bool)
	for id, t := range s.tasks {
		switch st := t.Status.(type) {
		case Running:
			t.Status = Done{EnqueuedAt: st.EnqueuedAt, Start: st.Start, End: st.Start, Result: Result{Kind: ResultKilled}}
		case Paused:
			t.Status = Done{EnqueuedAt: st.EnqueuedAt, Start: st.Start, End: st.Start, Result: Result{Kind: ResultKilled}}
		case Locked:
			t.Status = Stashed{}
		case Queued:
			hasQueued[t.Group] = true
		}
		s.tasks[id] = t
	}
	for name := range hasQueued {
		g := s.groups[name]
		g.Status = GroupPaused
		s.groups[name] = g
	}

	s.restoreNextID()
}
