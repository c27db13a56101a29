package daemon

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.pueued.dev/pueued/internal/audit"
	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/supervisor"
	"go.pueued.dev/pueued/internal/task"
)

// Dispatcher implements the one-handler-per-request-kind contract of
// spec.md §4.G. Every exported method here is called with state.Lock()
// already held by the connection goroutine's request loop.
type Dispatcher struct {
	state *State
}

func NewDispatcher(state *State) *Dispatcher { return &Dispatcher{state: state} }

// Handle routes req to its handler and returns the response to send.
func (d *Dispatcher) Handle(req protocol.Request) protocol.Response {
	switch req.Kind {
	case protocol.KindAdd:
		return d.handleAdd(req.Add)
	case protocol.KindRemove:
		return d.handleRemove(req.Remove)
	case protocol.KindSwitch:
		return d.handleSwitch(req.Switch)
	case protocol.KindStash:
		return d.handleStash(req.Stash)
	case protocol.KindEnqueue:
		return d.handleEnqueue(req.Enqueue)
	case protocol.KindStart:
		return d.handleStart(req.Start)
	case protocol.KindPause:
		return d.handlePause(req.Pause)
	case protocol.KindKill:
		return d.handleKill(req.Kill)
	case protocol.KindRestart:
		return d.handleRestart(req.Restart)
	case protocol.KindEdit:
		return d.handleEdit(req.Edit)
	case protocol.KindEdited:
		return d.handleEdited(req.Edited)
	case protocol.KindEditRestore:
		return d.handleEditRestore(req.EditRestore)
	case protocol.KindGroup:
		return d.handleGroup(req.Group)
	case protocol.KindParallel:
		return d.handleParallel(req.Parallel)
	case protocol.KindClean:
		return d.handleClean(req.Clean)
	case protocol.KindReset:
		return d.handleReset(req.Reset)
	case protocol.KindStatus:
		return d.handleStatus()
	case protocol.KindLog:
		return d.handleLog(req.Log)
	case protocol.KindShutdown:
		return d.handleShutdown(req.Shutdown)
	default:
		return protocol.Failure(fmt.Sprintf("unhandled request kind %q", req.Kind))
	}
}

// resolveSelection expands a Selection into concrete task ids.
func (d *Dispatcher) resolveSelection(sel protocol.Selection) []int {
	switch sel.Kind {
	case protocol.SelectIDs:
		return sel.IDs
	case protocol.SelectGroup:
		var ids []int
		for _, t := range d.state.Store.Tasks() {
			if t.Group == sel.Group {
				ids = append(ids, t.ID)
			}
		}
		return ids
	case protocol.SelectAll:
		var ids []int
		for _, t := range d.state.Store.Tasks() {
			ids = append(ids, t.ID)
		}
		return ids
	default:
		return nil
	}
}

func partialSuccess(verb string, matched, unmatched []int) protocol.Response {
	if len(matched) == 0 {
		return protocol.Failure(fmt.Sprintf("no tasks %s", verb))
	}
	text := fmt.Sprintf("%s for tasks: %v", verb, matched)
	if len(unmatched) > 0 {
		text += fmt.Sprintf(". The command failed for tasks: %v", unmatched)
	}
	return protocol.Success(text)
}

func (d *Dispatcher) handleAdd(req *protocol.AddRequest) protocol.Response {
	s := d.state
	if req == nil {
		return protocol.Failure("missing add payload")
	}
	group := req.Group
	if group == "" {
		group = task.DefaultGroup
	}
	if _, ok := s.Store.Group(group); !ok {
		return protocol.Failure(fmt.Sprintf("group %q does not exist", group))
	}
	for _, dep := range req.Dependencies {
		if _, ok := s.Store.Task(dep); !ok {
			return protocol.Failure(fmt.Sprintf("dependency %d does not exist", dep))
		}
	}

	command := task.ApplyAlias(req.Command, req.Aliases)

	var status task.Status
	switch {
	case req.EnqueueAt != nil:
		at := *req.EnqueueAt
		status = task.Stashed{EnqueueAt: &at}
	case req.Stashed:
		status = task.Stashed{}
	default:
		status = task.Queued{EnqueuedAt: time.Now()}
	}

	t := task.Task{
		CreatedAt:       time.Now(),
		OriginalCommand: req.Command,
		Command:         command,
		Path:            req.Path,
		Envs:            req.Envs,
		Group:           group,
		Dependencies:    req.Dependencies,
		Priority:        req.Priority,
		Label:           req.Label,
		Status:          status,
	}

	id, err := s.Store.AddTask(t)
	if err != nil {
		return protocol.Failure(err.Error())
	}
	s.Audit.LogTaskEvent(id, "added", command)

	g, _ := s.Store.Group(group)
	groupPaused := g.Status == task.GroupPaused
	if req.StartImmediately {
		// "Regardless of queue position": force-spawn directly rather
		// than handing the task to the ordinary scheduler, which would
		// honor the group's pause state and parallel limit.
		if added, ok := s.Store.Task(id); ok {
			spawnTask(s, added)
		}
	}

	s.PersistOrShutdown()
	resp := protocol.AddedTaskResponse{ID: id, GroupPaused: groupPaused}
	if req.EnqueueAt != nil {
		resp.EnqueueAt = req.EnqueueAt
	}
	return protocol.Response{Kind: protocol.KindRespAddedTask, AddedTask: &resp}
}

func (d *Dispatcher) handleRemove(req *protocol.IDsRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing remove payload")
	}
	s := d.state
	removed, rejected := s.Store.RemoveTasks(req.IDs)
	for _, id := range removed {
		s.Logs.Delete(id)
		s.Audit.LogTaskEvent(id, audit.TaskRemoved, "")
	}
	if len(removed) > 0 {
		s.PersistOrShutdown()
	}
	if len(removed) == 0 {
		return protocol.Failure(fmt.Sprintf("no tasks removed: %v", rejected))
	}
	text := fmt.Sprintf("removed tasks: %v", removed)
	if len(rejected) > 0 {
		text += fmt.Sprintf(". The command failed for tasks: %v", rejected)
	}
	return protocol.Success(text)
}

func (d *Dispatcher) handleSwitch(req *protocol.SwitchRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing switch payload")
	}
	if err := d.state.Store.Switch(req.A, req.B); err != nil {
		return protocol.Failure(err.Error())
	}
	d.state.PersistOrShutdown()
	return protocol.Success(fmt.Sprintf("switched tasks %d and %d", req.A, req.B))
}

func (d *Dispatcher) handleStash(req *protocol.DelayRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing stash payload")
	}
	s := d.state
	ids := d.resolveSelection(req.Selection)
	matched, unmatched := s.Store.Filter(ids, "", func(t task.Task) bool {
		_, queued := t.Status.(task.Queued)
		_, locked := t.Status.(task.Locked)
		return queued || locked
	})
	for _, id := range matched {
		s.Store.Mutate(id, func(t *task.Task) {
			t.Status = task.Stashed{EnqueueAt: req.EnqueueAt}
		})
	}
	if len(matched) > 0 {
		s.PersistOrShutdown()
	}
	return partialSuccess("stashed", matched, unmatched)
}

func (d *Dispatcher) handleEnqueue(req *protocol.DelayRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing enqueue payload")
	}
	s := d.state
	ids := d.resolveSelection(req.Selection)
	matched, unmatched := s.Store.Filter(ids, "", func(t task.Task) bool {
		_, stashed := t.Status.(task.Stashed)
		_, locked := t.Status.(task.Locked)
		return stashed || locked
	})
	for _, id := range matched {
		s.Store.Mutate(id, func(t *task.Task) {
			if req.EnqueueAt != nil {
				at := *req.EnqueueAt
				t.Status = task.Stashed{EnqueueAt: &at}
			} else {
				t.Status = task.Queued{EnqueuedAt: time.Now()}
			}
		})
	}
	if len(matched) > 0 {
		s.PersistOrShutdown()
	}
	return partialSuccess("enqueued", matched, unmatched)
}

func (d *Dispatcher) handleStart(req *protocol.SelectRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing start payload")
	}
	s := d.state
	switch req.Selection.Kind {
	case protocol.SelectAll:
		for _, g := range s.Store.Groups() {
			s.Store.SetGroupStatus(g.Name, task.GroupRunning)
		}
	case protocol.SelectGroup:
		s.Store.SetGroupStatus(req.Selection.Group, task.GroupRunning)
		for _, t := range s.Store.Tasks() {
			if t.Group != req.Selection.Group {
				continue
			}
			if _, paused := t.Status.(task.Paused); paused {
				s.Supervisor.Signal(t.ID, supervisor.ActionResume)
				s.Store.Mutate(t.ID, func(mt *task.Task) {
					p := mt.Status.(task.Paused)
					mt.Status = task.Running{EnqueuedAt: p.EnqueuedAt, Start: p.Start}
				})
			}
		}
	default:
		ids := d.resolveSelection(req.Selection)
		for _, id := range ids {
			t, ok := s.Store.Task(id)
			if !ok {
				continue
			}
			switch st := t.Status.(type) {
			case task.Paused:
				s.Supervisor.Signal(id, supervisor.ActionResume)
				s.Store.Mutate(id, func(mt *task.Task) {
					mt.Status = task.Running{EnqueuedAt: st.EnqueuedAt, Start: st.Start}
				})
			case task.Queued, task.Stashed:
				// Force-spawn: a specific-id Start bypasses the group's
				// running/pause state and parallel limit, unlike the
				// ordinary scheduler tick.
				spawnTask(s, t)
			}
		}
	}
	s.PersistOrShutdown()
	return protocol.Success("started selection")
}

func (d *Dispatcher) handlePause(req *protocol.PauseRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing pause payload")
	}
	s := d.state
	groups := d.selectionGroups(req.Selection)
	for _, group := range groups {
		s.Store.SetGroupStatus(group, task.GroupPaused)
		if !req.Wait {
			s.Supervisor.SignalGroup(group, supervisor.ActionPause)
			for _, t := range s.Store.Tasks() {
				if t.Group != group {
					continue
				}
				if r, ok := t.Status.(task.Running); ok {
					s.Store.Mutate(t.ID, func(mt *task.Task) {
						mt.Status = task.Paused{EnqueuedAt: r.EnqueuedAt, Start: r.Start}
					})
				}
			}
		}
	}
	s.PersistOrShutdown()
	return protocol.Success("paused selection")
}

// selectionGroups maps a Selection onto the set of group names it
// touches (Pause/Kill operate on groups, not individual ids, when the
// selection names a group or "all").
func (d *Dispatcher) selectionGroups(sel protocol.Selection) []string {
	switch sel.Kind {
	case protocol.SelectGroup:
		return []string{sel.Group}
	case protocol.SelectAll:
		var names []string
		for _, g := range d.state.Store.Groups() {
			names = append(names, g.Name)
		}
		return names
	default:
		seen := map[string]bool{}
		var names []string
		for _, id := range sel.IDs {
			if t, ok := d.state.Store.Task(id); ok && !seen[t.Group] {
				seen[t.Group] = true
				names = append(names, t.Group)
			}
		}
		return names
	}
}

var killSignals = map[string]supervisor.Action{
	"SIGKILL": supervisor.ActionKill,
	"SIGINT":  supervisor.ActionInt,
	"SIGTERM": supervisor.ActionTerm,
	"SIGSTOP": supervisor.ActionPause,
	"SIGCONT": supervisor.ActionResume,
}

func (d *Dispatcher) handleKill(req *protocol.KillRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing kill payload")
	}
	s := d.state
	action := supervisor.ActionKill
	if req.Signal != nil {
		sig, ok := killSignals[strings.ToUpper(*req.Signal)]
		if !ok {
			return protocol.Failure(fmt.Sprintf("unsupported signal %q", *req.Signal))
		}
		action = sig
	}

	ids := d.resolveSelection(req.Selection)
	for _, id := range ids {
		t, ok := s.Store.Task(id)
		if !ok || !task.IsRunning(t.Status) {
			continue
		}
		s.Supervisor.Signal(id, action)
	}

	if req.Signal == nil && req.Selection.Kind != protocol.SelectIDs {
		for _, group := range d.selectionGroups(req.Selection) {
			hasQueued := false
			for _, t := range s.Store.Tasks() {
				if t.Group == group && (task.IsQueued(t.Status) || task.IsStashed(t.Status)) {
					hasQueued = true
					break
				}
			}
			if hasQueued && s.Shutdown == ShutdownNone {
				s.Store.SetGroupStatus(group, task.GroupPaused)
			}
		}
	}

	s.PersistOrShutdown()
	return protocol.Success("signalled selection")
}

func (d *Dispatcher) handleRestart(req *protocol.RestartRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing restart payload")
	}
	s := d.state
	var matched, unmatched []int
	for _, upd := range req.Tasks {
		t, ok := s.Store.Task(upd.ID)
		if !ok || !task.IsDone(t.Status) {
			unmatched = append(unmatched, upd.ID)
			continue
		}
		if !req.InPlace {
			// Out-of-place restart is performed client-side by cloning
			// into a new Add (spec.md §4.G); the daemon only validates.
			matched = append(matched, upd.ID)
			continue
		}
		s.Store.Mutate(upd.ID, func(mt *task.Task) {
			if upd.Command != nil {
				mt.Command = *upd.Command
			}
			if upd.Path != nil {
				mt.Path = *upd.Path
			}
			if upd.Label != nil {
				mt.Label = upd.Label
			}
			if upd.Priority != nil {
				mt.Priority = *upd.Priority
			}
			mt.Status = task.Queued{EnqueuedAt: time.Now()}
		})
		matched = append(matched, upd.ID)
	}
	if len(matched) > 0 {
		s.PersistOrShutdown()
	}
	return partialSuccess("restarted", matched, unmatched)
}

func (d *Dispatcher) handleEdit(req *protocol.IDsRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing edit payload")
	}
	s := d.state
	var editable []protocol.EditableTask
	var unmatched []int
	for _, id := range req.IDs {
		t, ok := s.Store.Task(id)
		if !ok || (!task.IsQueued(t.Status) && !task.IsStashed(t.Status)) {
			unmatched = append(unmatched, id)
			continue
		}
		previous := t.Status
		s.Store.Mutate(id, func(mt *task.Task) {
			mt.Status = task.Locked{Previous: previous}
		})
		editable = append(editable, protocol.EditableTask{
			ID: id, Command: t.Command, Path: t.Path, Label: t.Label, Priority: t.Priority,
		})
	}
	if len(editable) == 0 {
		return protocol.Failure(fmt.Sprintf("no tasks editable: %v", unmatched))
	}
	s.PersistOrShutdown()
	return protocol.Response{Kind: protocol.KindRespEdit, Edit: &protocol.EditResponse{Tasks: editable}}
}

func (d *Dispatcher) handleEdited(req *protocol.EditedRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing edited payload")
	}
	s := d.state
	var matched, unmatched []int
	for _, edit := range req.Tasks {
		t, ok := s.Store.Task(edit.ID)
		locked, isLocked := t.Status.(task.Locked)
		if !ok || !isLocked {
			unmatched = append(unmatched, edit.ID)
			continue
		}
		s.Store.Mutate(edit.ID, func(mt *task.Task) {
			mt.OriginalCommand = edit.Command
			mt.Command = task.ApplyAlias(edit.Command, nil)
			mt.Path = edit.Path
			mt.Label = edit.Label
			mt.Priority = edit.Priority
			mt.Status = locked.Previous
		})
		matched = append(matched, edit.ID)
	}
	if len(matched) > 0 {
		s.PersistOrShutdown()
	}
	return partialSuccess("updated", matched, unmatched)
}

func (d *Dispatcher) handleEditRestore(req *protocol.IDsRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing edit_restore payload")
	}
	s := d.state
	var matched, unmatched []int
	for _, id := range req.IDs {
		t, ok := s.Store.Task(id)
		locked, isLocked := t.Status.(task.Locked)
		if !ok || !isLocked {
			unmatched = append(unmatched, id)
			continue
		}
		s.Store.Mutate(id, func(mt *task.Task) {
			mt.Status = locked.Previous
		})
		matched = append(matched, id)
	}
	if len(matched) > 0 {
		s.PersistOrShutdown()
	}
	return partialSuccess("restored", matched, unmatched)
}

func (d *Dispatcher) handleGroup(req *protocol.GroupRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing group payload")
	}
	s := d.state
	switch req.Action {
	case protocol.GroupList:
		groups := make(map[string]task.Group)
		for _, g := range s.Store.Groups() {
			groups[g.Name] = g
		}
		return protocol.Response{Kind: protocol.KindRespGroup, Group: &protocol.GroupResponse{Groups: groups}}
	case protocol.GroupAdd:
		if err := s.Store.AddGroup(req.Name, req.Parallel); err != nil {
			return protocol.Failure(err.Error())
		}
		s.Supervisor.EnsureGroup(req.Name)
		s.PersistOrShutdown()
		return protocol.Success(fmt.Sprintf("added group %q", req.Name))
	case protocol.GroupRemove:
		if s.Supervisor.RunningInGroup(req.Name) > 0 {
			// A non-empty worker pool for a group about to be removed
			// is the invariant violation spec.md §4.G calls out as
			// critical; bail out via emergency shutdown rather than
			// silently dropping live children.
			s.Shutdown = ShutdownEmergency
			return protocol.Failure(fmt.Sprintf("group %q has running tasks; emergency shutdown initiated", req.Name))
		}
		if err := s.Store.RemoveGroup(req.Name); err != nil {
			return protocol.Failure(err.Error())
		}
		s.Supervisor.RemoveGroup(req.Name)
		s.PersistOrShutdown()
		return protocol.Success(fmt.Sprintf("removed group %q", req.Name))
	default:
		return protocol.Failure(fmt.Sprintf("unknown group action %q", req.Action))
	}
}

func (d *Dispatcher) handleParallel(req *protocol.ParallelRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing parallel payload")
	}
	if err := d.state.Store.SetGroupParallel(req.Group, req.Parallel); err != nil {
		return protocol.Failure(err.Error())
	}
	d.state.PersistOrShutdown()
	return protocol.Success(fmt.Sprintf("set group %q parallelism to %d", req.Group, req.Parallel))
}

func (d *Dispatcher) handleClean(req *protocol.CleanRequest) protocol.Response {
	s := d.state
	if req == nil {
		req = &protocol.CleanRequest{}
	}
	var toRemove []int
	for _, t := range s.Store.Tasks() {
		done, ok := t.Status.(task.Done)
		if !ok {
			continue
		}
		if req.SuccessOnly && done.Result.Kind != task.ResultSuccess {
			continue
		}
		if req.Group != nil && t.Group != *req.Group {
			continue
		}
		toRemove = append(toRemove, t.ID)
	}
	removed, _ := s.Store.RemoveTasks(toRemove)
	for _, id := range removed {
		s.Logs.Delete(id)
	}
	if len(removed) > 0 {
		s.PersistOrShutdown()
	}
	sort.Ints(removed)
	return protocol.Success(fmt.Sprintf("cleaned tasks: %v", removed))
}

func (d *Dispatcher) handleReset(req *protocol.SelectRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing reset payload")
	}
	s := d.state
	for _, group := range d.selectionGroups(req.Selection) {
		s.Store.SetGroupStatus(group, task.GroupReset)
		s.Supervisor.SignalGroup(group, supervisor.ActionKill)
	}
	s.PersistOrShutdown()
	return protocol.Success("reset selection")
}

func (d *Dispatcher) handleStatus() protocol.Response {
	s := d.state
	tasks := make(map[int]task.Task)
	for _, t := range s.Store.Tasks() {
		tasks[t.ID] = t
	}
	groups := make(map[string]task.Group)
	for _, g := range s.Store.Groups() {
		groups[g.Name] = g
	}
	return protocol.Response{Kind: protocol.KindRespStatus, Status: &protocol.StatusResponse{Tasks: tasks, Groups: groups}}
}

func (d *Dispatcher) handleLog(req *protocol.LogRequest) protocol.Response {
	if req == nil {
		return protocol.Failure("missing log payload")
	}
	s := d.state
	ids := d.resolveSelection(req.Selection)
	if len(ids) == 0 {
		for _, t := range s.Store.Tasks() {
			ids = append(ids, t.ID)
		}
	}
	logs := make(map[int]protocol.TaskLog)
	for _, id := range ids {
		t, ok := s.Store.Task(id)
		if !ok {
			continue
		}
		entry := protocol.TaskLog{Task: t, OutputComplete: true}
		if req.SendLogs {
			f, err := s.Logs.OpenRead(id)
			if err == nil {
				compressed, complete, rerr := logstore.ReadCompressed(f, req.Lines)
				f.Close()
				if rerr == nil {
					entry.Output = compressed
					entry.OutputComplete = complete
				}
			}
		}
		logs[id] = entry
	}
	return protocol.Response{Kind: protocol.KindRespLog, Log: &protocol.LogResponse{Logs: logs}}
}

func (d *Dispatcher) handleShutdown(req *protocol.ShutdownRequest) protocol.Response {
	s := d.state
	mode := ShutdownGraceful
	label := "graceful"
	if req != nil && req.Mode == protocol.ShutdownEmergency {
		mode = ShutdownEmergency
		label = "emergency"
	}
	s.Shutdown = mode
	s.Audit.LogDaemonEvent(audit.DaemonShutdownRequested, label)
	return protocol.Success("shutdown initiated")
}
