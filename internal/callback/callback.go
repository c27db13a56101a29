// Package callback renders and runs the per-task completion callback
// described in spec.md §4.I.
package callback

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/template"

	"go.pueued.dev/pueued/internal/logstore"
	"go.pueued.dev/pueued/internal/task"
)

// Vars is the template variable set spec.md §4.I exposes. Because it is
// a plain struct, referencing an unknown field is already a template
// execution error — the strict-mode behaviour the spec calls for falls
// out of using text/template over a typed struct rather than a map.
type Vars struct {
	ID           int
	Command      string
	Path         string
	Group        string
	QueuedCount  int
	StashedCount int
	Result       string
	ExitCode     string
	Start        string
	End          string
	Output       string
	OutputPath   string
}

// BuildVars assembles Vars for t, which must already be Done. counts
// are the number of Queued and Stashed tasks remaining in t's group
// after t finished, and logs resolves the last logLines lines of t's
// output as plain text.
func BuildVars(t task.Task, queuedCount, stashedCount int, logLines int, logs *logstore.Store) Vars {
	done, _ := t.Status.(task.Done)

	exitCode := "None"
	if done.Result.Kind == task.ResultFailed {
		exitCode = strconv.Itoa(done.Result.ExitCode)
	}

	var start, end string
	if !done.Start.IsZero() {
		start = strconv.FormatInt(done.Start.Unix(), 10)
	}
	if !done.End.IsZero() {
		end = strconv.FormatInt(done.End.Unix(), 10)
	}

	output, err := logs.TailText(t.ID, logLines)
	if err != nil {
		slog.Warn("callback: read log tail", "task_id", t.ID, "error", err)
	}

	return Vars{
		ID:           t.ID,
		Command:      t.Command,
		Path:         t.Path,
		Group:        t.Group,
		QueuedCount:  queuedCount,
		StashedCount: stashedCount,
		Result:       done.Result.String(),
		ExitCode:     exitCode,
		Start:        start,
		End:          end,
		Output:       output,
		OutputPath:   logs.Path(t.ID),
	}
}

// Render executes tmpl against vars. A missing field is a render error,
// per spec.md §4.I's strict mode.
func Render(tmpl string, vars Vars) (string, error) {
	t, err := template.New("callback").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("callback: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("callback: render: %w", err)
	}
	return buf.String(), nil
}

// Runner spawns and reaps callback child processes. Unlike
// supervisor.Supervisor, callback children never occupy a worker slot
// and are never persisted (spec.md §4.I).
type Runner struct {
	shell       []string
	children    map[int]*exec.Cmd
	nextID      int
	completions chan int
}

// NewRunner returns a Runner that spawns callbacks via shell.
func NewRunner(shell []string) *Runner {
	return &Runner{
		shell:       shell,
		children:    make(map[int]*exec.Cmd),
		completions: make(chan int, 64),
	}
}

// Fire renders tmpl and, if rendering succeeds, spawns it. A render
// error is logged, not returned to the caller, matching spec.md §4.I
// ("a render error logs but does not propagate").
func (r *Runner) Fire(tmpl string, vars Vars) {
	if strings.TrimSpace(tmpl) == "" {
		return
	}
	command, err := Render(tmpl, vars)
	if err != nil {
		slog.Warn("callback: render failed", "task_id", vars.ID, "error", err)
		return
	}
	if err := r.spawn(command); err != nil {
		slog.Warn("callback: spawn failed", "task_id", vars.ID, "error", err)
	}
}

func (r *Runner) spawn(command string) error {
	if len(r.shell) == 0 {
		return fmt.Errorf("callback: empty shell template")
	}
	args := append([]string{}, r.shell[1:]...)
	args = append(args, command)
	cmd := exec.Command(r.shell[0], args...)
	// Callback stdout/stderr are inherited from the daemon (spec.md
	// §4.I): a nil Cmd.Stdout/Stderr wires the child to /dev/null, so
	// the daemon's own fds must be set explicitly.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	id := r.nextID
	r.nextID++
	r.children[id] = cmd
	go func() {
		cmd.Wait()
		r.completions <- id
	}()
	return nil
}

// Reap drops every callback child that has finished since the last
// call (spec.md §4.F step 1: "non-blocking check... drop finished
// ones").
func (r *Runner) Reap() {
	for {
		select {
		case id := <-r.completions:
			delete(r.children, id)
		default:
			return
		}
	}
}

// Pending returns how many callback children are still running.
func (r *Runner) Pending() int { return len(r.children) }
