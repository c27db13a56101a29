package task

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DefaultGroup is the always-present group that cannot be deleted.
const DefaultGroup = "default"

// Task is a single queued/running/finished shell command, identified
// by a monotonically assigned id (spec.md §3).
type Task struct {
	ID              int               `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	OriginalCommand string            `json:"original_command"`
	Command         string            `json:"command"`
	Path            string            `json:"path"`
	Envs            map[string]string `json:"envs"`
	Group           string            `json:"group"`
	Dependencies    []int             `json:"dependencies"`
	Priority        int               `json:"priority"`
	Label           *string           `json:"label,omitempty"`
	Status          Status            `json:"-"`
}

// taskDTO is Task's on-the-wire shape; Status is flattened through
// statusDTO since encoding/json and fxamacker/cbor can't serialize an
// interface field on their own.
type taskDTO struct {
	ID              int               `json:"id" cbor:"id"`
	CreatedAt       time.Time         `json:"created_at" cbor:"created_at"`
	OriginalCommand string            `json:"original_command" cbor:"original_command"`
	Command         string            `json:"command" cbor:"command"`
	Path            string            `json:"path" cbor:"path"`
	Envs            map[string]string `json:"envs" cbor:"envs"`
	Group           string            `json:"group" cbor:"group"`
	Dependencies    []int             `json:"dependencies" cbor:"dependencies"`
	Priority        int               `json:"priority" cbor:"priority"`
	Label           *string           `json:"label,omitempty" cbor:"label,omitempty"`
	Status          statusDTO         `json:"status" cbor:"status"`
}

func (t Task) dto() taskDTO {
	return taskDTO{
		ID:              t.ID,
		CreatedAt:       t.CreatedAt,
		OriginalCommand: t.OriginalCommand,
		Command:         t.Command,
		Path:            t.Path,
		Envs:            t.Envs,
		Group:           t.Group,
		Dependencies:    t.Dependencies,
		Priority:        t.Priority,
		Label:           t.Label,
		Status:          toDTO(t.Status),
	}
}

func (d taskDTO) task() Task {
	return Task{
		ID:              d.ID,
		CreatedAt:       d.CreatedAt,
		OriginalCommand: d.OriginalCommand,
		Command:         d.Command,
		Path:            d.Path,
		Envs:            d.Envs,
		Group:           d.Group,
		Dependencies:    d.Dependencies,
		Priority:        d.Priority,
		Label:           d.Label,
		Status:          fromDTO(d.Status),
	}
}

func (t Task) MarshalJSON() ([]byte, error) { return json.Marshal(t.dto()) }

func (t *Task) UnmarshalJSON(b []byte) error {
	var d taskDTO
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*t = d.task()
	return nil
}

func (t Task) MarshalCBOR() ([]byte, error) { return cbor.Marshal(t.dto()) }

func (t *Task) UnmarshalCBOR(b []byte) error {
	var d taskDTO
	if err := cbor.Unmarshal(b, &d); err != nil {
		return err
	}
	*t = d.task()
	return nil
}

// SortedDependencies returns a deduplicated, ascending copy of deps,
// enforcing spec.md §3 invariant (v).
func SortedDependencies(deps []int) []int {
	seen := make(map[int]struct{}, len(deps))
	out := make([]int, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// GroupStatus is a Group's run/pause/reset state.
type GroupStatus string

const (
	GroupRunning GroupStatus = "Running"
	GroupPaused  GroupStatus = "Paused"
	GroupReset   GroupStatus = "Reset"
)

// Group is a named bucket of tasks sharing a parallelism limit.
type Group struct {
	Name     string      `json:"name"`
	Status   GroupStatus `json:"status"`
	Parallel int         `json:"parallel_tasks"`
}
