package protocol

import "time"

// RequestKind discriminates the Request union. The concrete union of
// kinds is exactly the table in spec.md §4.G.
type RequestKind string

const (
	KindAdd         RequestKind = "Add"
	KindRemove      RequestKind = "Remove"
	KindSwitch      RequestKind = "Switch"
	KindStash       RequestKind = "Stash"
	KindEnqueue     RequestKind = "Enqueue"
	KindStart       RequestKind = "Start"
	KindPause       RequestKind = "Pause"
	KindKill        RequestKind = "Kill"
	KindRestart     RequestKind = "Restart"
	KindEdit        RequestKind = "Edit"
	KindEdited      RequestKind = "Edited"
	KindEditRestore RequestKind = "EditRestore"
	KindGroup       RequestKind = "Group"
	KindParallel    RequestKind = "Parallel"
	KindClean       RequestKind = "Clean"
	KindReset       RequestKind = "Reset"
	KindStatus      RequestKind = "Status"
	KindLog         RequestKind = "Log"
	KindStream      RequestKind = "Stream"
	KindShutdown    RequestKind = "Shutdown"
)

// Request is the single wire envelope for every client instruction.
// Exactly one of the pointer fields matching Kind is populated; this
// mirrors a oneof and keeps (de)serialization mechanical, instead of
// needing a custom interface marshaler for every request kind.
type Request struct {
	Kind RequestKind `json:"kind" cbor:"kind"`

	Add         *AddRequest     `json:"add,omitempty" cbor:"add,omitempty"`
	Remove      *IDsRequest     `json:"remove,omitempty" cbor:"remove,omitempty"`
	Switch      *SwitchRequest  `json:"switch,omitempty" cbor:"switch,omitempty"`
	Stash       *DelayRequest   `json:"stash,omitempty" cbor:"stash,omitempty"`
	Enqueue     *DelayRequest   `json:"enqueue,omitempty" cbor:"enqueue,omitempty"`
	Start       *SelectRequest  `json:"start,omitempty" cbor:"start,omitempty"`
	Pause       *PauseRequest   `json:"pause,omitempty" cbor:"pause,omitempty"`
	Kill        *KillRequest    `json:"kill,omitempty" cbor:"kill,omitempty"`
	Restart     *RestartRequest `json:"restart,omitempty" cbor:"restart,omitempty"`
	Edit        *IDsRequest     `json:"edit,omitempty" cbor:"edit,omitempty"`
	Edited      *EditedRequest  `json:"edited,omitempty" cbor:"edited,omitempty"`
	EditRestore *IDsRequest     `json:"edit_restore,omitempty" cbor:"edit_restore,omitempty"`
	Group       *GroupRequest   `json:"group,omitempty" cbor:"group,omitempty"`
	Parallel    *ParallelRequest `json:"parallel,omitempty" cbor:"parallel,omitempty"`
	Clean       *CleanRequest   `json:"clean,omitempty" cbor:"clean,omitempty"`
	Reset       *SelectRequest  `json:"reset,omitempty" cbor:"reset,omitempty"`
	Status      *struct{}       `json:"status,omitempty" cbor:"status,omitempty"`
	Log         *LogRequest     `json:"log,omitempty" cbor:"log,omitempty"`
	Stream      *StreamRequest  `json:"stream,omitempty" cbor:"stream,omitempty"`
	Shutdown    *ShutdownRequest `json:"shutdown,omitempty" cbor:"shutdown,omitempty"`
}

type AddRequest struct {
	Command          string            `json:"command" cbor:"command"`
	Path             string            `json:"path" cbor:"path"`
	Envs             map[string]string `json:"envs" cbor:"envs"`
	Group            string            `json:"group" cbor:"group"`
	Dependencies     []int             `json:"dependencies,omitempty" cbor:"dependencies,omitempty"`
	Priority         int               `json:"priority,omitempty" cbor:"priority,omitempty"`
	Label            *string           `json:"label,omitempty" cbor:"label,omitempty"`
	Stashed          bool              `json:"stashed,omitempty" cbor:"stashed,omitempty"`
	EnqueueAt        *time.Time        `json:"enqueue_at,omitempty" cbor:"enqueue_at,omitempty"`
	StartImmediately bool              `json:"start_immediately,omitempty" cbor:"start_immediately,omitempty"`
	// Aliases is the key→replacement map the §4.C alias substitution
	// pass consults. The thin reference client never sets this (table
	// ownership of alias definitions is out of scope per spec.md §1);
	// it exists so the store operation itself is fully usable by a
	// richer client.
	Aliases map[string]string `json:"aliases,omitempty" cbor:"aliases,omitempty"`
}

type IDsRequest struct {
	IDs []int `json:"ids" cbor:"ids"`
}

type SwitchRequest struct {
	A int `json:"a" cbor:"a"`
	B int `json:"b" cbor:"b"`
}

// DelayRequest backs both Stash and Enqueue: a selection plus an
// optional auto-promotion time.
type DelayRequest struct {
	Selection Selection  `json:"selection" cbor:"selection"`
	EnqueueAt *time.Time `json:"enqueue_at,omitempty" cbor:"enqueue_at,omitempty"`
}

type SelectRequest struct {
	Selection Selection `json:"selection" cbor:"selection"`
}

type PauseRequest struct {
	Selection Selection `json:"selection" cbor:"selection"`
	Wait      bool      `json:"wait,omitempty" cbor:"wait,omitempty"`
}

type KillRequest struct {
	Selection Selection `json:"selection" cbor:"selection"`
	Signal    *string   `json:"signal,omitempty" cbor:"signal,omitempty"`
}

type RestartRequest struct {
	InPlace bool                `json:"in_place" cbor:"in_place"`
	Tasks   []RestartTaskUpdate `json:"tasks" cbor:"tasks"`
}

type RestartTaskUpdate struct {
	ID       int     `json:"id" cbor:"id"`
	Command  *string `json:"command,omitempty" cbor:"command,omitempty"`
	Path     *string `json:"path,omitempty" cbor:"path,omitempty"`
	Label    *string `json:"label,omitempty" cbor:"label,omitempty"`
	Priority *int    `json:"priority,omitempty" cbor:"priority,omitempty"`
}

type EditedRequest struct {
	Tasks []EditedTask `json:"tasks" cbor:"tasks"`
}

type EditedTask struct {
	ID       int     `json:"id" cbor:"id"`
	Command  string  `json:"command" cbor:"command"`
	Path     string  `json:"path" cbor:"path"`
	Label    *string `json:"label,omitempty" cbor:"label,omitempty"`
	Priority int     `json:"priority" cbor:"priority"`
}

// GroupAction discriminates the Group request's sub-operations.
type GroupAction string

const (
	GroupList   GroupAction = "List"
	GroupAdd    GroupAction = "Add"
	GroupRemove GroupAction = "Remove"
)

type GroupRequest struct {
	Action   GroupAction `json:"action" cbor:"action"`
	Name     string      `json:"name,omitempty" cbor:"name,omitempty"`
	Parallel int         `json:"parallel,omitempty" cbor:"parallel,omitempty"`
}

type ParallelRequest struct {
	Group    string `json:"group" cbor:"group"`
	Parallel int    `json:"parallel" cbor:"parallel"`
}

type CleanRequest struct {
	SuccessOnly bool    `json:"success_only,omitempty" cbor:"success_only,omitempty"`
	Group       *string `json:"group,omitempty" cbor:"group,omitempty"`
}

type LogRequest struct {
	Selection Selection `json:"selection" cbor:"selection"`
	SendLogs  bool      `json:"send_logs,omitempty" cbor:"send_logs,omitempty"`
	Lines     *int      `json:"lines,omitempty" cbor:"lines,omitempty"`
}

type StreamRequest struct {
	ID    *int `json:"id,omitempty" cbor:"id,omitempty"`
	Lines *int `json:"lines,omitempty" cbor:"lines,omitempty"`
}

// ShutdownMode discriminates graceful vs. emergency shutdown.
type ShutdownMode string

const (
	ShutdownGraceful  ShutdownMode = "Graceful"
	ShutdownEmergency ShutdownMode = "Emergency"
)

type ShutdownRequest struct {
	Mode ShutdownMode `json:"mode" cbor:"mode"`
}
