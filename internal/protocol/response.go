package protocol

import (
	"time"

	"go.pueued.dev/pueued/internal/task"
)

// ResponseKind discriminates the Response union of spec.md §4.G's
// closing paragraph.
type ResponseKind string

const (
	KindRespSuccess   ResponseKind = "Success"
	KindRespFailure   ResponseKind = "Failure"
	KindRespAddedTask ResponseKind = "AddedTask"
	KindRespStatus    ResponseKind = "Status"
	KindRespLog       ResponseKind = "Log"
	KindRespEdit      ResponseKind = "Edit"
	KindRespGroup     ResponseKind = "Group"
	KindRespStream    ResponseKind = "Stream"
	KindRespClose     ResponseKind = "Close"
)

// Response is the single wire envelope returned for every request.
type Response struct {
	Kind ResponseKind `json:"kind" cbor:"kind"`

	Success   *TextResponse      `json:"success,omitempty" cbor:"success,omitempty"`
	Failure   *TextResponse      `json:"failure,omitempty" cbor:"failure,omitempty"`
	AddedTask *AddedTaskResponse `json:"added_task,omitempty" cbor:"added_task,omitempty"`
	Status    *StatusResponse    `json:"status,omitempty" cbor:"status,omitempty"`
	Log       *LogResponse       `json:"log,omitempty" cbor:"log,omitempty"`
	Edit      *EditResponse      `json:"edit,omitempty" cbor:"edit,omitempty"`
	Group     *GroupResponse     `json:"group,omitempty" cbor:"group,omitempty"`
	Stream    *StreamResponse    `json:"stream,omitempty" cbor:"stream,omitempty"`
}

// IsSuccess reports true only for Success and AddedTask, matching
// spec.md §4.G's success() predicate.
func (r Response) IsSuccess() bool {
	return r.Kind == KindRespSuccess || r.Kind == KindRespAddedTask
}

func Success(text string) Response {
	return Response{Kind: KindRespSuccess, Success: &TextResponse{Text: text}}
}

func Failure(text string) Response {
	return Response{Kind: KindRespFailure, Failure: &TextResponse{Text: text}}
}

func Close() Response {
	return Response{Kind: KindRespClose}
}

type TextResponse struct {
	Text string `json:"text" cbor:"text"`
}

type AddedTaskResponse struct {
	ID          int        `json:"id" cbor:"id"`
	EnqueueAt   *time.Time `json:"enqueue_at,omitempty" cbor:"enqueue_at,omitempty"`
	GroupPaused bool       `json:"group_paused,omitempty" cbor:"group_paused,omitempty"`
}

type StatusResponse struct {
	Tasks  map[int]task.Task     `json:"tasks" cbor:"tasks"`
	Groups map[string]task.Group `json:"groups" cbor:"groups"`
}

type TaskLog struct {
	Task           task.Task `json:"task" cbor:"task"`
	Output         []byte    `json:"output,omitempty" cbor:"output,omitempty"`
	OutputComplete bool      `json:"output_complete" cbor:"output_complete"`
}

type LogResponse struct {
	Logs map[int]TaskLog `json:"logs" cbor:"logs"`
}

type EditableTask struct {
	ID       int     `json:"id" cbor:"id"`
	Command  string  `json:"command" cbor:"command"`
	Path     string  `json:"path" cbor:"path"`
	Label    *string `json:"label,omitempty" cbor:"label,omitempty"`
	Priority int     `json:"priority" cbor:"priority"`
}

type EditResponse struct {
	Tasks []EditableTask `json:"tasks" cbor:"tasks"`
}

type GroupResponse struct {
	Groups map[string]task.Group `json:"groups" cbor:"groups"`
}

type StreamResponse struct {
	Chunk []byte `json:"chunk,omitempty" cbor:"chunk,omitempty"`
}
