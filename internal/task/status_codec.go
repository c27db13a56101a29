package task

import "time"

// statusDTO is the flat, serialization-friendly shape of Status used by
// both the state.json persistence format (§6) and the CBOR wire codec
// (§4.A). Status is a Go interface without a single concrete layout, so
// encoders/decoders work through this struct instead of the interface
// directly — the DESIGN.md ledger explains why this beats a bag of
// optional fields on Task itself: the tagging lives in one narrow
// translation layer instead of leaking into every consumer of Task.
type statusDTO struct {
	Kind Kind `json:"kind" cbor:"kind"`

	// Stashed / general optional timestamp.
	EnqueueAt *time.Time `json:"enqueue_at,omitempty" cbor:"enqueue_at,omitempty"`

	EnqueuedAt *time.Time `json:"enqueued_at,omitempty" cbor:"enqueued_at,omitempty"`
	Start      *time.Time `json:"start,omitempty" cbor:"start,omitempty"`
	End        *time.Time `json:"end,omitempty" cbor:"end,omitempty"`

	Result *resultDTO `json:"result,omitempty" cbor:"result,omitempty"`

	// Locked carries the prior status, recursively encoded.
	Previous *statusDTO `json:"previous,omitempty" cbor:"previous,omitempty"`
}

type resultDTO struct {
	Kind     ResultKind `json:"kind" cbor:"kind"`
	ExitCode int        `json:"exit_code,omitempty" cbor:"exit_code,omitempty"`
	Message  string     `json:"message,omitempty" cbor:"message,omitempty"`
}

func toResultDTO(r Result) *resultDTO {
	return &resultDTO{Kind: r.Kind, ExitCode: r.ExitCode, Message: r.Message}
}

func (d *resultDTO) toResult() Result {
	if d == nil {
		return Result{}
	}
	return Result{Kind: d.Kind, ExitCode: d.ExitCode, Message: d.Message}
}

// toDTO flattens a Status into its wire shape.
func toDTO(s Status) statusDTO {
	switch v := s.(type) {
	case Locked:
		prev := toDTO(v.Previous)
		return statusDTO{Kind: KindLocked, Previous: &prev}
	case Stashed:
		return statusDTO{Kind: KindStashed, EnqueueAt: v.EnqueueAt}
	case Queued:
		return statusDTO{Kind: KindQueued, EnqueuedAt: &v.EnqueuedAt}
	case Running:
		return statusDTO{Kind: KindRunning, EnqueuedAt: &v.EnqueuedAt, Start: &v.Start}
	case Paused:
		return statusDTO{Kind: KindPaused, EnqueuedAt: &v.EnqueuedAt, Start: &v.Start}
	case Done:
		return statusDTO{
			Kind:       KindDone,
			EnqueuedAt: &v.EnqueuedAt,
			Start:      &v.Start,
			End:        &v.End,
			Result:     toResultDTO(v.Result),
		}
	default:
		return statusDTO{}
	}
}

// fromDTO reconstructs a Status from its wire shape. Zero-valued
// timestamps are tolerated, since spec.md §6 asks consumers to
// "tolerate additional fields" and we extend that leniency to missing
// ones on restore as well.
func fromDTO(d statusDTO) Status {
	switch d.Kind {
	case KindLocked:
		var prev Status = Queued{}
		if d.Previous != nil {
			prev = fromDTO(*d.Previous)
		}
		return Locked{Previous: prev}
	case KindStashed:
		return Stashed{EnqueueAt: d.EnqueueAt}
	case KindQueued:
		return Queued{EnqueuedAt: deref(d.EnqueuedAt)}
	case KindRunning:
		return Running{EnqueuedAt: deref(d.EnqueuedAt), Start: deref(d.Start)}
	case KindPaused:
		return Paused{EnqueuedAt: deref(d.EnqueuedAt), Start: deref(d.Start)}
	case KindDone:
		return Done{
			EnqueuedAt: deref(d.EnqueuedAt),
			Start:      deref(d.Start),
			End:        deref(d.End),
			Result:     d.Result.toResult(),
		}
	default:
		return Queued{EnqueuedAt: time.Now()}
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
