// Package event implements the phase-transition and output fan-out
// channels: a dispatcher is a datagram client bound to a
// listener extension, broadcasting JSON events fire-and-forget to every
// socket discovered under that extension; a receiver is a datagram server
// bound to one concrete socket, applying an optional ID filter and
// event-type filter before forwarding to local observers.
package event

import (
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
)

const (
	// ExtTransition is the listener-socket extension for the phase-transition
	// channel.
	ExtTransition = ".transition-listener"
	// ExtOutput is the listener-socket extension for the output channel.
	ExtOutput = ".output-listener"

	TransitionEventType = "phase_transition"
	OutputEventType     = "output"

	maxOutputChars  = 10000
	truncationMark  = ".. (truncated)"
)

// Metadata is the envelope every dispatched event carries:
// `{event_metadata: {event_type}, instance_metadata, event}`.
type Metadata struct {
	EventType string `json:"event_type"`
}

// TransitionEvent is one phase-transition message: one per transition per
// instance.
type TransitionEvent struct {
	EventMetadata    Metadata            `json:"event_metadata"`
	InstanceMetadata identity.Metadata   `json:"instance_metadata"`
	Event            TransitionPayload   `json:"event"`
}

// TransitionPayload is the body of a TransitionEvent.
type TransitionPayload struct {
	PreviousPhase *lifecycle.PhaseRun `json:"previous_phase,omitempty"`
	NewPhase      lifecycle.PhaseRun  `json:"new_phase"`
	Ordinal       int                 `json:"ordinal"`
	JobRun        jobrun.JobRun       `json:"job_run"`
}

// NewTransitionEvent builds a TransitionEvent.
func NewTransitionEvent(meta identity.Metadata, previous *lifecycle.PhaseRun, next lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun) TransitionEvent {
	return TransitionEvent{
		EventMetadata:    Metadata{EventType: TransitionEventType},
		InstanceMetadata: meta,
		Event: TransitionPayload{
			PreviousPhase: previous,
			NewPhase:      next,
			Ordinal:       ordinal,
			JobRun:        jr,
		},
	}
}

// OutputEvent is one produced output line.
type OutputEvent struct {
	EventMetadata    Metadata           `json:"event_metadata"`
	InstanceMetadata identity.Metadata  `json:"instance_metadata"`
	Event            OutputPayload      `json:"event"`
}

// OutputPayload is the body of an OutputEvent.
type OutputPayload struct {
	Phase   lifecycle.PhaseMetadata `json:"phase"`
	Output  string                  `json:"output"`
	IsError bool                    `json:"is_error"`
}

// NewOutputEvent builds an OutputEvent, truncating Output per truncateOutput.
func NewOutputEvent(meta identity.Metadata, phase lifecycle.PhaseMetadata, output string, isError bool) OutputEvent {
	return OutputEvent{
		EventMetadata:    Metadata{EventType: OutputEventType},
		InstanceMetadata: meta,
		Event: OutputPayload{
			Phase:   phase,
			Output:  truncateOutput(output),
			IsError: isError,
		},
	}
}

// truncateOutput caps output at maxOutputChars total, including the
// suffix marker.
func truncateOutput(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	keep := maxOutputChars - len(truncationMark)
	if keep < 0 {
		keep = 0
	}
	return s[:keep] + truncationMark
}
