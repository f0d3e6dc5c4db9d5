package lifecycle

import "time"

// TerminationInfo records why and how a lifecycle ended. Exactly one
// of Failure/Error may be set; both may be nil (a clean exit).
type TerminationInfo struct {
	Status       TerminationStatus `json:"termination_status"`
	TerminatedAt time.Time         `json:"terminated_at"`
	Failure      *Fault            `json:"failure,omitempty"`
	Error        *RunError         `json:"error,omitempty"`
}

// RunSnapshot is the immutable tuple a Phaser hands out atomically under its
// transition lock: the declared phase metadata, a deep
// copy of the lifecycle log, and the termination info once set.
type RunSnapshot struct {
	Phases      []PhaseMetadata  `json:"phases"`
	Lifecycle   Lifecycle        `json:"lifecycle"`
	Termination *TerminationInfo `json:"termination,omitempty"`
}
