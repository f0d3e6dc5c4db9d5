package lifecycle

import "time"

// PhaseRun is a single entry in the lifecycle log. EndedAt is set when
// the next phase begins, or, for the terminal phase, stays nil until the
// process exits — which is why per-phase duration is derived rather than
// stored.
type PhaseRun struct {
	PhaseName string     `json:"phase_name"`
	RunState  RunState   `json:"run_state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns EndedAt-StartedAt if EndedAt is set, or now-StartedAt
// (an in-progress duration) otherwise.
func (r PhaseRun) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// PhaseMetadata describes a phase as declared on a Phaser: its name, the
// RunState it represents, and the parameters copied into instance metadata
// while it runs.
type PhaseMetadata struct {
	Name       string            `json:"name"`
	RunState   RunState          `json:"run_state"`
	Parameters map[string]string `json:"parameters,omitempty"`
}
