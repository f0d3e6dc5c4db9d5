// Package lifecycle implements the ordered, append-only phase-run log and
// the termination/fault model it terminates in.
package lifecycle

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicatePhase is returned by AddPhaseRun when a phase name has
// already appeared in the log; phase names are unique within a phaser.
var ErrDuplicatePhase = errors.New("lifecycle: phase name already recorded")

// Lifecycle is the ordered, append-only collection of PhaseRun entries
// keyed by phase name. The zero value is ready to use.
//
// Lifecycle is not safe for concurrent use; callers (the Phaser) serialize
// access under their own lock and hand out Copy() snapshots to readers.
type Lifecycle struct {
	runs  []PhaseRun
	index map[string]int
}

// AddPhaseRun is the lifecycle's one mutation: it closes out the
// previous run (EndedAt = pr.StartedAt) and appends pr as the new current
// run. Returns ErrDuplicatePhase if pr.PhaseName was already recorded.
func (l *Lifecycle) AddPhaseRun(pr PhaseRun) error {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if _, exists := l.index[pr.PhaseName]; exists {
		return ErrDuplicatePhase
	}
	if n := len(l.runs); n > 0 {
		started := pr.StartedAt
		l.runs[n-1].EndedAt = &started
	}
	l.index[pr.PhaseName] = len(l.runs)
	l.runs = append(l.runs, pr)
	return nil
}

// Current returns the most recently added run, or nil if empty.
func (l *Lifecycle) Current() *PhaseRun {
	if len(l.runs) == 0 {
		return nil
	}
	r := l.runs[len(l.runs)-1]
	return &r
}

// Previous returns the run before Current, or nil if there are fewer than
// two runs.
func (l *Lifecycle) Previous() *PhaseRun {
	if len(l.runs) < 2 {
		return nil
	}
	r := l.runs[len(l.runs)-2]
	return &r
}

// Ordinal returns the zero-based position of phaseName in the log.
func (l *Lifecycle) Ordinal(phaseName string) (int, bool) {
	i, ok := l.index[phaseName]
	return i, ok
}

// PhaseStartedAt returns the StartedAt of the run for phaseName.
func (l *Lifecycle) PhaseStartedAt(phaseName string) (time.Time, bool) {
	i, ok := l.index[phaseName]
	if !ok {
		return time.Time{}, false
	}
	return l.runs[i].StartedAt, true
}

// StateChangedAt returns the first (or, if first is false, the last)
// timestamp at which a run with the given RunState was entered.
func (l *Lifecycle) StateChangedAt(state RunState, first bool) (time.Time, bool) {
	if first {
		for _, r := range l.runs {
			if r.RunState == state {
				return r.StartedAt, true
			}
		}
		return time.Time{}, false
	}
	found := false
	var t time.Time
	for _, r := range l.runs {
		if r.RunState == state {
			t = r.StartedAt
			found = true
		}
	}
	return t, found
}

// TotalTimeInState sums the duration of every run whose RunState equals
// state, using the derived per-run Duration (EndedAt or now).
func (l *Lifecycle) TotalTimeInState(state RunState) time.Duration {
	var total time.Duration
	for _, r := range l.runs {
		if r.RunState == state {
			total += r.Duration()
		}
	}
	return total
}

// RunsBetween scans in order and collects runs from the first occurrence
// of phase a up to and including the first subsequent occurrence of phase
// b. If a == b, returns the single matching run. If b is never reached
// after a, returns nil.
func (l *Lifecycle) RunsBetween(a, b string) []PhaseRun {
	startIdx, ok := l.index[a]
	if !ok {
		return nil
	}
	if a == b {
		return []PhaseRun{l.runs[startIdx]}
	}
	for i := startIdx + 1; i < len(l.runs); i++ {
		if l.runs[i].PhaseName == b {
			out := make([]PhaseRun, i-startIdx+1)
			copy(out, l.runs[startIdx:i+1])
			return out
		}
	}
	return nil
}

// IsEnded reports whether the log contains a run with RunState StateEnded.
func (l *Lifecycle) IsEnded() bool {
	for _, r := range l.runs {
		if r.RunState == StateEnded {
			return true
		}
	}
	return false
}

// Runs returns a defensive copy of the full run slice, in order.
func (l *Lifecycle) Runs() []PhaseRun {
	out := make([]PhaseRun, len(l.runs))
	copy(out, l.runs)
	return out
}

// Copy deep-copies the lifecycle: an independent Lifecycle sharing no
// state with l, safe to hand to readers outside the Phaser's lock.
func (l *Lifecycle) Copy() Lifecycle {
	var out Lifecycle
	out.runs = make([]PhaseRun, len(l.runs))
	out.index = make(map[string]int, len(l.index))
	for i, r := range l.runs {
		if r.EndedAt != nil {
			ended := *r.EndedAt
			r.EndedAt = &ended
		}
		out.runs[i] = r
	}
	for k, v := range l.index {
		out.index[k] = v
	}
	return out
}

// MarshalJSON encodes the lifecycle as its ordered run list; the index is
// derived, not serialized.
func (l Lifecycle) MarshalJSON() ([]byte, error) {
	if l.runs == nil {
		return json.Marshal([]PhaseRun{})
	}
	return json.Marshal(l.runs)
}

// UnmarshalJSON rebuilds the lifecycle (including its index) from an
// ordered run list, round-tripping with MarshalJSON.
func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	var runs []PhaseRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}
	*l = Lifecycle{}
	for _, r := range runs {
		if err := l.AddPhaseRun(r); err != nil {
			return err
		}
	}
	return nil
}
