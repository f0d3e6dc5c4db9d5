package coord

import (
	"time"

	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

// activeRunInstance adapts an ActiveRun to match.Instance so DependencyPhase
// can reuse match.Criteria against another process's active runs without
// match importing coord. Flags are zero — ActiveRun describes a still-active
// instance, so no TerminationStatus (and thus no StatusFlag) applies yet;
// criteria comparing against flag groups simply never match an ActiveRun:
// dependency matches are evaluated against currently active instances, not
// terminated ones.
type activeRunInstance struct {
	run ActiveRun
}

func (a activeRunInstance) JobID() string      { return a.run.Metadata.JobID }
func (a activeRunInstance) InstanceID() string { return a.run.Metadata.InstanceID }
func (a activeRunInstance) Metadata() map[string]string {
	return a.run.Metadata.Combined()
}

func (a activeRunInstance) Phases() []string {
	out := make([]string, len(a.run.Phases))
	for i, p := range a.run.Phases {
		out[i] = p.Name
	}
	return out
}

func (a activeRunInstance) Flags() lifecycle.StatusFlag { return 0 }

func (a activeRunInstance) StateEnteredAt(state lifecycle.RunState) (time.Time, bool) {
	return a.run.Lifecycle.StateChangedAt(state, true)
}

var _ match.Instance = activeRunInstance{}

// findPhaseWithParam locates the first phase declaring key=value among its
// Parameters, returning its metadata and index.
func findPhaseWithParam(phases []lifecycle.PhaseMetadata, key, value string) (lifecycle.PhaseMetadata, int, bool) {
	for i, p := range phases {
		if p.Parameters == nil {
			continue
		}
		if v, ok := p.Parameters[key]; ok && v == value {
			return p, i, true
		}
	}
	return lifecycle.PhaseMetadata{}, -1, false
}

func inWindow(window []lifecycle.PhaseRun, phaseName string) bool {
	for _, r := range window {
		if r.PhaseName == phaseName {
			return true
		}
	}
	return false
}
