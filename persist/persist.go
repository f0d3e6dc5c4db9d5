// Package persist defines the persistence collaborator interface the core
// drives: the core persists nothing itself;
// a Store is fed by a phase-transition observer that stores the JobRun when
// the new phase has run state ENDED. The interface is specified
// independently of any concrete backend; MemoryStore is the reference
// implementation used by tests and the demo binary.
package persist

import (
	"time"

	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

var log = logging.New("persist")

// Sort selects the ordering of Read results.
type Sort int

const (
	// SortCreated orders by the instant the instance was created (INIT).
	SortCreated Sort = iota
	// SortEnded orders by the termination timestamp.
	SortEnded
	// SortTime orders by total executing time.
	SortTime
)

// JobStats aggregates the stored runs of one job id.
type JobStats struct {
	JobID        string        `json:"job_id"`
	Count        int           `json:"count"`
	FirstCreated time.Time     `json:"first_created"`
	LastEnded    time.Time     `json:"last_ended"`
	FailedCount  int           `json:"failed_count"`
	TotalTime    time.Duration `json:"total_time"`
}

// Store is the persistence collaborator interface: store terminated
// runs, read them back with criteria/sort/pagination, aggregate stats, and
// prune.
type Store interface {
	Store(jr jobrun.JobRun) error
	// Read returns stored runs matching criteria, ordered by sort
	// (ascending when asc), skipping offset and returning at most limit
	// (limit <= 0 means no bound). With last, only the most recent run per
	// job id is considered.
	Read(criteria match.Criteria, sort Sort, asc bool, limit, offset int, last bool) ([]jobrun.JobRun, error)
	Stats(criteria match.Criteria) ([]JobStats, error)
	// Clean drops the oldest records beyond maxRecords and any record older
	// than maxAge (zero values disable the respective bound).
	Clean(maxRecords int, maxAge time.Duration) error
	Remove(criteria match.Criteria) error
}

// TransitionObserver adapts a Store to the Runner's phase-transition
// observer registry: it stores the JobRun once on the transition that
// enters a run with state ENDED.
type TransitionObserver struct {
	store Store
}

// NewTransitionObserver wraps store.
func NewTransitionObserver(store Store) *TransitionObserver {
	return &TransitionObserver{store: store}
}

// OnPhaseTransition implements instance.TransitionObserver.
func (o *TransitionObserver) OnPhaseTransition(_, curr *lifecycle.PhaseRun, _ int, jr jobrun.JobRun) {
	if curr == nil || curr.RunState != lifecycle.StateEnded {
		return
	}
	if err := o.store.Store(jr); err != nil {
		log.Error("failed to store terminated run", "job_id", jr.Metadata.JobID, "instance_id", jr.Metadata.InstanceID, "err", err)
	}
}

var _ instance.TransitionObserver = (*TransitionObserver)(nil)

// runInstance adapts a stored JobRun to match.Instance so read/remove reuse
// the same criteria model the API server applies to live instances.
type runInstance struct {
	jr jobrun.JobRun
}

func (r runInstance) JobID() string              { return r.jr.Metadata.JobID }
func (r runInstance) InstanceID() string         { return r.jr.Metadata.InstanceID }
func (r runInstance) Metadata() map[string]string { return r.jr.Metadata.Combined() }

func (r runInstance) Phases() []string {
	out := make([]string, len(r.jr.Run.Phases))
	for i, p := range r.jr.Run.Phases {
		out[i] = p.Name
	}
	return out
}

func (r runInstance) Flags() lifecycle.StatusFlag {
	if r.jr.Run.Termination == nil {
		return 0
	}
	return r.jr.Run.Termination.Status.Flags()
}

func (r runInstance) StateEnteredAt(state lifecycle.RunState) (time.Time, bool) {
	return r.jr.Run.Lifecycle.StateChangedAt(state, true)
}

var _ match.Instance = runInstance{}

func createdAt(jr jobrun.JobRun) time.Time {
	if t, ok := jr.Run.Lifecycle.StateChangedAt(lifecycle.StateCreated, true); ok {
		return t
	}
	return time.Time{}
}

func endedAt(jr jobrun.JobRun) time.Time {
	if jr.Run.Termination != nil {
		return jr.Run.Termination.TerminatedAt
	}
	return time.Time{}
}

func executingTime(jr jobrun.JobRun) time.Duration {
	return jr.Run.Lifecycle.TotalTimeInState(lifecycle.StateExecuting)
}
