package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

func terminatedRun(t *testing.T, jobID string, created time.Time, status lifecycle.TerminationStatus, execTime time.Duration) jobrun.JobRun {
	t.Helper()
	var lc lifecycle.Lifecycle
	require.NoError(t, lc.AddPhaseRun(lifecycle.PhaseRun{PhaseName: "INIT", RunState: lifecycle.StateCreated, StartedAt: created}))
	execStart := created.Add(time.Second)
	require.NoError(t, lc.AddPhaseRun(lifecycle.PhaseRun{PhaseName: "EXEC", RunState: lifecycle.StateExecuting, StartedAt: execStart}))
	ended := execStart.Add(execTime)
	require.NoError(t, lc.AddPhaseRun(lifecycle.PhaseRun{PhaseName: "TERMINAL", RunState: lifecycle.StateEnded, StartedAt: ended}))

	jr, err := jobrun.New(identity.NewMetadata(jobID, "", nil), lifecycle.RunSnapshot{
		Lifecycle:   lc,
		Termination: &lifecycle.TerminationInfo{Status: status, TerminatedAt: ended},
	}, nil)
	require.NoError(t, err)
	return jr
}

func TestTransitionObserverStoresOnlyEndedTransitions(t *testing.T) {
	store := NewMemoryStore()
	obs := NewTransitionObserver(store)

	now := time.Now()
	jr := terminatedRun(t, "job-a", now, lifecycle.StatusCompleted, time.Second)

	executing := lifecycle.PhaseRun{PhaseName: "EXEC", RunState: lifecycle.StateExecuting, StartedAt: now}
	obs.OnPhaseTransition(nil, &executing, 1, jr)
	assert.Equal(t, 0, store.Len())

	ended := lifecycle.PhaseRun{PhaseName: "TERMINAL", RunState: lifecycle.StateEnded, StartedAt: now}
	obs.OnPhaseTransition(&executing, &ended, 2, jr)
	assert.Equal(t, 1, store.Len())
}

func TestReadSortsAndPaginates(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store(terminatedRun(t, "job-b", base.Add(2*time.Minute), lifecycle.StatusCompleted, 3*time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base, lifecycle.StatusFailed, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-c", base.Add(time.Minute), lifecycle.StatusCompleted, 2*time.Second)))

	runs, err := store.Read(match.Criteria{}, SortCreated, true, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "job-a", runs[0].Metadata.JobID)
	assert.Equal(t, "job-c", runs[1].Metadata.JobID)
	assert.Equal(t, "job-b", runs[2].Metadata.JobID)

	runs, err = store.Read(match.Criteria{}, SortCreated, false, 2, 0, false)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "job-b", runs[0].Metadata.JobID)

	runs, err = store.Read(match.Criteria{}, SortTime, false, 1, 0, false)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-b", runs[0].Metadata.JobID)

	runs, err = store.Read(match.Criteria{}, SortCreated, true, 0, 2, false)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-b", runs[0].Metadata.JobID)
}

func TestReadLastKeepsLatestPerJob(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base, lifecycle.StatusFailed, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base.Add(time.Minute), lifecycle.StatusCompleted, time.Second)))

	runs, err := store.Read(match.Criteria{}, SortCreated, true, 0, 0, true)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, lifecycle.StatusCompleted, runs[0].Run.Termination.Status)
}

func TestReadFiltersByFlagGroup(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store(terminatedRun(t, "job-ok", base, lifecycle.StatusCompleted, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-bad", base, lifecycle.StatusFailed, time.Second)))

	criteria := match.Criteria{State: &match.StateCriterion{FlagGroups: []lifecycle.StatusFlag{lifecycle.FlagFailure}}}
	runs, err := store.Read(criteria, SortCreated, true, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-bad", runs[0].Metadata.JobID)
}

func TestStatsAggregatesPerJob(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base, lifecycle.StatusCompleted, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base.Add(time.Minute), lifecycle.StatusFailed, 2*time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-b", base, lifecycle.StatusCompleted, time.Second)))

	stats, err := store.Stats(match.Criteria{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "job-a", stats[0].JobID)
	assert.Equal(t, 2, stats[0].Count)
	assert.Equal(t, 1, stats[0].FailedCount)
	assert.Equal(t, 3*time.Second, stats[0].TotalTime)
}

func TestCleanBounds(t *testing.T) {
	store := NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Minute)
	require.NoError(t, store.Store(terminatedRun(t, "job-old", old, lifecycle.StatusCompleted, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-new", recent, lifecycle.StatusCompleted, time.Second)))

	require.NoError(t, store.Clean(0, 24*time.Hour))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Store(terminatedRun(t, "job-extra", recent, lifecycle.StatusCompleted, time.Second)))
	require.NoError(t, store.Clean(1, 0))
	assert.Equal(t, 1, store.Len())
}

func TestRemoveByCriteria(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store(terminatedRun(t, "job-a", base, lifecycle.StatusCompleted, time.Second)))
	require.NoError(t, store.Store(terminatedRun(t, "job-b", base, lifecycle.StatusCompleted, time.Second)))

	require.NoError(t, store.Remove(match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern("job-a", match.StrategyExact)}}))
	assert.Equal(t, 1, store.Len())

	runs, err := store.Read(match.Criteria{}, SortCreated, true, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-b", runs[0].Metadata.JobID)
}
