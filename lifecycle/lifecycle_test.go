package lifecycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, l *Lifecycle, name string, state RunState, at time.Time) {
	t.Helper()
	require.NoError(t, l.AddPhaseRun(PhaseRun{PhaseName: name, RunState: state, StartedAt: at}))
}

func TestLifecycleAddPhaseRunClosesPrevious(t *testing.T) {
	var l Lifecycle
	t0 := time.Now()
	mustAdd(t, &l, "INIT", StateCreated, t0)
	mustAdd(t, &l, "A", StatePending, t0.Add(time.Second))

	prev := l.Previous()
	require.NotNil(t, prev)
	require.NotNil(t, prev.EndedAt)
	assert.Equal(t, t0.Add(time.Second), *prev.EndedAt)
	assert.Nil(t, l.Current().EndedAt)
}

func TestLifecycleDuplicatePhaseRejected(t *testing.T) {
	var l Lifecycle
	t0 := time.Now()
	mustAdd(t, &l, "A", StatePending, t0)
	err := l.AddPhaseRun(PhaseRun{PhaseName: "A", RunState: StatePending, StartedAt: t0})
	assert.ErrorIs(t, err, ErrDuplicatePhase)
}

func TestRunsBetween(t *testing.T) {
	var l Lifecycle
	t0 := time.Now()
	mustAdd(t, &l, "INIT", StateCreated, t0)
	mustAdd(t, &l, "A", StatePending, t0.Add(time.Second))
	mustAdd(t, &l, "B", StateEvaluating, t0.Add(2*time.Second))
	mustAdd(t, &l, "C", StateExecuting, t0.Add(3*time.Second))

	runs := l.RunsBetween("A", "C")
	require.Len(t, runs, 3)
	assert.Equal(t, "A", runs[0].PhaseName)
	assert.Equal(t, "C", runs[2].PhaseName)

	assert.Nil(t, l.RunsBetween("C", "Z"))
	assert.Nil(t, l.RunsBetween("Z", "A"))

	single := l.RunsBetween("B", "B")
	require.Len(t, single, 1)
	assert.Equal(t, "B", single[0].PhaseName)
}

func TestIsEndedAndTotalTimeInState(t *testing.T) {
	var l Lifecycle
	t0 := time.Now()
	mustAdd(t, &l, "INIT", StateCreated, t0)
	assert.False(t, l.IsEnded())

	mustAdd(t, &l, "EXEC", StateExecuting, t0.Add(time.Second))
	ended := t0.Add(3 * time.Second)
	mustAdd(t, &l, "TERMINAL", StateEnded, ended)
	assert.True(t, l.IsEnded())
	assert.Equal(t, 2*time.Second, l.TotalTimeInState(StateExecuting))
}

func TestLifecycleCopyIsIndependent(t *testing.T) {
	var l Lifecycle
	t0 := time.Now()
	mustAdd(t, &l, "INIT", StateCreated, t0)

	snap := l.Copy()
	mustAdd(t, &l, "A", StatePending, t0.Add(time.Second))

	assert.Nil(t, snap.Current().EndedAt, "copy must not see the later mutation's EndedAt backfill")
}

func TestLifecycleJSONRoundTrip(t *testing.T) {
	var l Lifecycle
	t0 := time.Now().UTC().Round(time.Millisecond)
	mustAdd(t, &l, "INIT", StateCreated, t0)
	mustAdd(t, &l, "TERMINAL", StateEnded, t0.Add(time.Second))

	data, err := json.Marshal(l)
	require.NoError(t, err)

	var out Lifecycle
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, l.Runs(), out.Runs())
}

func TestTerminationStatusFlags(t *testing.T) {
	assert.True(t, StatusFailed.Has(FlagFailure))
	assert.True(t, StatusFailed.Has(FlagExecuted))
	assert.False(t, StatusCompleted.Has(FlagFailure))
	assert.True(t, StatusCompleted.MatchesAnyGroup([]StatusFlag{FlagFailure, FlagSuccess}))
	assert.False(t, StatusCreated.MatchesAnyGroup([]StatusFlag{FlagExecuted}))
}

func TestRunErrorFaultType(t *testing.T) {
	re := NewRunError(ErrDuplicatePhase)
	assert.Equal(t, "*errors.errorString", re.FaultType)
	assert.Equal(t, ErrDuplicatePhase.Error(), re.Reason)
}
